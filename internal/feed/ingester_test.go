package feed

import (
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
)

func TestEntryToEpisode(t *testing.T) {
	published := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		item       *gofeed.Item
		wantGUID   string
		wantReason string
	}{
		{
			"accepted",
			&gofeed.Item{
				GUID:            "guid-1",
				Title:           "Episode One",
				PublishedParsed: &published,
				Enclosures:      []*gofeed.Enclosure{{URL: "https://x/e1.mp3", Type: "audio/mpeg"}},
			},
			"guid-1", "",
		},
		{
			"no_enclosure",
			&gofeed.Item{GUID: "guid-2", PublishedParsed: &published},
			"", "no audio enclosure",
		},
		{
			"video_enclosure_rejected",
			&gofeed.Item{
				GUID:            "guid-3",
				PublishedParsed: &published,
				Enclosures:      []*gofeed.Enclosure{{URL: "https://x/e.mp4", Type: "video/mp4"}},
			},
			"", "no audio enclosure",
		},
		{
			"no_date",
			&gofeed.Item{
				GUID:       "guid-4",
				Enclosures: []*gofeed.Enclosure{{URL: "https://x/e4.mp3", Type: "audio/mpeg"}},
			},
			"", "no parseable publish date",
		},
		{
			"updated_date_fallback",
			&gofeed.Item{
				GUID:          "guid-5",
				UpdatedParsed: &published,
				Enclosures:    []*gofeed.Enclosure{{URL: "https://x/e5.mp3", Type: "audio/mpeg"}},
			},
			"guid-5", "",
		},
		{
			"missing_guid_uses_enclosure_url",
			&gofeed.Item{
				PublishedParsed: &published,
				Enclosures:      []*gofeed.Enclosure{{URL: "https://x/e6.mp3", Type: "audio/mpeg"}},
			},
			"https://x/e6.mp3", "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, reason := entryToEpisode(tt.item, 7)
			if tt.wantReason != "" {
				if ep != nil {
					t.Fatalf("entryToEpisode accepted entry, want skip %q", tt.wantReason)
				}
				if reason != tt.wantReason {
					t.Errorf("reason = %q, want %q", reason, tt.wantReason)
				}
				return
			}
			if ep == nil {
				t.Fatalf("entryToEpisode skipped entry: %s", reason)
			}
			if ep.EpisodeGUID != tt.wantGUID {
				t.Errorf("EpisodeGUID = %q, want %q", ep.EpisodeGUID, tt.wantGUID)
			}
			if ep.FeedID != 7 {
				t.Errorf("FeedID = %d, want 7", ep.FeedID)
			}
		})
	}
}

func TestParseITunesDuration(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"90", 90, true},
		{"02:30", 150, true},
		{"1:00:05", 3605, true},
		{"", 0, false},
		{"abc", 0, false},
		{"1:2:3:4", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseITunesDuration(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseITunesDuration(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
