package digest

import "testing"

func TestPerEpisodeBudget(t *testing.T) {
	tests := []struct {
		episodes int
		want     int
	}{
		{1, 20000},  // 90000/1 clamped down
		{5, 18000},  // 90000/5
		{10, 9000},  // 90000/10
		{50, 2000},  // clamped up
		{0, 20000},  // degenerate input treated as 1
	}
	for _, tt := range tests {
		got := perEpisodeBudget(tt.episodes)
		if got != tt.want {
			t.Errorf("perEpisodeBudget(%d) = %d, want %d", tt.episodes, got, tt.want)
		}
		if got < 2000 || got > 20000 {
			t.Errorf("perEpisodeBudget(%d) = %d, outside [2000, 20000]", tt.episodes, got)
		}
	}
}
