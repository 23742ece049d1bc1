package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk_0000.mp3")
	if err := os.WriteFile(path, []byte("not really mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWhisperTranscribe(t *testing.T) {
	var gotModel, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		w.Write([]byte(`{"text": "hello world", "language": "en", "duration": 2.5}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "base", "", 10*time.Second)
	resp, err := wc.Transcribe(context.Background(), writeTempAudio(t), TranscribeOpts{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "hello world" {
		t.Errorf("Text = %q, want hello world", resp.Text)
	}
	if resp.Duration != 2.5 {
		t.Errorf("Duration = %v, want 2.5", resp.Duration)
	}
	if gotModel != "base" {
		t.Errorf("model field = %q, want base", gotModel)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q, want en (default)", gotLanguage)
	}
}

func TestWhisperTranscribeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "base", "", 10*time.Second)
	_, err := wc.Transcribe(context.Background(), writeTempAudio(t), TranscribeOpts{})
	if err == nil {
		t.Fatal("Transcribe succeeded on 429")
	}
	ae, ok := err.(*apiError)
	if !ok {
		t.Fatalf("error type = %T, want *apiError", err)
	}
	if ae.status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", ae.status)
	}
	if ae.retryAfter != 7*time.Second {
		t.Errorf("retryAfter = %v, want 7s", ae.retryAfter)
	}
}
