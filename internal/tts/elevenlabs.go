package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

// callTimeout bounds one synthesis request.
const callTimeout = 180 * time.Second

// VoiceSettings mirror the provider's per-voice tuning knobs.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DialogueInput is one speaker line for the text-to-dialogue endpoint.
type DialogueInput struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

// Client calls the ElevenLabs synthesis APIs. Each call retries with
// exponential backoff: base 5s, doubling, three retries.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		http:    &http.Client{Timeout: callTimeout},
		log:     log,
	}
}

// discreteStabilityModels only accept stability 0.0, 0.5, or 1.0.
var discreteStabilityModels = map[string]bool{
	"eleven_v3": true,
}

// QuantizeStability snaps a continuous stability value to the nearest
// discrete step for models that only accept 0.0/0.5/1.0.
func QuantizeStability(model string, stability float64) float64 {
	if !discreteStabilityModels[model] {
		return stability
	}
	switch {
	case stability < 0.25:
		return 0.0
	case stability < 0.75:
		return 0.5
	default:
		return 1.0
	}
}

// Synthesize renders one single-voice text to MP3 bytes.
func (c *Client) Synthesize(ctx context.Context, model, voiceID, text string, settings VoiceSettings) ([]byte, error) {
	settings.Stability = QuantizeStability(model, settings.Stability)
	payload := map[string]any{
		"text":           text,
		"model_id":       model,
		"voice_settings": settings,
	}
	return c.post(ctx, fmt.Sprintf("%s/text-to-speech/%s", c.baseURL, voiceID), payload)
}

// SynthesizeDialogue renders one multi-voice chunk to MP3 bytes.
func (c *Client) SynthesizeDialogue(ctx context.Context, model string, inputs []DialogueInput) ([]byte, error) {
	payload := map[string]any{
		"model_id": model,
		"inputs":   inputs,
	}
	return c.post(ctx, c.baseURL+"/text-to-dialogue", payload)
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var audio []byte
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("xi-api-key", c.apiKey)

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("elevenlabs API error (status %d): %.300s", resp.StatusCode, string(data))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}
			if len(data) == 0 {
				return fmt.Errorf("elevenlabs returned empty audio")
			}
			audio = data
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(4), // initial call + 3 retries
		retry.Delay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug().Uint("attempt", n+1).Err(err).Msg("tts call retrying")
		}),
	)
	if err != nil {
		return nil, err
	}
	return audio, nil
}
