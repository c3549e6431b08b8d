package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/provider/textgen"
	textgenmock "github.com/MrWong99/voxgate/pkg/provider/textgen/mock"
)

func TestNew_EmptyConfigLeavesAdaptersNil(t *testing.T) {
	a, err := New(&config.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.textgen != nil || a.speech != nil || a.tts != nil {
		t.Error("expected all adapters nil for an empty config")
	}
	if a.gw.AIConfigured() || a.gw.SpeechConfigured() {
		t.Error("gateway reports adapters configured")
	}
}

func TestNew_UnknownProviders(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{
			name: "speech",
			cfg: config.Config{Speech: config.SpeechConfig{
				ProviderEntry: config.ProviderEntry{Provider: "azure", APIKey: "k"},
			}},
		},
		{
			name: "tts",
			cfg: config.Config{TTS: config.TTSConfig{
				ProviderEntry: config.ProviderEntry{Provider: "polly", APIKey: "k"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New accepted an unsupported provider")
			}
		})
	}
}

func TestNew_TextGenRequiresAPIKey(t *testing.T) {
	cfg := config.Config{TextGen: config.TextGenConfig{
		Primary: config.ProviderEntry{Provider: "openai", Model: "gpt-4o-mini"},
	}}
	if _, err := New(&cfg); err == nil {
		t.Error("New accepted an openai backend without an API key")
	}
}

func TestHandler_HealthAndStatus(t *testing.T) {
	a, err := New(&config.Config{},
		WithTextGen(&textgenmock.Provider{Reply: &textgen.Reply{Text: "ok"}}),
		WithVersion("1.2.3"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Version      string `json:"version"`
		AIConfigured bool   `json:"aiConfigured"`
		Connections  int    `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", body.Version)
	}
	if !body.AIConfigured {
		t.Error("aiConfigured = false, want true with injected adapter")
	}
	if body.Connections != 0 {
		t.Errorf("connections = %d, want 0", body.Connections)
	}
}

func TestHandler_MetricsEndpoint(t *testing.T) {
	a, err := New(&config.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandler_WebSocketWelcome(t *testing.T) {
	a, err := New(&config.Config{},
		WithTextGen(&textgenmock.Provider{Reply: &textgen.Reply{Text: "ok"}}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if m["type"] != "connection" {
		t.Errorf("first frame type = %v, want connection", m["type"])
	}
	if m["aiConfigured"] != true {
		t.Errorf("aiConfigured = %v, want true", m["aiConfigured"])
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a, err := New(&config.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestMimeForFormat(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"mp3_44100_128", "audio/mpeg"},
		{"pcm_16000", "audio/pcm"},
		{"ulaw_8000", "audio/basic"},
		{"opus_48000_64", "audio/opus"},
		{"something_else", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := mimeForFormat(tt.format); got != tt.want {
			t.Errorf("mimeForFormat(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}
