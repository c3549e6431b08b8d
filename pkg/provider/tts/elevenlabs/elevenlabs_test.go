package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxgate/pkg/provider"
	"github.com/MrWong99/voxgate/pkg/provider/tts"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") should return an error")
	}
}

func TestSynthesize(t *testing.T) {
	var gotPath, gotKey string
	var gotBody synthesizeBody

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Write([]byte("fake-mp3-bytes"))
	}))
	defer ts.Close()

	p, err := New("secret", WithVoice("voice-1"), WithModel("eleven_flash_v2_5"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.baseURLFmt = ts.URL + "/v1/text-to-speech/%s?output_format=%s"

	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "hello there"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if string(audio.Data) != "fake-mp3-bytes" {
		t.Errorf("Data = %q, want %q", audio.Data, "fake-mp3-bytes")
	}
	if audio.Format != "audio/mpeg" {
		t.Errorf("Format = %q, want %q", audio.Format, "audio/mpeg")
	}
	if gotPath != "/v1/text-to-speech/voice-1" {
		t.Errorf("path = %q, want the voice-1 endpoint", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("xi-api-key = %q, want %q", gotKey, "secret")
	}
	if gotBody.Text != "hello there" {
		t.Errorf("body text = %q, want %q", gotBody.Text, "hello there")
	}
	if gotBody.ModelID != "eleven_flash_v2_5" {
		t.Errorf("model_id = %q, want eleven_flash_v2_5", gotBody.ModelID)
	}
}

func TestSynthesize_RequestVoiceOverridesDefault(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("x"))
	}))
	defer ts.Close()

	p, _ := New("secret", WithVoice("default-voice"))
	p.baseURLFmt = ts.URL + "/v1/text-to-speech/%s?output_format=%s"

	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", Voice: "other"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/other" {
		t.Errorf("path = %q, want the request voice", gotPath)
	}
}

func TestSynthesize_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer ts.Close()

	p, _ := New("secret")
	p.baseURLFmt = ts.URL + "/v1/text-to-speech/%s?output_format=%s"

	_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err == nil {
		t.Fatal("Synthesize should fail on non-200 status")
	}
	var f *provider.Fault
	if !errors.As(err, &f) {
		t.Fatalf("error is %T, want *provider.Fault", err)
	}
	if f.Class != provider.FaultBadResponse {
		t.Errorf("Class = %v, want %v", f.Class, provider.FaultBadResponse)
	}
}

func TestSynthesize_EmptyBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	defer ts.Close()

	p, _ := New("secret")
	p.baseURLFmt = ts.URL + "/v1/text-to-speech/%s?output_format=%s"

	_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if provider.ClassOf(err) != provider.FaultBadResponse {
		t.Errorf("ClassOf = %v, want %v", provider.ClassOf(err), provider.FaultBadResponse)
	}
}

func TestConvertVoices(t *testing.T) {
	vr := voicesResponse{Voices: []elevenLabsVoice{
		{VoiceID: "v1", Name: "Alice", Category: "premade", Labels: map[string]string{"accent": "british"}},
		{VoiceID: "v2", Name: "Bob"},
	}}

	voices := convertVoices(vr)
	if len(voices) != 2 {
		t.Fatalf("len = %d, want 2", len(voices))
	}
	if voices[0].ID != "v1" || voices[0].Name != "Alice" {
		t.Errorf("voices[0] = %+v", voices[0])
	}
	if voices[0].Metadata["category"] != "premade" {
		t.Errorf("category = %q, want premade", voices[0].Metadata["category"])
	}
	if voices[0].Metadata["accent"] != "british" {
		t.Errorf("accent = %q, want british", voices[0].Metadata["accent"])
	}
}
