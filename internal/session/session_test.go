package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/internal/transcript"
	speechmock "github.com/MrWong99/voxgate/pkg/provider/speech/mock"
	"github.com/MrWong99/voxgate/pkg/provider/textgen"
	textgenmock "github.com/MrWong99/voxgate/pkg/provider/textgen/mock"
	"github.com/MrWong99/voxgate/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxgate/pkg/provider/tts/mock"
	"github.com/MrWong99/voxgate/pkg/types"
)

// newTestSession starts a session whose writes land on the returned channel
// as decoded JSON frames.
func newTestSession(t *testing.T, cfg session.Config, opts ...session.Option) (*session.Session, <-chan map[string]any) {
	t.Helper()
	frames := make(chan map[string]any, 64)
	write := func(_ context.Context, data []byte) error {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Errorf("session wrote invalid JSON: %v", err)
			return nil
		}
		frames <- m
		return nil
	}

	s := session.New("session-test", cfg, write, opts...)
	s.Start(context.Background())
	t.Cleanup(s.Close)
	return s, frames
}

// nextFrame waits for one outbound frame.
func nextFrame(t *testing.T, frames <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case m := <-frames:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return nil
	}
}

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPingPong(t *testing.T) {
	s, frames := newTestSession(t, session.Config{})

	s.Handle(context.Background(), protocol.Ping{})

	m := nextFrame(t, frames)
	if m["type"] != "pong" {
		t.Errorf("type = %v, want pong", m["type"])
	}
}

func TestTestEcho(t *testing.T) {
	s, frames := newTestSession(t, session.Config{})

	s.Handle(context.Background(), protocol.TestEcho{Message: "hello"})

	m := nextFrame(t, frames)
	if m["type"] != "test_response" {
		t.Fatalf("type = %v, want test_response", m["type"])
	}
	if m["message"] != "Test message received successfully" {
		t.Errorf("message = %v, want fixed acknowledgement text", m["message"])
	}
	if m["originalMessage"] != "hello" {
		t.Errorf("originalMessage = %v, want hello", m["originalMessage"])
	}
}

func TestUnknownTypeEchoed(t *testing.T) {
	s, frames := newTestSession(t, session.Config{})

	raw := json.RawMessage(`{"type":"mystery"}`)
	s.Handle(context.Background(), protocol.Unknown{WireType: "mystery", Raw: raw})

	m := nextFrame(t, frames)
	if m["type"] != "echo" || m["originalType"] != "mystery" {
		t.Errorf("frame = %v", m)
	}
}

func TestChatTurn_Success(t *testing.T) {
	gen := &textgenmock.Provider{Reply: &textgen.Reply{Text: "4"}}
	s, frames := newTestSession(t, session.Config{}, session.WithTextGen(gen))

	s.Handle(context.Background(), protocol.ChatText{Text: "2+2?"})

	m := nextFrame(t, frames)
	if m["type"] != "chat_response" {
		t.Fatalf("type = %v, want chat_response", m["type"])
	}
	if m["message"] != "4" {
		t.Errorf("message = %v, want 4", m["message"])
	}
	if m["aiUsed"] != true {
		t.Errorf("aiUsed = %v, want true", m["aiUsed"])
	}
	if m["originalMessage"] != "2+2?" {
		t.Errorf("originalMessage = %v", m["originalMessage"])
	}
	if gen.CallCount() != 1 {
		t.Errorf("generate calls = %d, want 1", gen.CallCount())
	}
}

func TestChatTurn_Unconfigured(t *testing.T) {
	s, frames := newTestSession(t, session.Config{})

	s.Handle(context.Background(), protocol.ChatText{Text: "hi"})

	m := nextFrame(t, frames)
	if m["message"] != "Echo: hi" {
		t.Errorf("message = %v, want %q", m["message"], "Echo: hi")
	}
	if m["aiUsed"] != false {
		t.Errorf("aiUsed = %v, want false", m["aiUsed"])
	}
	if _, present := m["audioData"]; present {
		t.Error("audioData must be absent")
	}
}

func TestChatTurn_GenerateFails(t *testing.T) {
	gen := &textgenmock.Provider{Err: errors.New("backend exploded")}
	s, frames := newTestSession(t, session.Config{}, session.WithTextGen(gen))

	s.Handle(context.Background(), protocol.ChatText{Text: "hi"})

	m := nextFrame(t, frames)
	if m["message"] != "Echo (AI failed): hi" {
		t.Errorf("message = %v, want %q", m["message"], "Echo (AI failed): hi")
	}
	if m["aiUsed"] != false {
		t.Errorf("aiUsed = %v, want false", m["aiUsed"])
	}
	if _, present := m["audioData"]; present {
		t.Error("audioData must be absent on a failed turn")
	}
	if m["error"] == "" || m["error"] == nil {
		t.Error("error detail missing from degraded reply")
	}
}

func TestChatTurn_TTSFailureOmitsAudio(t *testing.T) {
	gen := &textgenmock.Provider{Reply: &textgen.Reply{Text: "fine"}}
	synth := &ttsmock.Provider{Err: errors.New("voice service down")}
	s, frames := newTestSession(t, session.Config{},
		session.WithTextGen(gen), session.WithTTS(synth))

	s.Handle(context.Background(), protocol.ChatText{Text: "speak"})

	m := nextFrame(t, frames)
	if m["type"] != "chat_response" || m["message"] != "fine" {
		t.Fatalf("frame = %v", m)
	}
	if m["aiUsed"] != true {
		t.Errorf("aiUsed = %v, want true", m["aiUsed"])
	}
	if _, present := m["audioData"]; present {
		t.Error("audioData must be absent when synthesis fails")
	}
}

func TestChatTurn_TTSSuccessAttachesAudio(t *testing.T) {
	gen := &textgenmock.Provider{Reply: &textgen.Reply{Text: "fine"}}
	synth := &ttsmock.Provider{Audio: &tts.Audio{Data: []byte{1, 2}, Format: "audio/mpeg"}}
	s, frames := newTestSession(t, session.Config{},
		session.WithTextGen(gen), session.WithTTS(synth))

	s.Handle(context.Background(), protocol.ChatText{Text: "speak"})

	m := nextFrame(t, frames)
	if m["audioData"] == nil || m["audioData"] == "" {
		t.Error("audioData missing from successful synthesized reply")
	}
	if m["audioFormat"] != "audio/mpeg" {
		t.Errorf("audioFormat = %v, want audio/mpeg", m["audioFormat"])
	}
}

func TestChatTurn_EmptyMessage(t *testing.T) {
	s, frames := newTestSession(t, session.Config{})

	s.Handle(context.Background(), protocol.ChatText{Text: "   "})

	m := nextFrame(t, frames)
	if m["type"] != "error" {
		t.Errorf("type = %v, want error", m["type"])
	}
}

func TestChatTurns_FIFO(t *testing.T) {
	gen := &textgenmock.Provider{Reply: &textgen.Reply{Text: "ok"}}
	s, frames := newTestSession(t, session.Config{}, session.WithTextGen(gen))

	ctx := context.Background()
	s.Handle(ctx, protocol.ChatText{Text: "first"})
	s.Handle(ctx, protocol.ChatText{Text: "second"})
	s.Handle(ctx, protocol.ChatText{Text: "third"})

	for _, want := range []string{"first", "second", "third"} {
		m := nextFrame(t, frames)
		if m["originalMessage"] != want {
			t.Errorf("originalMessage = %v, want %q", m["originalMessage"], want)
		}
	}
}

func TestStopAudio_IdleIsNoOp(t *testing.T) {
	s, frames := newTestSession(t, session.Config{}, session.WithSpeech(&speechmock.Provider{}))

	s.Handle(context.Background(), protocol.StopAudio{})

	m := nextFrame(t, frames)
	if m["type"] != "audio_stopped" {
		t.Errorf("type = %v, want audio_stopped", m["type"])
	}
	if s.State() != session.StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestAudio_NoSpeechProviderAcksOnly(t *testing.T) {
	s, frames := newTestSession(t, session.Config{})

	s.Handle(context.Background(), protocol.AudioChunk{Data: []byte{1, 2}})

	m := nextFrame(t, frames)
	if m["type"] != "audio_received" {
		t.Errorf("type = %v, want audio_received", m["type"])
	}
	if s.State() != session.StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestAudio_FullUtteranceOrdering(t *testing.T) {
	rec := &speechmock.Provider{}
	gen := &textgenmock.Provider{Reply: &textgen.Reply{Text: "hello to you"}}
	s, frames := newTestSession(t, session.Config{},
		session.WithSpeech(rec), session.WithTextGen(gen))

	ctx := context.Background()
	for range 3 {
		s.Handle(ctx, protocol.AudioChunk{Data: []byte{1, 2, 3, 4}})
	}

	// First chunk starts the recognizer and acknowledges processing.
	m := nextFrame(t, frames)
	if m["type"] != "audio_processing" {
		t.Fatalf("type = %v, want audio_processing", m["type"])
	}

	stream := rec.LastStream()
	if stream == nil {
		t.Fatal("recognizer was not started")
	}
	if stream.SentCount() != 3 {
		t.Errorf("forwarded chunks = %d, want 3", stream.SentCount())
	}

	stream.EmitFinal("hello")
	s.Handle(ctx, protocol.StopAudio{})

	var got []string
	for range 3 {
		got = append(got, nextFrame(t, frames)["type"].(string))
	}
	want := []string{"speech_recognized", "chat_response", "audio_stopped"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame order = %v, want %v", got, want)
		}
	}

	if stream.ReleaseCount() != 1 {
		t.Errorf("release count = %d, want exactly 1", stream.ReleaseCount())
	}
	if s.State() != session.StateIdle {
		t.Errorf("state = %v, want idle after drain", s.State())
	}
}

func TestAudio_PartialsForwardedInOrder(t *testing.T) {
	rec := &speechmock.Provider{}
	s, frames := newTestSession(t, session.Config{}, session.WithSpeech(rec))

	ctx := context.Background()
	s.Handle(ctx, protocol.AudioChunk{Data: []byte{0}})
	if m := nextFrame(t, frames); m["type"] != "audio_processing" {
		t.Fatalf("type = %v, want audio_processing", m["type"])
	}

	stream := rec.LastStream()
	stream.EmitPartial("he")
	stream.EmitPartial("hel")
	stream.EmitPartial("hello")

	for _, want := range []string{"he", "hel", "hello"} {
		m := nextFrame(t, frames)
		if m["type"] != "speech_recognizing" {
			t.Fatalf("type = %v, want speech_recognizing", m["type"])
		}
		if m["message"] != want {
			t.Errorf("message = %v, want %q", m["message"], want)
		}
	}
}

func TestAudio_FinalTranscriptCorrected(t *testing.T) {
	rec := &speechmock.Provider{}
	corrector := transcript.New([]types.KeywordBoost{{Keyword: "Voxgate", Boost: 5}})
	s, frames := newTestSession(t, session.Config{},
		session.WithSpeech(rec), session.WithCorrector(corrector))

	ctx := context.Background()
	s.Handle(ctx, protocol.AudioChunk{Data: []byte{0}})
	if m := nextFrame(t, frames); m["type"] != "audio_processing" {
		t.Fatalf("type = %v, want audio_processing", m["type"])
	}

	rec.LastStream().EmitFinal("open boxgate now")

	m := nextFrame(t, frames)
	if m["type"] != "speech_recognized" {
		t.Fatalf("type = %v, want speech_recognized", m["type"])
	}
	if m["message"] != "open Voxgate now" {
		t.Errorf("message = %v, want corrected keyword", m["message"])
	}
}

func TestAudioIngest_NotBlockedByInFlightTurn(t *testing.T) {
	release := make(chan struct{})
	gen := &textgenmock.Provider{
		Reply: &textgen.Reply{Text: "done thinking"},
		Delay: func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	rec := &speechmock.Provider{}
	s, frames := newTestSession(t, session.Config{},
		session.WithTextGen(gen), session.WithSpeech(rec))

	ctx := context.Background()
	s.Handle(ctx, protocol.ChatText{Text: "think hard"})
	waitFor(t, "turn to reach the generator", func() bool { return gen.CallCount() == 1 })

	// With the turn still held open, audio must flow to the recognizer.
	for range 3 {
		s.Handle(ctx, protocol.AudioChunk{Data: []byte{1, 2}})
	}
	stream := rec.LastStream()
	if stream == nil {
		t.Fatal("recognizer was not started while the turn was in flight")
	}
	waitFor(t, "chunks to reach the recognizer", func() bool { return stream.SentCount() == 3 })

	if m := nextFrame(t, frames); m["type"] != "audio_processing" {
		t.Fatalf("type = %v, want audio_processing before the turn completes", m["type"])
	}

	close(release)
	m := nextFrame(t, frames)
	if m["type"] != "chat_response" || m["message"] != "done thinking" {
		t.Errorf("frame = %v", m)
	}
}

func TestClose_NotBlockedBySlowRecognizerDial(t *testing.T) {
	gate := make(chan struct{})
	rec := &speechmock.Provider{
		StartDelay: func(ctx context.Context) error {
			<-gate
			return nil
		},
	}
	s, _ := newTestSession(t, session.Config{}, session.WithSpeech(rec))

	go s.Handle(context.Background(), protocol.AudioChunk{Data: []byte{0}})
	waitFor(t, "dial to begin", func() bool { return rec.StartCount() == 1 })

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind the recognizer dial")
	}
	if s.State() != session.StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}

	// Once the dial completes, the never-installed stream must still be
	// released.
	close(gate)
	waitFor(t, "orphaned stream release", func() bool {
		stream := rec.LastStream()
		return stream != nil && stream.ReleaseCount() == 1
	})
}

func TestClose_ReleasesRecognizerExactlyOnce(t *testing.T) {
	rec := &speechmock.Provider{}
	s, frames := newTestSession(t, session.Config{}, session.WithSpeech(rec))

	ctx := context.Background()
	s.Handle(ctx, protocol.AudioChunk{Data: []byte{0}})
	if m := nextFrame(t, frames); m["type"] != "audio_processing" {
		t.Fatalf("type = %v, want audio_processing", m["type"])
	}

	stream := rec.LastStream()
	s.Close()
	s.Close()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after Close")
	}

	if stream.ReleaseCount() != 1 {
		t.Errorf("release count = %d, want exactly 1", stream.ReleaseCount())
	}
	if s.State() != session.StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
}

func TestClose_DiscardsOutbox(t *testing.T) {
	s, frames := newTestSession(t, session.Config{})
	s.Close()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after Close")
	}

	s.Send(protocol.Pong{})
	select {
	case m := <-frames:
		t.Errorf("frame %v delivered after close", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransportError_ClosesSession(t *testing.T) {
	s := session.New("session-test", session.Config{}, func(context.Context, []byte) error {
		return errors.New("broken pipe")
	})
	s.Start(context.Background())

	s.Handle(context.Background(), protocol.Ping{})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after transport write failure")
	}
	if s.State() != session.StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
}

func TestGenerate_Timeout(t *testing.T) {
	gen := &textgenmock.Provider{
		Reply: &textgen.Reply{Text: "too late"},
		Delay: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	s, frames := newTestSession(t,
		session.Config{TurnTimeout: 20 * time.Millisecond},
		session.WithTextGen(gen))

	s.Handle(context.Background(), protocol.ChatText{Text: "slow"})

	m := nextFrame(t, frames)
	if m["message"] != "Echo (AI failed): slow" {
		t.Errorf("message = %v, want timeout fallback", m["message"])
	}
	if m["aiUsed"] != false {
		t.Errorf("aiUsed = %v, want false", m["aiUsed"])
	}
}
