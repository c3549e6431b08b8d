// Package protocol implements the JSON wire codec for the Voxgate WebSocket
// interface. Frames are JSON objects discriminated by a "type" field; inbound
// frames decode to a tagged union, outbound frames carry an RFC3339 timestamp.
//
// Unknown inbound types are not errors: they decode to [Unknown] so the
// gateway can answer with an echo acknowledgement and stay forward
// compatible. Only malformed JSON or invalid field contents produce a
// [DecodeError].
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrWong99/voxgate/pkg/types"
)

// DecodeError reports a frame that could not be decoded. The gateway answers
// with an error frame and keeps the connection open.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Inbound is one decoded client frame.
type Inbound interface {
	// Type returns the wire type the frame decoded from.
	Type() string
}

// Ping is a keepalive request.
type Ping struct{}

func (Ping) Type() string { return "ping" }

// TestEcho asks the server to echo a message back verbatim.
type TestEcho struct {
	Message string
}

func (TestEcho) Type() string { return "test" }

// ChatText is one user chat message, optionally carrying prior conversation
// history supplied by the client.
type ChatText struct {
	Text    string
	History []types.Message
}

func (ChatText) Type() string { return "chat" }

// AudioChunk is one slice of client audio. Data is the decoded payload;
// MimeHint is the client-declared format ("audio/pcm", "audio/opus", ...)
// and may be empty.
type AudioChunk struct {
	Data     []byte
	MimeHint string
	IsFinal  bool
}

func (AudioChunk) Type() string { return "audio" }

// StopAudio ends the client's audio stream.
type StopAudio struct{}

func (StopAudio) Type() string { return "stop_audio" }

// Unknown is the forward-compatibility fallback for unrecognised frame types.
type Unknown struct {
	WireType string
	Raw      json.RawMessage
}

func (u Unknown) Type() string { return u.WireType }

// inboundEnvelope covers every field any inbound frame may carry.
type inboundEnvelope struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Text    string         `json:"text"`
	History []historyEntry `json:"history"`
	Data    string         `json:"data"`
	Format  string         `json:"format"`
	IsFinal bool           `json:"isFinal"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Decode parses one inbound frame. Unknown types decode to [Unknown] rather
// than failing; malformed frames return a [*DecodeError].
func Decode(raw []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Reason: "missing type field"}
	}

	switch env.Type {
	case "ping":
		return Ping{}, nil
	case "test":
		return TestEcho{Message: env.Message}, nil
	case "chat", "text_message":
		text := env.Message
		if text == "" {
			text = env.Text
		}
		return ChatText{Text: text, History: convertHistory(env.History)}, nil
	case "audio", "audio_chunk":
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, &DecodeError{Reason: "invalid base64 audio data", Err: err}
		}
		return AudioChunk{Data: data, MimeHint: env.Format, IsFinal: env.IsFinal}, nil
	case "stop_audio":
		return StopAudio{}, nil
	default:
		return Unknown{WireType: env.Type, Raw: json.RawMessage(raw)}, nil
	}
}

func convertHistory(entries []historyEntry) []types.Message {
	if len(entries) == 0 {
		return nil
	}
	out := make([]types.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.Message{Role: e.Role, Content: e.Content})
	}
	return out
}

// Outbound is one server frame ready for encoding.
type Outbound interface {
	outbound()
}

// Pong answers a [Ping].
type Pong struct{}

// TestReply answers a [TestEcho]. The frame carries a fixed acknowledgement
// text; the client's message comes back in the originalMessage field.
type TestReply struct {
	Original string
}

// EchoAck acknowledges a frame of unknown type.
type EchoAck struct {
	OriginalType string
	Raw          json.RawMessage
}

// TranscriptPartial is an interim recognition result.
type TranscriptPartial struct {
	Text string
}

// TranscriptFinal is a confirmed recognition result. It logically supersedes
// the preceding partials of the same utterance.
type TranscriptFinal struct {
	Text string
}

// ChatReply is the single result of one chat turn. AudioData is omitted when
// synthesis failed or is unconfigured; ErrorDetail records a degraded turn.
type ChatReply struct {
	Message     string
	AIUsed      bool
	AudioData   []byte
	AudioFormat string
	Original    string
	ErrorDetail string
}

// SpeechReply carries a spoken answer for a recognized utterance.
type SpeechReply struct {
	Message   string
	AudioData []byte
}

// AudioAckKind selects which audio acknowledgement frame to send.
type AudioAckKind string

const (
	AudioProcessing AudioAckKind = "audio_processing"
	AudioStopped    AudioAckKind = "audio_stopped"
	AudioReceived   AudioAckKind = "audio_received"
)

// AudioAck acknowledges audio ingest transitions.
type AudioAck struct {
	Kind AudioAckKind
}

// ErrorNotice reports a recoverable error to the client without closing the
// connection.
type ErrorNotice struct {
	Message string
	Detail  string
}

// Welcome is the first frame on every connection.
type Welcome struct {
	ConnectionID     string
	AIConfigured     bool
	SpeechConfigured bool
}

func (Pong) outbound()              {}
func (TestReply) outbound()         {}
func (EchoAck) outbound()           {}
func (TranscriptPartial) outbound() {}
func (TranscriptFinal) outbound()   {}
func (ChatReply) outbound()         {}
func (SpeechReply) outbound()       {}
func (AudioAck) outbound()          {}
func (ErrorNotice) outbound()       {}
func (Welcome) outbound()           {}

// outboundEnvelope covers every field any outbound frame may carry.
type outboundEnvelope struct {
	Type             string          `json:"type"`
	Timestamp        string          `json:"timestamp"`
	Message          string          `json:"message,omitempty"`
	AIUsed           *bool           `json:"aiUsed,omitempty"`
	AudioData        string          `json:"audioData,omitempty"`
	AudioFormat      string          `json:"audioFormat,omitempty"`
	OriginalMessage  string          `json:"originalMessage,omitempty"`
	OriginalType     string          `json:"originalType,omitempty"`
	Original         json.RawMessage `json:"original,omitempty"`
	Error            string          `json:"error,omitempty"`
	ConnectionID     string          `json:"connectionId,omitempty"`
	AIConfigured     *bool           `json:"aiConfigured,omitempty"`
	SpeechConfigured *bool           `json:"speechConfigured,omitempty"`
}

// Encode serialises one outbound frame, stamping it with the current UTC
// time in RFC3339 format.
func Encode(o Outbound) ([]byte, error) {
	env := outboundEnvelope{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	switch m := o.(type) {
	case Pong:
		env.Type = "pong"
	case TestReply:
		env.Type = "test_response"
		env.Message = "Test message received successfully"
		env.OriginalMessage = m.Original
	case EchoAck:
		env.Type = "echo"
		env.OriginalType = m.OriginalType
		env.Original = m.Raw
	case TranscriptPartial:
		env.Type = "speech_recognizing"
		env.Message = m.Text
	case TranscriptFinal:
		env.Type = "speech_recognized"
		env.Message = m.Text
	case ChatReply:
		env.Type = "chat_response"
		env.Message = m.Message
		env.AIUsed = &m.AIUsed
		if len(m.AudioData) > 0 {
			env.AudioData = base64.StdEncoding.EncodeToString(m.AudioData)
			env.AudioFormat = m.AudioFormat
		}
		env.OriginalMessage = m.Original
		env.Error = m.ErrorDetail
	case SpeechReply:
		env.Type = "speech_response"
		env.Message = m.Message
		if len(m.AudioData) > 0 {
			env.AudioData = base64.StdEncoding.EncodeToString(m.AudioData)
		}
	case AudioAck:
		env.Type = string(m.Kind)
	case ErrorNotice:
		env.Type = "error"
		env.Message = m.Message
		env.Error = m.Detail
	case Welcome:
		env.Type = "connection"
		env.ConnectionID = m.ConnectionID
		env.AIConfigured = &m.AIConfigured
		env.SpeechConfigured = &m.SpeechConfigured
	default:
		return nil, fmt.Errorf("protocol: unsupported outbound frame %T", o)
	}

	return json.Marshal(env)
}
