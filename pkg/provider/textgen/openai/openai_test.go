package openai

import (
	"testing"

	"github.com/MrWong99/voxgate/pkg/provider/textgen"
	"github.com/MrWong99/voxgate/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("New with empty apiKey should fail")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("New with empty model should fail")
	}
}

func TestBuildParams(t *testing.T) {
	p, err := New("key", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.buildParams(textgen.Request{
		SystemPrompt: "You are helpful.",
		History: []types.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
		UserText:    "2+2?",
		MaxTokens:   500,
		Temperature: 0.7,
	})

	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("Model = %q, want gpt-4o-mini", params.Model)
	}
	// system + 2 history + 1 user
	if len(params.Messages) != 4 {
		t.Errorf("len(Messages) = %d, want 4", len(params.Messages))
	}
	if got := params.Temperature.Value; got != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", got)
	}
	if got := params.MaxCompletionTokens.Value; got != 500 {
		t.Errorf("MaxCompletionTokens = %v, want 500", got)
	}
}

func TestBuildParams_Defaults(t *testing.T) {
	p, _ := New("key", "gpt-4o-mini")

	params := p.buildParams(textgen.Request{UserText: "hi"})

	if len(params.Messages) != 1 {
		t.Errorf("len(Messages) = %d, want 1", len(params.Messages))
	}
	if params.Temperature.Valid() {
		t.Error("Temperature should be unset for a zero request")
	}
	if params.MaxCompletionTokens.Valid() {
		t.Error("MaxCompletionTokens should be unset for a zero request")
	}
}
