package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestFaultError(t *testing.T) {
	f := &Fault{Class: FaultBadResponse, Service: "textgen", Err: errors.New("boom")}
	want := "textgen: bad_response: boom"
	if got := f.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	u := Unconfigured("tts")
	if got, want := u.Error(), "tts: unconfigured"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestFaultUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	f := Classify("speech", fmt.Errorf("dial: %w", cause))
	if !errors.Is(f, cause) {
		t.Error("Classify should preserve the error chain")
	}
}

// timeoutErr implements net.Error with Timeout() == true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FaultClass
	}{
		{"deadline exceeded", context.DeadlineExceeded, FaultTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), FaultTimeout},
		{"net timeout", timeoutErr{}, FaultTimeout},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, FaultUnavailable},
		{"plain error", errors.New("weird body"), FaultBadResponse},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := Classify("textgen", tc.err)
			if f.Class != tc.want {
				t.Errorf("Classify(%v).Class = %v, want %v", tc.err, f.Class, tc.want)
			}
			if f.Service != "textgen" {
				t.Errorf("Service = %q, want %q", f.Service, "textgen")
			}
		})
	}
}

func TestClassifyPassesThroughFaults(t *testing.T) {
	orig := Unconfigured("textgen")
	got := Classify("other", fmt.Errorf("wrapped: %w", orig))
	if got != orig {
		t.Error("Classify should return an existing *Fault unchanged")
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf(Unconfigured("x")); got != FaultUnconfigured {
		t.Errorf("ClassOf = %v, want %v", got, FaultUnconfigured)
	}
	if got := ClassOf(errors.New("anything")); got != FaultBadResponse {
		t.Errorf("ClassOf = %v, want %v", got, FaultBadResponse)
	}
}

func TestFaultClassString(t *testing.T) {
	tests := []struct {
		class FaultClass
		want  string
	}{
		{FaultUnconfigured, "unconfigured"},
		{FaultUnavailable, "unavailable"},
		{FaultTimeout, "timeout"},
		{FaultBadResponse, "bad_response"},
		{FaultClass(99), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.class.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", int(tc.class), got, tc.want)
		}
	}
}

func TestClassifyRealDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	f := Classify("textgen", ctx.Err())
	if f.Class != FaultTimeout {
		t.Errorf("Class = %v, want %v", f.Class, FaultTimeout)
	}
}
