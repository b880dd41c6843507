package passphrase

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func newTestSource(env map[string]string, tty bool, input string, readErr error) *Source {
	s := NewSource("PACK_PASS", "keystore")
	s.lookup = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.terminal = func() bool { return tty }
	s.read = func() ([]byte, error) { return []byte(input), readErr }
	s.prompt = io.Discard
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s := newTestSource(map[string]string{"PACK_PASS": "hunter2"}, true, "ignored", nil)
	got, err := s.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("unexpected result %q err=%v", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s := newTestSource(map[string]string{"PACK_PASS": "  "}, true, "x", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "PACK_PASS") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestSourceRequiresTerminal(t *testing.T) {
	s := newTestSource(nil, false, "", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "run interactively") {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestSourcePromptsAndCaches(t *testing.T) {
	calls := 0
	s := newTestSource(nil, true, "", nil)
	s.read = func() ([]byte, error) {
		calls++
		return []byte("secret"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := s.Get()
		if err != nil || got != "secret" {
			t.Fatalf("unexpected result %q err=%v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
}

func TestSourcePromptErrors(t *testing.T) {
	s := newTestSource(nil, true, "", errors.New("eof"))
	if _, err := s.Get(); err == nil {
		t.Fatalf("expected read error")
	}
	blank := newTestSource(nil, true, "   ", nil)
	if _, err := blank.Get(); err == nil || !strings.Contains(err.Error(), "cannot be empty") {
		t.Fatalf("expected blank passphrase error, got %v", err)
	}
}
