package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNewServeCmd(t *testing.T) {
	cmd := NewServeCmd()

	if cmd == nil {
		t.Fatal("NewServeCmd() returned nil")
	}
	if cmd.Use != "serve" {
		t.Errorf("Expected Use='serve', got %q", cmd.Use)
	}
	if cmd.RunE == nil {
		t.Error("Command RunE function not set")
	}
}

func TestServeCommandHelp(t *testing.T) {
	cmd := NewServeCmd()
	cmd.SetArgs([]string{"--help"})

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() with --help failed: %v", err)
	}

	output := buf.String()
	for _, expected := range []string{"MCP server", "stdio", "dialin_next", "shot_predict"} {
		if !strings.Contains(output, expected) {
			t.Errorf("Help output missing %q", expected)
		}
	}
}

func TestServeFailsOnBadConfig(t *testing.T) {
	env := newTestEnv(t)
	if err := writeFile(env.configPath, `{"model": {"kind": "neural"}}`); err != nil {
		t.Fatal(err)
	}

	_, err := env.run(t, "serve")
	if err == nil || !strings.Contains(err.Error(), "model.kind") {
		t.Errorf("expected config validation error, got %v", err)
	}
}

func TestServeUntil(t *testing.T) {
	t.Run("transport ends", func(t *testing.T) {
		closed := 0
		err := serveUntil(context.Background(),
			func() error { return nil },
			func() error { closed++; return nil })
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if closed != 1 {
			t.Errorf("close called %d times, want 1", closed)
		}
	})

	t.Run("transport fails", func(t *testing.T) {
		boom := errors.New("broken pipe")
		err := serveUntil(context.Background(),
			func() error { return boom },
			func() error { return nil })
		if !errors.Is(err, boom) {
			t.Errorf("expected wrapped transport error, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		block := make(chan struct{})
		defer close(block)

		closed := make(chan struct{}, 1)
		cancel()
		err := serveUntil(ctx,
			func() error { <-block; return nil },
			func() error { closed <- struct{}{}; return nil })
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		select {
		case <-closed:
		default:
			t.Error("close was not called on cancellation")
		}
	})
}
