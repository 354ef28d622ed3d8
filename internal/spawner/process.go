/*
Package spawner runs an external model process and talks to it over stdio.

The process speaks newline-delimited JSON-RPC 2.0 and answers two methods:
  - predict: ordered feature values in, quality score out
  - suggest: trial history and bounds in, next brew parameters out

The process is started lazily on the first call and restarted lazily after
any failure that leaves the stream in an unknown state (timeout, EOF,
malformed response).
*/
package spawner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a call when the caller's context has no deadline.
const DefaultTimeout = 2 * time.Second

// ErrNoCommand is returned when the process has no command configured.
var ErrNoCommand = errors.New("no model command configured")

// Config describes how to start the model process.
type Config struct {
	Command string
	Args    []string
	Env     map[string]string

	// Timeout applies when the caller's context carries no deadline.
	Timeout time.Duration
}

// RPCError is a JSON-RPC error returned by the model process.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("model process error %d: %s", e.Code, e.Message)
}

// Process is a lazily spawned model process. Calls are serialized.
type Process struct {
	cfg Config
	mu  sync.Mutex

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	// reqID is a counter rather than a timestamp so IDs stay small integers
	reqID int64
}

// New returns a Process for cfg. Nothing is started until the first call.
func New(cfg Config) *Process {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Process{cfg: cfg}
}

// Predict asks the process to score one ordered feature vector.
func (p *Process) Predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	var resp PredictResponse
	err := p.Call(ctx, "predict", req, &resp)
	return resp, err
}

// Suggest asks the process for the next parameters of a study.
func (p *Process) Suggest(ctx context.Context, req SuggestRequest) (SuggestResponse, error) {
	var resp SuggestResponse
	err := p.Call(ctx, "suggest", req, &resp)
	return resp, err
}

// Call sends one request and decodes the result into out.
func (p *Process) Call(ctx context.Context, method string, params, out interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	if p.cmd == nil {
		if err := p.spawn(); err != nil {
			return err
		}
	}

	p.reqID++
	id := p.reqID

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	line = append(line, '\n')

	if _, err := p.stdin.Write(line); err != nil {
		p.teardown()
		return fmt.Errorf("failed to send %s request: %w", method, err)
	}

	lines := make(chan []byte, 1)
	errc := make(chan error, 1)
	stdout := p.stdout
	go func() {
		b, err := stdout.ReadBytes('\n')
		if err != nil {
			errc <- fmt.Errorf("failed to read %s response: %w", method, err)
			return
		}
		lines <- b
	}()

	select {
	case b := <-lines:
		var resp struct {
			ID     int64           `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *RPCError       `json:"error"`
		}
		if err := json.Unmarshal(b, &resp); err != nil {
			p.teardown()
			return fmt.Errorf("failed to parse %s response: %w", method, err)
		}
		if resp.ID != id {
			p.teardown()
			return fmt.Errorf("response id %d does not match request id %d", resp.ID, id)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil

	case err := <-errc:
		p.teardown()
		return err

	case <-ctx.Done():
		// The reader goroutine still owns stdout; the stream cannot be reused.
		p.teardown()
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Close stops the process: close stdin, wait up to 2s, then kill.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}

	if p.stdin != nil {
		if err := p.stdin.Close(); err != nil {
			log.Printf("Warning: failed to close model process stdin: %v", err)
		}
	}

	done := make(chan error, 1)
	cmd := p.cmd
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case werr := <-done:
		if werr != nil && !strings.Contains(werr.Error(), "signal: killed") {
			err = fmt.Errorf("model process exited: %w", werr)
		}
	case <-time.After(2 * time.Second):
		log.Printf("Model process did not exit gracefully, force killing")
		p.kill()
	}

	p.reset()
	return err
}

// execCommand is a variable so tests can substitute the child binary.
var execCommand = exec.Command

func (p *Process) spawn() error {
	if p.cfg.Command == "" {
		return ErrNoCommand
	}

	cmd := execCommand(p.cfg.Command, p.cfg.Args...)
	cmd.Env = os.Environ()
	for key, value := range p.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	// A full stderr pipe would block the child, so it is always drained.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start model process %q: %w", p.cfg.Command, err)
	}

	go io.Copy(io.Discard, stderr)

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = bufio.NewReader(stdout)
	return nil
}

// teardown kills a process whose stream is no longer trustworthy. The next
// call spawns a fresh one.
func (p *Process) teardown() {
	log.Printf("Warning: restarting model process %q on next call", p.cfg.Command)
	p.kill()
	if p.cmd != nil {
		cmd := p.cmd
		go cmd.Wait()
	}
	p.reset()
}

func (p *Process) kill() {
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

func (p *Process) reset() {
	p.cmd = nil
	p.stdin = nil
	p.stdout = nil
}
