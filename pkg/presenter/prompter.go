package presenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/ormasoftchile/demokit/pkg/kernel/gate"
)

// Readline prompts through a line editor so the operator can correct a
// typed confirmation phrase before submitting it.
type Readline struct {
	rl *readline.Instance

	// OnInterrupt runs when the operator presses Ctrl-C at a prompt. The
	// terminal is in raw mode then, so no SIGINT is delivered.
	OnInterrupt func()
}

var _ gate.Prompter = (*Readline)(nil)

// NewReadline creates a line-editing prompter on in/out.
func NewReadline(in io.ReadCloser, out io.Writer) (*Readline, error) {
	rl, err := readline.NewEx(&readline.Config{
		Stdin:                  in,
		Stdout:                 out,
		InterruptPrompt:        "^C",
		EOFPrompt:              "",
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	return &Readline{rl: rl}, nil
}

// Prompt shows question and reads one edited line.
func (r *Readline) Prompt(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.rl.SetPrompt(question + " ")

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.rl.Readline()
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		switch {
		case errors.Is(res.err, readline.ErrInterrupt):
			if r.OnInterrupt != nil {
				r.OnInterrupt()
			}
			return "", context.Canceled
		case res.err != nil:
			return "", res.err
		}
		return strings.TrimRight(res.line, "\r\n"), nil
	}
}

// Close restores the terminal.
func (r *Readline) Close() error {
	return r.rl.Close()
}

// Interactive returns the operator prompter for in: a line editor on a
// terminal, a plain line reader otherwise. The closer must be called when
// the run ends.
func Interactive(in *os.File, out io.Writer, onInterrupt func()) (gate.Prompter, io.Closer, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return gate.NewLinePrompter(in, out), nopCloser{}, nil
	}
	r, err := NewReadline(in, out)
	if err != nil {
		return nil, nil, err
	}
	r.OnInterrupt = onInterrupt
	return r, r, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
