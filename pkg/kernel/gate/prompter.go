package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Prompter asks the operator a question and returns the typed answer.
// Implementations: LinePrompter (plain stdin), presenter.ReadlinePrompter
// (TTY line editor), Scripted (tests and replay), NonInteractive.
type Prompter interface {
	Prompt(ctx context.Context, question string) (string, error)
}

// ErrNonInteractive is returned by prompters that have no operator behind
// them. Callers fall back to the safe default for the question.
var ErrNonInteractive = errors.New("no operator available")

// LinePrompter reads one line per question from r. A read abandoned by a
// cancelled prompt stays pending and answers the next prompt, so r never
// has two readers.
type LinePrompter struct {
	mu      sync.Mutex
	in      *bufio.Reader
	out     io.Writer
	pending chan line
}

type line struct {
	s   string
	err error
}

// NewLinePrompter creates a prompter over plain line reads.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

// Prompt writes the question and blocks until a line is read or ctx is done.
func (p *LinePrompter) Prompt(ctx context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "  %s ", question)

	if p.pending == nil {
		ch := make(chan line, 1)
		go func() {
			s, err := p.in.ReadString('\n')
			ch <- line{s, err}
		}()
		p.pending = ch
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	case l := <-p.pending:
		p.pending = nil
		if l.err != nil && (l.s == "" || !errors.Is(l.err, io.EOF)) {
			return "", l.err
		}
		return strings.TrimRight(l.s, "\r\n"), nil
	}
}

// Scripted answers questions from a fixed list and records what was asked.
type Scripted struct {
	Answers []string
	Asked   []string
}

// NewScripted creates a scripted prompter.
func NewScripted(answers ...string) *Scripted {
	return &Scripted{Answers: answers}
}

// Prompt returns the next scripted answer, or io.EOF once they run out.
func (s *Scripted) Prompt(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.Asked = append(s.Asked, question)
	if len(s.Answers) == 0 {
		return "", io.EOF
	}
	a := s.Answers[0]
	s.Answers = s.Answers[1:]
	return a, nil
}

// NonInteractive never answers.
type NonInteractive struct{}

func (NonInteractive) Prompt(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNonInteractive
}
