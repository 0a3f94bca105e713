// Package prompt asks the operator questions on a line-based console
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Prompter asks a question and returns the answered line without its newline
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Console reads answers from a line-oriented reader. It is shared by every
// tracker; concurrent questions are answered in turn.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

// NewConsole starts reading lines from in and writes questions to out
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{out: out, lines: make(chan lineResult)}
	go c.read(in)
	return c
}

func (c *Console) read(in io.Reader) {
	r := bufio.NewReader(in)
	for {
		line, err := r.ReadString('\n')
		if line != "" || err == nil {
			c.lines <- lineResult{text: strings.TrimRight(line, "\r\n")}
		}
		if err != nil {
			c.lines <- lineResult{err: err}
			return
		}
	}
}

// Ask writes question and waits for the next line
func (c *Console) Ask(ctx context.Context, question string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprint(c.out, question)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			close(c.lines)
			return "", res.err
		}
		return res.text, nil
	}
}

// Int asks until the answer is an integer in [min, max]
func Int(ctx context.Context, p Prompter, question string, min, max int) (int, error) {
	for {
		answer, err := p.Ask(ctx, question)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(answer))
		if err == nil && n >= min && n <= max {
			return n, nil
		}
	}
}

// YesNo asks a yes/no question; anything other than yes counts as no
func YesNo(ctx context.Context, p Prompter, question string) (bool, error) {
	answer, err := p.Ask(ctx, question)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "s", "si", "sí":
		return true, nil
	}
	return false, nil
}

// ErrNoMoreAnswers is returned by Script once its answers run out
var ErrNoMoreAnswers = errors.New("no more scripted answers")

// Script is a Prompter replaying fixed answers, for tests
type Script struct {
	mu      sync.Mutex
	answers []string
	asked   []string
}

// NewScript returns a Prompter answering with answers in order
func NewScript(answers ...string) *Script {
	return &Script{answers: answers}
}

func (s *Script) Ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, question)
	if len(s.answers) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNoMoreAnswers, question)
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

// Asked returns every question asked so far
func (s *Script) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.asked...)
}

// Remaining returns how many answers were not consumed
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}
