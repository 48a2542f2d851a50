package approval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nugget/hodie/internal/llm"
)

type lineResult struct {
	text string
	err  error
}

// Prompter asks a human on a terminal. It owns the input stream: other
// readers of the same stream (such as a chat loop) must go through
// ReadLine so lines are not lost to a competing scanner.
type Prompter struct {
	in      io.Reader
	out     io.Writer
	timeout time.Duration

	start sync.Once
	lines chan lineResult
	done  chan struct{}
	stop  sync.Once
}

// NewPrompter reads answers from in and writes prompts to out. A
// timeout > 0 bounds each decision; expiry returns ErrDecisionTimeout.
func NewPrompter(in io.Reader, out io.Writer, timeout time.Duration) *Prompter {
	return &Prompter{
		in:      in,
		out:     out,
		timeout: timeout,
		lines:   make(chan lineResult),
		done:    make(chan struct{}),
	}
}

// readLoop feeds lines to p.lines until the input ends or Close is
// called. The final read error is delivered once, then the channel
// closes.
func (p *Prompter) readLoop() {
	defer close(p.lines)

	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		select {
		case p.lines <- lineResult{text: scanner.Text()}:
		case <-p.done:
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case p.lines <- lineResult{err: err}:
	case <-p.done:
	}
}

// next waits for one line. A nil deadline channel waits forever.
func (p *Prompter) next(ctx context.Context, deadline <-chan time.Time) (string, error) {
	p.start.Do(func() { go p.readLoop() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-deadline:
		return "", ErrDecisionTimeout
	case res, ok := <-p.lines:
		if !ok {
			return "", ErrInputClosed
		}
		if res.err != nil {
			if res.err == io.EOF {
				return "", ErrInputClosed
			}
			return "", fmt.Errorf("approval: read input: %w", res.err)
		}
		return res.text, nil
	}
}

// ReadLine returns the next input line, for callers sharing the stream.
func (p *Prompter) ReadLine(ctx context.Context) (string, error) {
	return p.next(ctx, nil)
}

// Decide prints the calls and waits for y/yes or n/no. Anything else
// re-prompts. End of input is an error, never a default.
func (p *Prompter) Decide(ctx context.Context, calls []llm.ToolCall) (Decision, error) {
	fmt.Fprintf(p.out, "\nThe assistant wants to run %d tool call(s):\n", len(calls))
	for i, tc := range calls {
		args, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			args = []byte(fmt.Sprintf("%v", tc.Function.Arguments))
		}
		fmt.Fprintf(p.out, "  [%d] %s %s\n", i+1, tc.Function.Name, args)
	}

	var deadline <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		fmt.Fprint(p.out, "Approve? [y/n]: ")
		line, err := p.next(ctx, deadline)
		if err != nil {
			fmt.Fprintln(p.out)
			return Decision{}, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return Decision{Approved: true, Reason: "user"}, nil
		case "n", "no":
			return Decision{Approved: false, Reason: "user"}, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}

// Close stops the background reader once its current read returns.
func (p *Prompter) Close() error {
	p.stop.Do(func() { close(p.done) })
	return nil
}
