package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nugget/hodie/internal/agent"
	"github.com/nugget/hodie/internal/approval"
	"github.com/nugget/hodie/internal/buildinfo"
	"github.com/nugget/hodie/internal/checkpoint"
	"github.com/nugget/hodie/internal/conversation"
	"github.com/nugget/hodie/internal/llm"
)

// runChat reads user input line by line and runs one turn per line.
// A thread left mid-turn is resumed before the first prompt and before
// the next line after a failed turn; /retry resumes it on demand. In
// deferred approval mode, /approve and /reject answer a suspended turn.
func runChat(cmd *cobra.Command, opts *globalOptions, threadID string) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.setup(ctx); err != nil {
		return err
	}

	if threadID == "" {
		threadID = uuid.NewString()
	}
	fmt.Fprintf(a.stdout, "Hodie %s, thread %s\n", buildinfo.Version, threadID)
	fmt.Fprintf(a.stdout, "%d tools available. Type /exit to quit.\n\n", a.registry.Len())

	if s, err := a.store.Load(ctx, threadID); err == nil && agent.Next(s) != agent.StageDone {
		fmt.Fprintln(a.stdout, "Resuming unfinished turn...")
		res, err := a.engine.Resume(ctx, threadID)
		if err != nil {
			fmt.Fprintf(a.stderr, "error: %v\n", err)
		} else if err := printTurn(a.stdout, opts.output, res); err != nil {
			return err
		}
	}

	for {
		fmt.Fprint(a.stdout, "> ")
		line, err := a.prompter.ReadLine(ctx)
		if errors.Is(err, approval.ErrInputClosed) {
			fmt.Fprintln(a.stdout)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		var res *agent.TurnResult
		switch line {
		case "":
			continue
		case "/exit", "/quit", "exit", "quit":
			return nil
		case "/approve", "/reject":
			res, err = a.engine.Decide(ctx, threadID, line == "/approve")
		case "/retry":
			res, err = a.engine.Resume(ctx, threadID)
		default:
			res, err = a.engine.Run(ctx, threadID, line)
			if errors.Is(err, agent.ErrTurnInProgress) {
				// Finish the failed turn, then send the new line.
				fmt.Fprintln(a.stdout, "Resuming unfinished turn...")
				res, err = a.engine.Resume(ctx, threadID)
				if err == nil && !res.Suspended {
					if err := printTurn(a.stdout, opts.output, res); err != nil {
						return err
					}
					res, err = a.engine.Run(ctx, threadID, line)
				}
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(a.stderr, "error: %v\n", err)
			if retryable(err) {
				fmt.Fprintln(a.stderr, "Type /retry to try the turn again.")
			}
			continue
		}
		if err := printTurn(a.stdout, opts.output, res); err != nil {
			return err
		}
	}
}

// retryable reports whether the turn failed in a way that a later
// retry of the same turn can fix.
func retryable(err error) bool {
	var ie *agent.InferenceError
	var st *agent.StageTimeout
	return errors.As(err, &ie) || errors.As(err, &st)
}

// runAsk runs a single turn and prints the reply.
func runAsk(cmd *cobra.Command, opts *globalOptions, threadID string, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.setup(ctx); err != nil {
		return err
	}

	if threadID == "" {
		threadID = uuid.NewString()
	}
	res, err := a.engine.Run(ctx, threadID, strings.Join(args, " "))
	if errors.Is(err, agent.ErrTurnInProgress) {
		return fmt.Errorf("%w: finish it with `hodie resume --thread %s`", err, threadID)
	}
	if err != nil {
		return err
	}
	return printTurn(a.stdout, opts.output, res)
}

func runResume(cmd *cobra.Command, opts *globalOptions, threadID string) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.setup(ctx); err != nil {
		return err
	}

	res, err := a.engine.Resume(ctx, threadID)
	if err != nil {
		return err
	}
	return printTurn(a.stdout, opts.output, res)
}

func runDecide(cmd *cobra.Command, opts *globalOptions, threadID string, approve bool) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.setup(ctx); err != nil {
		return err
	}

	res, err := a.engine.Decide(ctx, threadID, approve)
	if err != nil {
		return err
	}
	return printTurn(a.stdout, opts.output, res)
}

func runHistory(cmd *cobra.Command, opts *globalOptions, threadID string, snapshots bool, limit int) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.openStore(ctx); err != nil {
		return err
	}

	if snapshots {
		snaps, err := a.store.History(ctx, threadID, limit)
		if err != nil {
			return fmt.Errorf("thread %s: %w", threadID, err)
		}
		if opts.output == "json" {
			return writeJSON(a.stdout, snaps)
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tSTAGE\tCREATED\tMESSAGES\tBYTES\tID")
		for _, s := range snaps {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
				s.Seq, s.Stage, s.CreatedAt.Local().Format(time.DateTime), s.MessageCount, s.ByteSize, s.ID)
		}
		return tw.Flush()
	}

	s, err := a.store.Load(ctx, threadID)
	if err != nil {
		return fmt.Errorf("thread %s: %w", threadID, err)
	}
	if opts.output == "json" {
		return writeJSON(a.stdout, s)
	}
	printState(a.stdout, s)
	return nil
}

func runThreads(cmd *cobra.Command, opts *globalOptions) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.openStore(ctx); err != nil {
		return err
	}

	threads, err := a.store.Threads(ctx)
	if err != nil {
		return err
	}
	if opts.output == "json" {
		if threads == nil {
			threads = []checkpoint.ThreadInfo{}
		}
		return writeJSON(a.stdout, threads)
	}
	if len(threads) == 0 {
		fmt.Fprintln(a.stdout, "No threads.")
		return nil
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tUPDATED\tSNAPSHOTS")
	for _, t := range threads {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", t.ID, t.UpdatedAt.Local().Format(time.DateTime), t.Snapshots)
	}
	return tw.Flush()
}

func runTools(cmd *cobra.Command, opts *globalOptions) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.buildRegistry(ctx); err != nil {
		return err
	}

	specs := a.registry.Specs()
	if opts.output == "json" {
		return writeJSON(a.stdout, specs)
	}
	if len(specs) == 0 {
		fmt.Fprintln(a.stdout, "No tools enabled.")
		return nil
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, s := range specs {
		fmt.Fprintf(tw, "%s\t%s\n", s.Name, firstLine(s.Description))
	}
	return tw.Flush()
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// turnOutput is the JSON form of a turn result.
type turnOutput struct {
	ThreadID   string         `json:"thread_id"`
	Reply      string         `json:"reply,omitempty"`
	Suspended  bool           `json:"suspended"`
	Pending    []llm.ToolCall `json:"pending,omitempty"`
	Iterations int            `json:"iterations"`
}

func printTurn(w io.Writer, format string, res *agent.TurnResult) error {
	if format == "json" {
		return writeJSON(w, turnOutput{
			ThreadID:   res.ThreadID,
			Reply:      res.Reply,
			Suspended:  res.Suspended,
			Pending:    res.Pending,
			Iterations: res.Iterations,
		})
	}

	if !res.Suspended {
		fmt.Fprintln(w, res.Reply)
		return nil
	}
	fmt.Fprintf(w, "Awaiting approval for %d tool call(s) on thread %s:\n", len(res.Pending), res.ThreadID)
	for i, tc := range res.Pending {
		fmt.Fprintf(w, "  [%d] %s %s\n", i+1, tc.Function.Name, formatArgs(tc.Function.Arguments))
	}
	fmt.Fprintf(w, "Run `hodie approve --thread %s` or `hodie reject --thread %s`.\n", res.ThreadID, res.ThreadID)
	return nil
}

func printState(w io.Writer, s *conversation.State) {
	fmt.Fprintf(w, "Thread %s (%d messages, updated %s)\n\n",
		s.ThreadID, len(s.Messages), s.UpdatedAt.Local().Format(time.DateTime))

	for _, m := range s.Messages {
		switch m.Role {
		case llm.RoleTool:
			marker := "<-"
			if m.IsError {
				marker = "<-!"
			}
			fmt.Fprintf(w, "%s %s: %s\n", marker, m.ToolCallID, truncate(m.Content, 200))
		default:
			if m.Content != "" {
				fmt.Fprintf(w, "[%s] %s\n", m.Role, m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(w, "-> %s %s %s\n", tc.ID, tc.Function.Name, formatArgs(tc.Function.Arguments))
			}
		}
	}

	if len(s.Decisions) > 0 {
		fmt.Fprintln(w, "\nDecisions:")
		for _, d := range s.Decisions {
			verdict := "rejected"
			if d.Approved {
				verdict = "approved"
			}
			fmt.Fprintf(w, "  %s %s (%s): %s\n",
				d.At.Local().Format(time.DateTime), verdict, d.Reason, strings.Join(d.Calls, ", "))
		}
	}

	if stage := agent.Next(s); stage != agent.StageDone {
		fmt.Fprintf(w, "\nTurn unfinished, next stage: %s\n", stage)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatArgs(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
