// Hodie is a terminal agent that lets a language model call local and
// remote tools, with every batch of tool calls approved by a human
// before it runs. Conversations are checkpointed after every step and
// can be resumed by thread id.
//
// Usage:
//
//	hodie chat [--thread ID]           Interactive conversation
//	hodie ask [--thread ID] <question> Run a single turn
//	hodie resume --thread ID           Continue an interrupted turn
//	hodie approve --thread ID          Approve calls awaiting a decision
//	hodie reject --thread ID           Reject calls awaiting a decision
//	hodie history --thread ID          Show a thread's messages
//	hodie threads                      List stored threads
//	hodie tools                        List available tools
//	hodie init [dir]                   Write a starter config.yaml
//	hodie version                      Print version information
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole command lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	output     string // text or json
}

// run is the real entry point. Conversation output goes to stdout and
// logs go to stderr, so replies can be piped while logs stay visible.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	root := newRootCmd(stdin, stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// newRootCmd builds a fresh command tree. Nothing is package-level, so
// concurrent tests get independent flag state.
func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "hodie",
		Short:         "Tool-calling assistant with human approval",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", opts.output)
			}
			return nil
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format: text or json")

	root.AddCommand(
		buildChatCmd(opts),
		buildAskCmd(opts),
		buildResumeCmd(opts),
		buildDecideCmd(opts, true),
		buildDecideCmd(opts, false),
		buildHistoryCmd(opts),
		buildThreadsCmd(opts),
		buildToolsCmd(opts),
		buildInitCmd(),
		buildVersionCmd(opts),
	)
	return root
}
