package main

import (
	"github.com/spf13/cobra"
)

func buildChatCmd(opts *globalOptions) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, threadID)
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Thread ID to continue (default: new thread)")
	return cmd
}

func buildAskCmd(opts *globalOptions) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run a single conversation turn",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts, threadID, args)
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Thread ID (default: new thread)")
	return cmd
}

func buildResumeCmd(opts *globalOptions) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue an interrupted turn from its last checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, opts, threadID)
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Thread ID to resume")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func buildDecideCmd(opts *globalOptions, approve bool) *cobra.Command {
	use, short := "approve", "Approve tool calls awaiting a decision"
	if !approve {
		use, short = "reject", "Reject tool calls awaiting a decision"
	}

	var threadID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecide(cmd, opts, threadID, approve)
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Thread ID awaiting a decision")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func buildHistoryCmd(opts *globalOptions) *cobra.Command {
	var (
		threadID  string
		snapshots bool
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a thread's messages or checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, threadID, snapshots, limit)
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Thread ID")
	cmd.Flags().BoolVar(&snapshots, "snapshots", false, "List checkpoints instead of messages")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max checkpoints to list (0 = all)")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func buildThreadsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List stored threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreads(cmd, opts)
		},
	}
}

func buildToolsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(cmd, opts)
		},
	}
}

func buildInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter config.yaml (existing files are kept)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd.OutOrStdout(), dir)
		},
	}
}

func buildVersionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.OutOrStdout(), opts.output)
		},
	}
}
