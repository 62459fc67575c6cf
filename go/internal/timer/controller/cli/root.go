// Package cli defines the cuectl commands for driving a shared timer session
// from a terminal.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcdev12/cuecard/go/internal/roomid"
)

type options struct {
	server     string
	configPath string
	originID   string

	out       io.Writer
	newClient func(ctx context.Context) (timerClient, error)
}

// NewRootCmd builds the cuectl command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{out: out}
	opts.newClient = func(ctx context.Context) (timerClient, error) {
		if opts.server != "" {
			return newRPCClient(defaultHTTPClient(), opts.server, opts.originID), nil
		}
		return openLocalClient(ctx, opts.configPath, opts.originID)
	}
	return newRootCmd(opts)
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "cuectl",
		Short: "Drive a shared speaker timer",
		Long: `cuectl arms, starts, stops and resets a shared speaker timer and
changes its settings. Commands are queued for the session's authority; the
timer changes once the authority applies them.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(opts.out)

	root.PersistentFlags().StringVar(&opts.server, "server", os.Getenv("CUECARD_SERVER"), "gateway URL to send commands through; the configured store is used directly when empty")
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CUECARD_CONFIG"), "config file used when --server is empty")
	root.PersistentFlags().StringVar(&opts.originID, "origin", "cuectl", "origin id stamped on queued commands")

	root.AddCommand(
		newCreateCmd(opts),
		newPresetCmd(opts),
		newSimpleCmd(opts, "start", "Start or resume the timer"),
		newSimpleCmd(opts, "stop", "Stop the timer, freezing elapsed time"),
		newSimpleCmd(opts, "reset", "Return the timer to idle"),
		newConfigCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// Execute runs cuectl. Called from main.
func Execute(ctx context.Context) {
	if err := NewRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withClient opens a client for the duration of fn.
func (o *options) withClient(cmd *cobra.Command, fn func(ctx context.Context, c timerClient) error) error {
	ctx := cmd.Context()
	c, err := o.newClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func sessionArg(raw string) (string, error) {
	id := roomid.Normalize(raw)
	if id == "" {
		return "", fmt.Errorf("session id is required")
	}
	return id, nil
}
