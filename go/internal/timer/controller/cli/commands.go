package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/command"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
)

func newCreateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create [session-id]",
		Short: "Create a session, generating a room id when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return o.withClient(cmd, func(ctx context.Context, c timerClient) error {
				s, err := c.Create(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(o.out, "session %s (%s)\n", s.ID, s.State.Status)
				for _, p := range s.Config.Presets {
					fmt.Fprintf(o.out, "  %-10s %-20s %d/%d/%d\n", p.ID, p.Label, p.LowerSec, p.MidSec, p.UpperSec)
				}
				return nil
			})
		},
	}
}

func newPresetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preset <session-id> <preset-id>",
		Short: "Arm the timer with one of the session's presets",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args[0])
			if err != nil {
				return err
			}
			return o.withClient(cmd, func(ctx context.Context, c timerClient) error {
				s, _, err := c.Get(ctx, id)
				if err != nil {
					return err
				}
				p, ok := s.Config.Preset(args[1])
				if !ok {
					return fmt.Errorf("session %s has no preset %q", id, args[1])
				}
				cmdID, err := c.Send(ctx, id, command.SetPreset{
					PresetID: p.ID, LowerSec: p.LowerSec, MidSec: p.MidSec, UpperSec: p.UpperSec,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(o.out, "queued %s %s (%s)\n", models.CommandSetPreset, p.ID, cmdID)
				return nil
			})
		},
	}
}

// newSimpleCmd builds start, stop and reset, which carry no payload.
func newSimpleCmd(o *options, name, short string) *cobra.Command {
	var payload command.Payload
	switch name {
	case "start":
		payload = command.Start{}
	case "stop":
		payload = command.Stop{}
	default:
		payload = command.Reset{}
	}
	return &cobra.Command{
		Use:   name + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args[0])
			if err != nil {
				return err
			}
			return o.withClient(cmd, func(ctx context.Context, c timerClient) error {
				cmdID, err := c.Send(ctx, id, payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(o.out, "queued %s (%s)\n", payload.Type(), cmdID)
				return nil
			})
		},
	}
}

func newConfigCmd(o *options) *cobra.Command {
	var (
		showTimer    bool
		overtimeMode string
	)
	cmd := &cobra.Command{
		Use:   "config <session-id>",
		Short: "Change the session's display and overtime settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args[0])
			if err != nil {
				return err
			}
			var patch models.ConfigPatch
			if cmd.Flags().Changed("show-timer") {
				patch.ShowTimer = &showTimer
			}
			if cmd.Flags().Changed("overtime-mode") {
				mode := models.OvertimeMode(overtimeMode)
				patch.OvertimeMode = &mode
			}
			if patch.Empty() {
				return fmt.Errorf("nothing to change; pass --show-timer or --overtime-mode")
			}
			return o.withClient(cmd, func(ctx context.Context, c timerClient) error {
				cmdID, err := c.Send(ctx, id, command.UpdateConfig{ConfigPatch: patch})
				if err != nil {
					return err
				}
				fmt.Fprintf(o.out, "queued %s (%s)\n", models.CommandUpdateConfig, cmdID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showTimer, "show-timer", true, "show the elapsed time to the speaker")
	cmd.Flags().StringVar(&overtimeMode, "overtime-mode", "", "none, once or repeatedly")
	return cmd
}

func newWatchCmd(o *options) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Print the timer's derived view until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args[0])
			if err != nil {
				return err
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			return o.withClient(cmd, func(ctx context.Context, c timerClient) error {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for printed := 0; count <= 0 || printed < count; printed++ {
					if printed > 0 {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
						}
					}
					view, err := c.View(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintln(o.out, formatView(view))
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "how often to print")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many lines; 0 runs until interrupted")
	return cmd
}

func formatView(v derive.View) string {
	line := fmt.Sprintf("%-8s elapsed=%s zone=%-7s", v.Status, clock(v.Elapsed), v.Zone)
	if v.PresetID != nil {
		line += " preset=" + *v.PresetID
	}
	if v.Overtime {
		line += " OVERTIME"
	}
	if v.BeepDue {
		line += " beep"
	}
	return line
}

func clock(sec int) string {
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
