package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/floodsync/internal/ir"
)

// RescueOptions holds flags for the rescue command.
type RescueOptions struct {
	*RootOptions
	Rescuer string
	Mine    bool // credit the rescuer registered on this device
}

// RescueResult is the JSON payload of a credited rescue.
type RescueResult struct {
	SOS     ir.SOSRequest `json:"sos"`
	Rescuer ir.Rescuer    `json:"rescuer"`
	Remote  bool          `json:"remote"`
}

// NewRescueCommand creates the rescue command.
func NewRescueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RescueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rescue <sos-id>",
		Short: "Mark an SOS RESCUED and credit a rescuer",
		Long: `Mark an SOS RESCUED and credit exactly one rescuer with one rescue.

Without --rescuer the rescue goes to the Sincere Rescue Team (000).
An id that is not in the roster is rejected and nothing is written.

Exit codes:
  0 - Rescue credited
  1 - Rejected (unknown rescuer, SOS already closed, partial write)
  2 - Command error

Examples:
  floodsync rescue seed-1
  floodsync rescue seed-1 --rescuer 117
  floodsync rescue seed-1 --mine`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Mine && opts.Rescuer != "" {
				return NewExitError(ExitCommandError, "--mine and --rescuer are mutually exclusive")
			}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				claimed := opts.Rescuer
				if opts.Mine {
					me, ok, err := a.engine.LocalRescuer(ctx)
					if err != nil {
						return err
					}
					if !ok {
						return NewExitError(ExitFailure, "this device has no registered rescuer")
					}
					claimed = me.ID
				}

				att, err := a.engine.AttributeRescue(ctx, args[0], claimed)
				if err != nil {
					return err
				}
				res := RescueResult{SOS: att.SOS, Rescuer: att.Rescuer, Remote: att.Remote}
				return a.out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ SOS %s rescued\n", att.SOS.ID)
					fmt.Fprintf(w, "  credited: %s %s (%d rescues)\n", att.Rescuer.ID, att.Rescuer.Name, att.Rescuer.RescuesCount)
					if !att.Remote {
						fmt.Fprintln(w, "  saved locally; the remote mirror was not updated")
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Rescuer, "rescuer", "", "rescuer id to credit (default: Sincere Rescue Team)")
	cmd.Flags().BoolVar(&opts.Mine, "mine", false, "credit the rescuer registered on this device")
	return cmd
}
