package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/floodsync/internal/ir"
)

// RescuerOptions holds flags for the rescuer subcommands.
type RescuerOptions struct {
	*RootOptions
	Username string
	Name     string
	Phone    string
}

// NewRescuerCommand creates the rescuer command group.
func NewRescuerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RescuerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rescuer",
		Short: "Register as a rescuer or show this device's rescuer",
	}
	cmd.AddCommand(newRescuerRegisterCommand(opts))
	cmd.AddCommand(newRescuerMeCommand(opts))
	cmd.AddCommand(newRescuerCheckCommand(opts))
	return cmd
}

func newRescuerRegisterCommand(opts *RescuerOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this device as a rescuer",
		Long: `Register this device as a rescuer. A free three-digit id between
100 and 999 is allocated against the current roster.

Example:
  floodsync rescuer register --name "Jane Tan" --phone 012-0000000 --username jtan`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := ir.RescuerDraft{Username: opts.Username, Name: opts.Name, Phone: opts.Phone}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				r, err := a.engine.RegisterRescuer(ctx, draft)
				if err != nil {
					return err
				}
				return a.out.Success(r, func(w io.Writer) {
					fmt.Fprintf(w, "✓ registered as rescuer %s\n", r.ID)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Username, "username", "", "optional handle shown in chat")
	cmd.Flags().StringVar(&opts.Name, "name", "", "full name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "contact phone number")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newRescuerMeCommand(opts *RescuerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the rescuer registered on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				r, ok, err := a.engine.LocalRescuer(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return a.out.Success(nil, func(w io.Writer) {
						fmt.Fprintln(w, "This device is not registered as a rescuer.")
					})
				}
				return a.out.Success(r, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s (%d rescues)\n", r.ID, displayName(r), r.RescuesCount)
				})
			})
		},
	}
}

func newRescuerCheckCommand(opts *RescuerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <id>",
		Short: "Check whether an id is in the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				ok, err := a.engine.IsValidRescuerID(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("rescuer %s is not in the roster", args[0]))
				}
				return a.out.Success(map[string]any{"id": args[0], "valid": true}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ rescuer %s is in the roster\n", args[0])
				})
			})
		},
	}
}

func displayName(r ir.Rescuer) string {
	if r.Username != "" {
		return fmt.Sprintf("%s (@%s)", r.Name, r.Username)
	}
	return r.Name
}
