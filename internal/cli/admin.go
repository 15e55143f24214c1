package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/floodsync/internal/engine"
)

// AdminOptions holds flags for the admin subcommands.
type AdminOptions struct {
	*RootOptions
	User     string
	Password string
}

// NewAdminCommand creates the admin command group.
func NewAdminCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdminOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations",
		Long: `Administrative operations, gated by the configured admin credentials
(FLOODSYNC_ADMIN_USERNAME and FLOODSYNC_ADMIN_PASSWORD_HASH).

Use "floodsync admin hash-password" to produce a password hash.`,
	}

	cmd.PersistentFlags().StringVar(&opts.User, "user", "", "admin username")
	cmd.PersistentFlags().StringVar(&opts.Password, "password", "", "admin password")

	cmd.AddCommand(newAdminDeleteCommand(opts, "delete-sos", "Delete an SOS everywhere", (*engine.Admin).DeleteSOS))
	cmd.AddCommand(newAdminDeleteCommand(opts, "delete-rescuer", "Delete a rescuer and its rescue count", (*engine.Admin).DeleteRescuer))
	cmd.AddCommand(newAdminStatsCommand(opts))
	cmd.AddCommand(newAdminHashCommand(opts))
	return cmd
}

// withAdmin unlocks the admin gate before running fn.
func withAdmin(opts *AdminOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app, admin *engine.Admin) error) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
		admin, err := a.engine.Admin(opts.User, opts.Password)
		if err != nil {
			return err
		}
		return fn(ctx, a, admin)
	})
}

func newAdminDeleteCommand(opts *AdminOptions, use, short string, del func(*engine.Admin, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(opts, cmd, func(ctx context.Context, a *app, admin *engine.Admin) error {
				if err := del(admin, ctx, args[0]); err != nil {
					return err
				}
				return a.out.Success(map[string]string{"deleted": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ deleted %s\n", args[0])
				})
			})
		},
	}
}

func newAdminStatsCommand(opts *AdminOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise SOS signals by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(opts, cmd, func(ctx context.Context, a *app, admin *engine.Admin) error {
				st, err := admin.Stats(ctx)
				if err != nil {
					return err
				}
				return a.out.Success(st, func(w io.Writer) {
					fmt.Fprintf(w, "total:   %d\n", st.Total)
					fmt.Fprintf(w, "active:  %d\n", st.Active)
					fmt.Fprintf(w, "medical: %d\n", st.Medical)
					fmt.Fprintf(w, "rescued: %d\n", st.Rescued)
					fmt.Fprintf(w, "safe:    %d\n", st.Safe)
				})
			})
		},
	}
}

func newAdminHashCommand(opts *AdminOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for FLOODSYNC_ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(opts.RootOptions, cmd)
			h, err := engine.HashPassword(args[0])
			if err != nil {
				return out.Fail(err)
			}
			return out.Success(map[string]string{"hash": h}, func(w io.Writer) {
				fmt.Fprintln(w, h)
			})
		},
	}
}
