package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/floodsync/internal/ir"
)

// SOSOptions holds flags shared by the sos subcommands.
type SOSOptions struct {
	*RootOptions

	Name     string
	Phone    string
	Landmark string
	Lat      float64
	Lng      float64
	Medical  bool
	Message  string

	Status string // list filter
	Mine   bool

	Rescuer    string
	Sender     string
	SenderName string
}

// NewSOSCommand creates the sos command group.
func NewSOSCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SOSOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sos",
		Short: "Create and manage SOS signals",
		Long: `Create and manage SOS signals.

An SOS starts ACTIVE and ends RESCUED or SAFE. Once closed it cannot be
reopened, and its details can no longer be edited. Chat messages can be
appended in any status.`,
	}

	cmd.AddCommand(newSOSCreateCommand(opts))
	cmd.AddCommand(newSOSListCommand(opts))
	cmd.AddCommand(newSOSShowCommand(opts))
	cmd.AddCommand(newSOSUpdateCommand(opts))
	cmd.AddCommand(newSOSStatusCommand(opts))
	cmd.AddCommand(newSOSCloseCommand(opts, "safe", "Mark an SOS as SAFE", ir.StatusSafe))
	cmd.AddCommand(newSOSCloseCommand(opts, "rescued", "Mark an SOS as RESCUED without crediting anyone", ir.StatusRescued))
	cmd.AddCommand(newSOSMessageCommand(opts))

	return cmd
}

func newSOSCreateCommand(opts *SOSOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Send a new SOS",
		Long: `Send a new SOS and remember it as this device's own.

Examples:
  floodsync sos create --name "Ahmad" --phone 012-3456789 --landmark "Near the mosque"
  floodsync sos create --name "Siti" --phone 013-0000000 --lat 3.14 --lng 101.68 --medical`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := ir.SOSDraft{
				Name:               opts.Name,
				Phone:              opts.Phone,
				Landmark:           opts.Landmark,
				IsMedicalEmergency: opts.Medical,
				Message:            opts.Message,
			}
			if loc, ok, err := locationFlags(cmd, opts); err != nil {
				return err
			} else if ok {
				draft.Location = loc
			}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				rec, err := a.engine.CreateSOS(ctx, draft)
				if err != nil {
					return err
				}
				return a.out.Success(rec, func(w io.Writer) {
					fmt.Fprintf(w, "✓ SOS %s sent\n", rec.ID)
					printSOS(w, rec)
				})
			})
		},
	}

	addDetailFlags(cmd, opts)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newSOSListCommand(opts *SOSOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List SOS signals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter ir.Status
			if opts.Status != "" {
				filter = ir.Status(strings.ToUpper(opts.Status))
				if !filter.Valid() {
					return NewExitError(ExitCommandError,
						fmt.Sprintf("invalid status %q: must be ACTIVE, RESCUED or SAFE", opts.Status))
				}
			}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				all, err := a.engine.ListSOS(ctx)
				if err != nil {
					return err
				}
				out := make([]ir.SOSRequest, 0, len(all))
				for _, rec := range all {
					if filter == "" || rec.Status == filter {
						out = append(out, rec)
					}
				}
				return a.out.Success(out, func(w io.Writer) {
					if len(out) == 0 {
						fmt.Fprintln(w, "No SOS signals.")
						return
					}
					for _, rec := range out {
						fmt.Fprintln(w, sosLine(rec))
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "only list signals with this status")
	return cmd
}

func newSOSShowCommand(opts *SOSOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one SOS, or this device's own with --mine",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Mine == (len(args) == 1) {
				return NewExitError(ExitCommandError, "give either an SOS id or --mine")
			}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				if opts.Mine {
					rec, ok, err := a.engine.MySOS(ctx)
					if err != nil {
						return err
					}
					if !ok {
						return a.out.Success(nil, func(w io.Writer) {
							fmt.Fprintln(w, "This device has no open SOS.")
						})
					}
					return a.out.Success(rec, func(w io.Writer) { printSOS(w, rec) })
				}

				all, err := a.engine.ListSOS(ctx)
				if err != nil {
					return err
				}
				rec, ok := ir.FindSOS(all, args[0])
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("SOS %s not found", args[0]))
				}
				return a.out.Success(rec, func(w io.Writer) { printSOS(w, rec) })
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Mine, "mine", false, "show the SOS this device created")
	return cmd
}

func newSOSUpdateCommand(opts *SOSOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit the details of an ACTIVE SOS",
		Long: `Edit the details of an ACTIVE SOS. Only the flags given are changed.

Example:
  floodsync sos update seed-1 --landmark "Moved to the roof" --medical`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := ir.SOSPatch{}
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = ir.StringPtr(opts.Name)
			}
			if flags.Changed("phone") {
				patch.Phone = ir.StringPtr(opts.Phone)
			}
			if flags.Changed("landmark") {
				patch.Landmark = ir.StringPtr(opts.Landmark)
			}
			if flags.Changed("message") {
				patch.Message = ir.StringPtr(opts.Message)
			}
			if flags.Changed("medical") {
				patch.IsMedicalEmergency = ir.BoolPtr(opts.Medical)
			}
			if loc, ok, err := locationFlags(cmd, opts); err != nil {
				return err
			} else if ok {
				patch.Location = loc
			}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				rec, err := a.engine.UpdateSOSDetails(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return a.out.Success(rec, func(w io.Writer) {
					fmt.Fprintf(w, "✓ SOS %s updated\n", rec.ID)
					printSOS(w, rec)
				})
			})
		},
	}

	addDetailFlags(cmd, opts)
	return cmd
}

func newSOSStatusCommand(opts *SOSOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <RESCUED|SAFE>",
		Short: "Close an SOS with the given status",
		Long: `Close an ACTIVE SOS. --rescuer records who handled it without
crediting them; use "floodsync rescue" to credit a rescue. The rescuer
must be registered (or 000).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := ir.Status(strings.ToUpper(args[1]))
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				rec, err := a.engine.UpdateSOSStatus(ctx, args[0], status, opts.Rescuer)
				return reportClosed(a, rec, err)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Rescuer, "rescuer", "", "rescuer id to record on the SOS")
	return cmd
}

func newSOSCloseCommand(opts *SOSOptions, use, short string, status ir.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				var (
					rec ir.SOSRequest
					err error
				)
				if status == ir.StatusSafe {
					rec, err = a.engine.MarkSafe(ctx, args[0])
				} else {
					rec, err = a.engine.MarkRescued(ctx, args[0])
				}
				return reportClosed(a, rec, err)
			})
		},
	}
}

func reportClosed(a *app, rec ir.SOSRequest, err error) error {
	if err != nil {
		return err
	}
	return a.out.Success(rec, func(w io.Writer) {
		fmt.Fprintf(w, "✓ SOS %s is %s\n", rec.ID, rec.Status)
	})
}

func newSOSMessageCommand(opts *SOSOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message <id> <text>",
		Short: "Append a chat message to an SOS",
		Long: `Append a chat message to an SOS thread.

Example:
  floodsync sos message seed-1 "On our way" --sender rescuer`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := ir.ChatMessage{
				Sender:     ir.SenderRole(strings.ToLower(opts.Sender)),
				Text:       args[1],
				SenderName: opts.SenderName,
			}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
				rec, err := a.engine.AppendMessage(ctx, args[0], msg)
				if err != nil {
					return err
				}
				return a.out.Success(rec, func(w io.Writer) {
					fmt.Fprintf(w, "✓ message added to SOS %s\n", rec.ID)
					printThread(w, rec.Messages)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Sender, "sender", string(ir.SenderVictim), "who is writing (victim|rescuer)")
	cmd.Flags().StringVar(&opts.SenderName, "as", "", "display name (defaults to the SOS name or local rescuer)")
	return cmd
}

func addDetailFlags(cmd *cobra.Command, opts *SOSOptions) {
	cmd.Flags().StringVar(&opts.Name, "name", "", "name of the person in need")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "contact phone number")
	cmd.Flags().StringVar(&opts.Landmark, "landmark", "", "where to find them")
	cmd.Flags().Float64Var(&opts.Lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&opts.Lng, "lng", 0, "longitude")
	cmd.Flags().BoolVar(&opts.Medical, "medical", false, "medical emergency")
	cmd.Flags().StringVar(&opts.Message, "message", "", "free-text description")
}

// locationFlags returns the location given by --lat and --lng. Both or
// neither must be set.
func locationFlags(cmd *cobra.Command, opts *SOSOptions) (*ir.GeoLocation, bool, error) {
	lat, lng := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lng")
	if !lat && !lng {
		return nil, false, nil
	}
	if lat != lng {
		return nil, false, NewExitError(ExitCommandError, "--lat and --lng must be given together")
	}
	return &ir.GeoLocation{Lat: opts.Lat, Lng: opts.Lng}, true, nil
}

func sosLine(rec ir.SOSRequest) string {
	medical := ""
	if rec.IsMedicalEmergency {
		medical = " [MEDICAL]"
	}
	return fmt.Sprintf("%-8s %-36s %-20s %s%s", rec.Status, rec.ID, rec.Name, rec.Landmark, medical)
}

func printSOS(w io.Writer, rec ir.SOSRequest) {
	fmt.Fprintf(w, "  id:       %s\n", rec.ID)
	fmt.Fprintf(w, "  status:   %s\n", rec.Status)
	fmt.Fprintf(w, "  name:     %s\n", rec.Name)
	fmt.Fprintf(w, "  phone:    %s\n", rec.Phone)
	if rec.Landmark != "" {
		fmt.Fprintf(w, "  landmark: %s\n", rec.Landmark)
	}
	if rec.Location != nil {
		fmt.Fprintf(w, "  location: %.5f, %.5f\n", rec.Location.Lat, rec.Location.Lng)
	}
	if rec.IsMedicalEmergency {
		fmt.Fprintln(w, "  medical:  yes")
	}
	if rec.Message != "" {
		fmt.Fprintf(w, "  message:  %s\n", rec.Message)
	}
	if rec.RescuerID != "" {
		fmt.Fprintf(w, "  rescuer:  %s\n", rec.RescuerID)
	}
	fmt.Fprintf(w, "  sent:     %s\n", time.UnixMilli(rec.Timestamp).UTC().Format(time.RFC3339))
	if len(rec.Messages) > 0 {
		printThread(w, rec.Messages)
	}
}

func printThread(w io.Writer, msgs []ir.ChatMessage) {
	for _, m := range msgs {
		name := m.SenderName
		if name == "" {
			name = string(m.Sender)
		}
		fmt.Fprintf(w, "  > %s (%s): %s\n", name, m.Sender, m.Text)
	}
}
