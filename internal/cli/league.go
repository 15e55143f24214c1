package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/floodsync/internal/ir"
)

// LeagueEntry is one ranked row of the league table.
type LeagueEntry struct {
	Rank int `json:"rank"`
	ir.Rescuer
}

// NewLeagueCommand creates the league command.
func NewLeagueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "league",
		Short: "Show rescuers ranked by rescues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				ranked, err := a.engine.League(ctx)
				if err != nil {
					return err
				}
				entries := make([]LeagueEntry, len(ranked))
				for i, r := range ranked {
					entries[i] = LeagueEntry{Rank: i + 1, Rescuer: r}
				}
				return a.out.Success(entries, func(w io.Writer) { printLeague(w, entries) })
			})
		},
	}
}

func printLeague(w io.Writer, entries []LeagueEntry) {
	fmt.Fprintf(w, "%-4s %-4s %-30s %s\n", "RANK", "ID", "RESCUER", "RESCUES")
	for _, e := range entries {
		fmt.Fprintf(w, "%-4d %-4s %-30s %d\n", e.Rank, e.ID, displayName(e.Rescuer), e.RescuesCount)
	}
}
