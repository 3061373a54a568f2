package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/DoyleJ11/damas-client/internal/config"
	"github.com/DoyleJ11/damas-client/internal/power"
	"github.com/DoyleJ11/damas-client/internal/session"
	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

const boardSize = 8

func newStateCmd(cfg *config.Config) *cobra.Command {
	var (
		matchID int64
		seat    string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Fetch a match snapshot once and print it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close()) }()

			id, s, err := resolveMatch(a, matchID, seat)
			if err != nil {
				return err
			}
			snap, err := a.api.State(cmd.Context(), id, s)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSnapshot(cmd.OutOrStdout(), id, s, snap)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.Int64Var(&matchID, "match", 0, "match id (defaults to the active match)")
	fs.StringVar(&seat, "seat", "", "seat A or B; empty watches as a spectator")
	fs.BoolVar(&asJSON, "json", false, "print the raw snapshot")
	return cmd
}

// printSnapshot draws the board with row 0 at the top. Seat A pieces are a/A,
// seat B pieces b/B, crowned pieces upper case and traps ^.
func printSnapshot(w io.Writer, matchID int64, seat types.Seat, snap *types.Snapshot) {
	fmt.Fprintf(w, "match %d  status %s  turn %s  counter %d\n",
		matchID, snap.Match.Status, orDash(string(snap.Match.CurrentTurn)), snap.Match.TurnCounter)

	fmt.Fprint(w, "   ")
	for c := 0; c < boardSize; c++ {
		fmt.Fprintf(w, " %d", c)
	}
	fmt.Fprintln(w)
	for r := 0; r < boardSize; r++ {
		fmt.Fprintf(w, " %d ", r)
		for c := 0; c < boardSize; c++ {
			fmt.Fprintf(w, " %s", cellGlyph(snap, r, c))
		}
		fmt.Fprintln(w)
	}

	for _, p := range snap.Players {
		fmt.Fprintf(w, "seat %s  coins %d", p.Seat, p.Coins)
		if p.TurnState.MustContinueCapture {
			fmt.Fprint(w, "  must continue capture")
		}
		if p.TurnState.DoubleMove.Active {
			fmt.Fprintf(w, "  double move (%d left)", p.TurnState.DoubleMove.Remaining)
		}
		fmt.Fprintln(w)
	}
	var shielded []string
	for _, p := range snap.Pieces {
		if p.Alive && p.Shielded() {
			shielded = append(shielded, fmt.Sprintf("%s(%d,%d)", strings.ToLower(string(p.Seat)), p.Row, p.Col))
		}
	}
	if len(shielded) > 0 {
		fmt.Fprintf(w, "shielded: %s\n", strings.Join(shielded, ", "))
	}
	if seat != types.Spectator {
		var names []string
		for _, it := range power.Mine(snap.Inventory, seat) {
			names = append(names, fmt.Sprintf("%s x%d", it.PowerSlug, it.Qty))
		}
		fmt.Fprintf(w, "powers: %s\n", orDash(strings.Join(names, ", ")))
	}
	for _, m := range session.RecentMoves(snap, 5) {
		fmt.Fprintf(w, "  #%d %s piece %d (%d,%d) -> (%d,%d)\n",
			m.TurnIndex, m.BySeat, m.PieceID, m.From.R, m.From.C, m.To.R, m.To.C)
	}
}

func cellGlyph(snap *types.Snapshot, r, c int) string {
	if p := snap.PieceAt(r, c); p != nil {
		g := strings.ToLower(string(p.Seat))
		if p.Crowned {
			g = strings.ToUpper(g)
		}
		return g
	}
	if snap.TrapAt(r, c) != nil {
		return "^"
	}
	if (r+c)%2 == 1 {
		return "."
	}
	return " "
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
