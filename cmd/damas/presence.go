package main

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/damas-client/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newPresenceCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Inspect or forget the remembered active match.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active match record.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close()) }()

			rec, ok := a.store.Current()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no active match")
				return nil
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the active match.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close()) }()

			if err := a.store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "active match cleared")
			return nil
		},
	})
	return cmd
}
