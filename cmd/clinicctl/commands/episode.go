package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func episodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "episode",
		Short: "Inspect episode event logs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "verify <episode-id>",
			Short: "Check the hash chain and snapshot of an episode",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := openRuntime(cmd)
				if err != nil {
					return err
				}
				defer rt.Close()
				res, err := rt.Service().VerifyEpisode(commandContext(cmd), operator(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "episode %s: valid=%v snapshot_match=%v events=%d head=%s\n",
					res.EpisodeID, res.Valid, res.SnapshotMatch, res.Events, res.HeadHash)
				if !res.Valid || !res.SnapshotMatch {
					return fmt.Errorf("verification failed: %s", res.Problem)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "replay <episode-id>",
			Short: "Rebuild the episode snapshot from its event log",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := openRuntime(cmd)
				if err != nil {
					return err
				}
				defer rt.Close()
				ep, err := rt.Service().ReplayEpisode(commandContext(cmd), operator(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ep)
			},
		},
	)
	return cmd
}

func transitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions",
		Short: "Print the episode transition table",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FROM\tEVENT\tTO\tGUARDS")
			for _, t := range domain.NewMachine().Transitions() {
				guards := strings.Join(t.GuardNames(), ",")
				if guards == "" {
					guards = "-"
				}
				to := string(t.To)
				if t.Label != "" {
					to += " (" + t.Label + ")"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.From, t.On, to, guards)
			}
			return tw.Flush()
		},
	}
}

func recallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Maintenance recall operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Emit every maintenance recall that is due now",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			emitted := rt.SweepRecallsOnce(commandContext(cmd))
			fmt.Fprintf(cmd.OutOrStdout(), "recalls emitted: %d\n", emitted)
			return nil
		},
	})
	return cmd
}
