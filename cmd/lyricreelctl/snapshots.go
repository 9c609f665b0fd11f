package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lyricreel/internal/history"
)

func newSnapshotCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <project>",
		Short: "Snapshot a project's current state",
		Long: `Snapshot a project's current state so later rebuilds can start from it.
Old snapshots beyond the configured retention are pruned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.checkpoints.Checkpoint(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %d at event %d\n", snap.ID, snap.EventID)
			return nil
		},
	}
}

func newSnapshotsCmd(a *app) *cobra.Command {
	var prune int
	cmd := &cobra.Command{
		Use:   "snapshots <project>",
		Short: "List or prune a project's snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("prune") {
				n, err := a.store.PruneSnapshots(args[0], prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pruned %d snapshot(s)\n", n)
			}

			snaps, err := a.store.ListSnapshots(args[0])
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No snapshots")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEVENT\tAS OF\tCREATED")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", s.ID, s.EventID,
					s.Timestamp.Format(displayTime), s.CreatedAt.Format(displayTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&prune, "prune", 0, "keep only the N most recent snapshots")
	return cmd
}

func newRestorePointCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore-point",
		Short: "Create or list named restore points",
	}

	var description string
	create := &cobra.Command{
		Use:   "create <project> <name>",
		Short: "Mark the current point in a project's history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := history.NewRestorePointEvent(args[0], args[1], description)
			if err != nil {
				return err
			}
			id, _, err := a.checkpoints.Record(e)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restore point %q is event %d\n", args[1], id)
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "what the restore point captures")

	var asJSON bool
	list := &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's restore points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := a.store.GetRestorePoints(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), points)
			}
			if len(points) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No restore points")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tNAME\tDESCRIPTION")
			for _, p := range points {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.ID, p.Timestamp.Format(displayTime), p.Name, p.Description)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print restore points as JSON")

	cmd.AddCommand(create, list)
	return cmd
}
