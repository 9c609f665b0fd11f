package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lyricreel/internal/history"
	"lyricreel/internal/store"
)

const displayTime = "2006-01-02 15:04:05.000000"

func newInitCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Create a new project and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := uuid.NewString()
			e, err := history.NewEvent(projectID, history.ProjectCreated, user,
				map[string]any{"name": args[0]}, nil)
			if err != nil {
				return err
			}
			if _, _, err := a.checkpoints.Record(e); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), projectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user to attribute the event to")
	return cmd
}

func newAppendCmd(a *app) *cobra.Command {
	var (
		data, meta, user, at string
	)
	cmd := &cobra.Command{
		Use:   "append <project> <type>",
		Short: "Append an event to a project",
		Long: `Append an event to a project's log. Appending the same project, type,
timestamp, user and data twice stores the event once.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventType, err := history.ParseEventType(args[1])
			if err != nil {
				return err
			}
			e := &history.Event{ProjectID: args[0], Type: eventType, User: user}

			if e.Data, err = parseObject("--data", data); err != nil {
				return err
			}
			if e.Metadata, err = parseObject("--meta", meta); err != nil {
				return err
			}
			if at != "" {
				if e.Timestamp, err = history.ParseTime(at); err != nil {
					return err
				}
			}

			id, inserted, err := a.checkpoints.Record(e)
			if err != nil {
				return err
			}
			if inserted {
				fmt.Fprintf(cmd.OutOrStdout(), "appended event %d\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "duplicate of event %d\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "event payload as a JSON object")
	cmd.Flags().StringVar(&meta, "meta", "", "event metadata as a JSON object")
	cmd.Flags().StringVar(&user, "user", "", "user to attribute the event to")
	cmd.Flags().StringVar(&at, "at", "", "event timestamp (default: now)")
	return cmd
}

func newEventsCmd(a *app) *cobra.Command {
	var (
		types        []string
		since, until string
		limit        int
		afterID      int64
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "events <project>",
		Short: "List a project's events in timestamp order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := store.Query{Limit: limit, AfterID: afterID}
			for _, t := range types {
				et, err := history.ParseEventType(t)
				if err != nil {
					return err
				}
				q.Types = append(q.Types, et)
			}
			var err error
			if q.Since, err = parseOptionalTime(since); err != nil {
				return err
			}
			if q.Until, err = parseOptionalTime(until); err != nil {
				return err
			}

			events, err := a.store.GetEvents(args[0], q)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "only include these event types")
	cmd.Flags().StringVar(&since, "since", "", "only include events at or after this time")
	cmd.Flags().StringVar(&until, "until", "", "only include events at or before this time")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events")
	cmd.Flags().Int64Var(&afterID, "after-id", 0, "only include events with a larger id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history <project>",
		Short: "Show a readable history of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.store.GetProjectHistory(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No history for this project")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tUSER\tSUMMARY")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.ID, e.Timestamp.Format(displayTime), userOrSystem(e.User), e.Summary)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func newStateCmd(a *app) *cobra.Command {
	var (
		until string
		full  bool
	)
	cmd := &cobra.Command{
		Use:   "state <project>",
		Short: "Rebuild and print a project's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := parseOptionalTime(until)
			if err != nil {
				return err
			}
			mode := a.store.ReplayMode()
			if full {
				mode = store.ReplayFull
			}
			state, err := a.store.RebuildStateWith(args[0], u, mode)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "rebuild state as of this time")
	cmd.Flags().BoolVar(&full, "full", false, "ignore snapshots and replay every event")
	return cmd
}

func printEvents(w io.Writer, events []history.Event) error {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tTYPE\tUSER\tDATA")
	for _, e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, e.Timestamp.Format(displayTime), e.Type, userOrSystem(e.User), truncate(string(data), 80))
	}
	return tw.Flush()
}

func parseObject(flag, s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var m map[string]any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object: %w", flag, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%s must be a JSON object: trailing data", flag)
	}
	return m, nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := history.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func userOrSystem(user string) string {
	if user == "" {
		return "system"
	}
	return user
}

// truncate shortens s to at most max runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
