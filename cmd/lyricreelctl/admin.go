package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lyricreel/internal/fileutil"
	"lyricreel/internal/health"
	"lyricreel/internal/history"
	"lyricreel/internal/projection"
	"lyricreel/internal/store"
	"lyricreel/internal/watcher"
)

// errVerifyFailed is returned when a project has events that fail verification.
var errVerifyFailed = errors.New("verification failed")

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <project>",
		Short: "Recompute and check every event checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.store.VerifyEvents(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checked %d event(s)\n", report.Checked)
			for _, id := range report.Mismatched {
				fmt.Fprintf(out, "  event %d: checksum mismatch\n", id)
			}
			for _, id := range report.Undecodable {
				fmt.Fprintf(out, "  event %d: cannot be decoded\n", id)
			}
			if !report.OK() {
				return fmt.Errorf("%w: %d mismatched, %d undecodable",
					errVerifyFailed, len(report.Mismatched), len(report.Undecodable))
			}
			fmt.Fprintln(out, "all events verified")
			return nil
		},
	}
}

func newProjectsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := a.store.ListProjects()
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects yet, run 'lyricreelctl init' first")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROJECT\tEVENTS\tFIRST\tLAST")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.ProjectID, p.EventCount,
					p.FirstEvent.Format(displayTime), p.LastEvent.Format(displayTime))
			}
			return tw.Flush()
		},
	}
}

// projectExport is the document written by the export command.
type projectExport struct {
	ProjectID     string                 `json:"project_id" yaml:"project_id"`
	ExportedAt    time.Time              `json:"exported_at" yaml:"exported_at"`
	State         projection.State       `json:"state" yaml:"state"`
	RestorePoints []history.RestorePoint `json:"restore_points" yaml:"restore_points"`
	Events        []history.Event        `json:"events" yaml:"events"`
}

func newExportCmd(a *app) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export <project>",
		Short: "Export a project's events, restore points and state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unknown export format %q (valid: json, yaml)", format)
			}

			projectID := args[0]
			events, err := a.store.GetEvents(projectID, store.Query{})
			if err != nil {
				return err
			}
			points, err := a.store.GetRestorePoints(projectID)
			if err != nil {
				return err
			}
			state, err := a.store.RebuildState(projectID, nil)
			if err != nil {
				return err
			}
			doc := projectExport{
				ProjectID:     projectID,
				ExportedAt:    history.NormalizeTime(time.Now()),
				State:         state,
				RestorePoints: points,
				Events:        events,
			}

			if out == "" {
				return writeExport(cmd.OutOrStdout(), format, doc)
			}

			w, err := fileutil.NewAtomicWriter(out, fileutil.PermPrivateFile)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			if err := writeExport(w, format, doc); err != nil {
				w.Abort()
				return err
			}
			if err := w.Commit(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d event(s) to %s\n", len(events), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func writeExport(w io.Writer, format string, doc projectExport) error {
	if format == "yaml" {
		doc.State, _ = yamlNumbers(doc.State).(map[string]any)
		events := make([]history.Event, len(doc.Events))
		for i, e := range doc.Events {
			e.Data, _ = yamlNumbers(e.Data).(map[string]any)
			e.Metadata, _ = yamlNumbers(e.Metadata).(map[string]any)
			events[i] = e
		}
		doc.Events = events

		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}
	return writeJSON(w, doc)
}

// yamlNumbers replaces json.Number values with int64 or float64 so YAML
// emits them as numbers rather than quoted strings.
func yamlNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case projection.State:
		return yamlNumbers(map[string]any(val))
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = yamlNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = yamlNumbers(item)
		}
		return out
	default:
		return v
	}
}

func newTailCmd(a *app) *cobra.Command {
	var quiet time.Duration
	cmd := &cobra.Command{
		Use:   "tail <project>",
		Short: "Print a project's events as other processes append them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			lastID, err := a.store.LastEventID(projectID)
			if err != nil {
				return err
			}

			w, err := watcher.New(a.store.Path(), quiet)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()

			var configErrs <-chan error
			if loader, err := a.watchConfig(); err != nil {
				a.log.Warn("config hot reload disabled", "path", a.configPath, "error", err)
			} else {
				defer loader.Close()
				configErrs = loader.Errors()
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			a.log.Info("tailing project", "project_id", projectID, "after_id", lastID)

			for {
				select {
				case <-ctx.Done():
					return nil
				case err, ok := <-w.Errors():
					if !ok {
						return nil
					}
					a.log.Warn("watch error", "error", err)
				case err := <-configErrs:
					a.log.Debug("config reload error", "error", err)
				case _, ok := <-w.Changes():
					if !ok {
						return nil
					}
					events, err := a.store.GetEvents(projectID, store.Query{AfterID: lastID})
					if err != nil {
						return err
					}
					for _, e := range events {
						fmt.Fprintf(out, "%d %s %s %s\n", e.ID, e.Timestamp.Format(displayTime), e.Type, history.Summarize(e))
						if e.ID > lastID {
							lastID = e.ID
						}
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&quiet, "quiet", watcher.DefaultQuiet, "wait this long after the last write before reading")
	return cmd
}

func newDoctorCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the database schema, event integrity and snapshot consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := health.NewStoreChecker(a.store).Run(cmd.Context())

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				names := make([]string, 0, len(report.Components))
				for name := range report.Components {
					names = append(names, name)
				}
				sort.Strings(names)

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CHECK\tSTATUS\tMESSAGE")
				for _, name := range names {
					r := report.Components[name]
					msg := r.Message
					if r.Error != "" {
						msg += ": " + r.Error
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", name, r.Status, msg)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "overall: %s\n", report.Status)
			}

			if report.Status != health.StatusHealthy {
				return fmt.Errorf("store is %s", report.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
