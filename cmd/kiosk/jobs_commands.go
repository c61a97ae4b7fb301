package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"printkiosk/internal/api"
	"printkiosk/internal/config"
	"printkiosk/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Inspect and manage print jobs",
	}

	jobsCmd.AddCommand(newJobsStatusCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsSubmitCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))

	return jobsCmd
}

func newJobsStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				stats, err := api.NewJobService(store).Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(jobs.AllStatuses))
				for _, status := range jobs.AllStatuses {
					rows = append(rows, []string{string(status), strconv.Itoa(stats[string(status)])})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFlags(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				views, err := api.NewJobService(store).List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobTable(views, time.Now()))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable, or \"active\")")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				view, err := api.NewJobService(store).Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if view == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				if jsonOut {
					return writeJSON(cmd, view)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobDetail(*view))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newJobsSubmitCommand(ctx *commandContext) *cobra.Command {
	var req api.PrintRequest
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "submit <file-url>",
		Short: "Submit a print job to the running daemon",
		Long: "Submit a print job to the running daemon. The file URL is usually the pdfUrl\n" +
			"returned by `kiosk convert` or POST /convert.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			req.FileURL = args[0]
			if strings.TrimSpace(req.FileName) == "" {
				req.FileName = fileNameFromURL(args[0])
			}
			if req.Source == "" {
				req.Source = jobs.SourceCLI
			}
			resp, status, err := client.Print(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if status == http.StatusCreated {
				fmt.Fprintf(out, "Created job %s\n", resp.JobID)
			} else {
				fmt.Fprintf(out, "Reused job %s (%s)\n", resp.JobID, resp.Reason)
			}
			if resp.Job.ID != "" {
				fmt.Fprint(out, renderJobDetail(resp.Job))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.FileName, "name", "", "Display file name (defaults to the URL's base name)")
	cmd.Flags().StringVar(&req.PrinterName, "printer", "", "Target printer")
	cmd.Flags().IntVar(&req.Copies, "copies", 1, "Number of copies")
	cmd.Flags().BoolVar(&req.IsColor, "color", false, "Print in colour")
	cmd.Flags().IntVar(&req.TotalPages, "pages", 0, "Page count used for pricing")
	cmd.Flags().StringVar(&req.PaperSize, "paper", "", "Paper size")
	cmd.Flags().StringVar(&req.IdempotencyKey, "idempotency-key", "", "Reuse the job created with this key")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an active job through the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			view, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s (%s)\n", view.ID, view.FileName)
			return nil
		},
	}
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var completed bool
	var failed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete finished jobs from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []jobs.Status
			switch {
			case all:
			case completed && failed:
				statuses = []jobs.Status{jobs.StatusCompleted, jobs.StatusError}
			case completed:
				statuses = []jobs.Status{jobs.StatusCompleted}
			case failed:
				statuses = []jobs.Status{jobs.StatusError}
			default:
				return errors.New("choose what to clear: --completed, --failed or --all")
			}
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				removed, err := store.Clear(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every job, including active ones")
	cmd.Flags().BoolVar(&completed, "completed", false, "Remove completed jobs")
	cmd.Flags().BoolVar(&failed, "failed", false, "Remove failed and cancelled jobs")
	return cmd
}

func parseStatusFlags(values []string) ([]jobs.Status, error) {
	var statuses []jobs.Status
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if part == "active" {
				statuses = append(statuses, jobs.ActiveStatuses...)
				continue
			}
			status, err := jobs.ParseStatus(part)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func fileNameFromURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if idx := strings.LastIndexAny(trimmed, "/\\"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

func renderJobTable(views []api.JobView, now time.Time) string {
	rows := make([][]string, 0, len(views))
	for _, view := range views {
		rows = append(rows, []string{
			view.ID,
			view.FileName,
			view.Status,
			strconv.Itoa(view.Progress) + "%",
			strconv.Itoa(view.Copies),
			colorLabel(view.IsColor),
			fmt.Sprintf("%.2f", view.Price),
			relativeTime(view.CreatedAt, now),
		})
	}
	return renderTable(
		[]string{"ID", "File", "Status", "Progress", "Copies", "Mode", "Price", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft},
	)
}

func renderJobDetail(view api.JobView) string {
	rows := [][]string{
		{"ID", view.ID},
		{"File", view.FileName},
		{"URL", view.FileURL},
		{"Status", view.Status},
		{"Progress", strconv.Itoa(view.Progress) + "%"},
		{"Message", view.StatusMessage},
		{"Printer", view.PrinterName},
		{"Copies", strconv.Itoa(view.Copies)},
		{"Mode", colorLabel(view.IsColor)},
		{"Pages", strconv.Itoa(view.TotalPages)},
		{"Paper", view.PaperSize},
		{"Price", fmt.Sprintf("%.2f", view.Price)},
		{"Source", view.Source},
		{"Created", view.CreatedAt},
		{"Updated", view.UpdatedAt},
		{"Completed", view.CompletedAt},
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func colorLabel(color bool) string {
	if color {
		return "colour"
	}
	return "b/w"
}

func relativeTime(stamp string, now time.Time) string {
	if stamp == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return stamp
	}
	return humanize.RelTime(parsed, now, "ago", "from now")
}
