package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"printkiosk/internal/config"
	"printkiosk/internal/daemon"
	"printkiosk/internal/deps"
	"printkiosk/internal/devicefeed"
	"printkiosk/internal/jobs"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one stale-job reaper pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps *daemon.Components) error {
				result, err := comps.Reaper.Sweep(cmd.Context())
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				if jsonOut {
					return writeJSON(cmd, result)
				}
				rows := [][]string{
					{"malformed", strconv.Itoa(result.Malformed)},
					{"duplicates", strconv.Itoa(result.Duplicates)},
					{"stuck", strconv.Itoa(result.Stuck)},
					{"ancient", strconv.Itoa(result.Ancient)},
					{"completed", strconv.Itoa(result.Completed)},
					{"artifacts", strconv.Itoa(result.Artifacts)},
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTable([]string{"Rule", "Removed"}, rows, []columnAlignment{alignLeft, alignRight}))
				fmt.Fprintf(out, "Removed %d job(s)\n", result.Jobs())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check external tools used for conversion and printing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.Check(cfg)
			if jsonOut {
				return writeJSON(cmd, statuses)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, status := range statuses {
				kind := statusOK
				message := status.Command
				if !status.Available {
					kind = statusError
					if status.Optional {
						kind = statusWarn
					}
					message = status.Detail
				} else if status.Detail != "" {
					message = status.Detail
				}
				message += " (optional: " + yesNo(status.Optional) + ")"
				fmt.Fprintln(out, renderStatusLine(status.Name, kind, message, colorize))
			}
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required tool(s) missing", len(missing))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the job database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, health)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				integrity := statusOK
				if !health.IntegrityCheck {
					integrity = statusError
				}
				malformed := statusOK
				if health.Malformed > 0 {
					malformed = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Database", statusInfo, health.DBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Schema", statusInfo, "v"+strconv.Itoa(health.SchemaVersion), colorize))
				fmt.Fprintln(out, renderStatusLine("Integrity", integrity, yesNo(health.IntegrityCheck), colorize))
				fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, strconv.Itoa(health.Total), colorize))
				fmt.Fprintln(out, renderStatusLine("Malformed", malformed, strconv.Itoa(health.Malformed), colorize))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var mountsFile string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List printable files on mounted USB devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := []devicefeed.Option{devicefeed.WithLogger(ctx.toolLogger(cfg))}
			if strings.TrimSpace(mountsFile) != "" {
				opts = append(opts, devicefeed.WithMountsFile(mountsFile))
			}
			feed := devicefeed.New(cfg.Devices.MountRoot, cfg.Devices.Extensions, cfg.Devices.MaxFiles, opts...)
			if err := feed.Rescan(); err != nil {
				return fmt.Errorf("scan devices: %w", err)
			}
			files := feed.Files()
			if jsonOut {
				if files == nil {
					files = []devicefeed.File{}
				}
				return writeJSON(cmd, files)
			}
			if len(files) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No printable files under %s\n", cfg.Devices.MountRoot)
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(files))
			for _, file := range files {
				rows = append(rows, []string{
					file.MountPoint,
					file.Name,
					humanize.IBytes(uint64(max(file.Size, 0))),
					humanize.RelTime(file.ModTime, now, "ago", "from now"),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Device", "File", "Size", "Modified"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&mountsFile, "mounts-file", "", "Mount table to read instead of /proc/mounts")
	_ = cmd.Flags().MarkHidden("mounts-file")
	return cmd
}
