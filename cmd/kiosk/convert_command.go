package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"printkiosk/internal/config"
	"printkiosk/internal/conversion"
	"printkiosk/internal/daemon"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var outPath string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a document to PDF without a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			return ctx.withComponents(func(_ *config.Config, comps *daemon.Components) error {
				result, err := comps.Converter.Convert(cmd.Context(), conversion.Request{
					SourcePath:       source,
					OriginalFileName: filepath.Base(source),
				})
				if err != nil {
					return fmt.Errorf("convert %s: %w", filepath.Base(source), err)
				}

				if target := strings.TrimSpace(outPath); target != "" {
					if err := copyFile(result.ArtifactPath, target); err != nil {
						return fmt.Errorf("write %s: %w", target, err)
					}
					result.ArtifactPath = target
				}

				if jsonOut {
					return writeJSON(cmd, result)
				}
				engine := result.Engine
				if result.UsedFallback {
					engine += " (fallback)"
				}
				rows := [][]string{
					{"Artifact", result.ArtifactPath},
					{"URL", result.URL},
					{"Pages", strconv.Itoa(result.PageCount)},
					{"Engine", engine},
					{"Duration", result.Duration.Round(time.Millisecond).String()},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Copy the produced PDF to this path")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
