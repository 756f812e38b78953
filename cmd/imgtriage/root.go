package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ilexum-group/imgtriage/internal/acquisition"
	"github.com/ilexum-group/imgtriage/internal/config"
	"github.com/ilexum-group/imgtriage/internal/image"
	osinfo "github.com/ilexum-group/imgtriage/internal/os"
	"github.com/ilexum-group/imgtriage/internal/output"
	"github.com/ilexum-group/imgtriage/internal/store"
	"github.com/ilexum-group/imgtriage/internal/utils"
)

var errNoImage = errors.New("no disk image given")

// openImage is replaced in tests
var openImage = func(path string) (image.Image, error) {
	return image.OpenTSK(path)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imgtriage [image]",
		Short: "Triage a disk image: OS identity, users and forensic artifacts",
		Long: `imgtriage opens a raw or EWF disk image through The Sleuth Kit, detects
whether the volume holds a Windows or Linux installation, and records the
hostname, OS version, network identity, user profiles and the metadata of
well-known forensic artifacts.

The report is written to <output>/triage_results.json and, with --db, also
stored in a SQLite case database.

Every flag can also be set through a TRIAGE_* environment variable
(e.g. TRIAGE_THREADS=8) or a config file given with --config.

Example:
  imgtriage evidence/ws01.E01
  imgtriage --output cases/17 --db cases/cases.db evidence/web01.raw
  imgtriage --artifacts my_artifacts.yaml evidence/ws01.E01`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set(config.KeyImage, args[0]); err != nil {
					return err
				}
			}
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := utils.InitDefaultLoggerWithLevel(cfg.LogLevel, cmd.ErrOrStderr()); err != nil {
				return err
			}
			return runTriage(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runTriage performs one acquisition as configured by cfg and prints where the
// results went.
func runTriage(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.Image == "" {
		return errNoImage
	}
	utils.LogInfo("Starting imgtriage", utils.Meta("version", version, "image", cfg.Image, "threads", fmt.Sprint(cfg.Threads)))

	opts := osinfo.Options{Threads: cfg.Threads}
	if cfg.Artifacts != "" {
		patterns, err := osinfo.LoadPatterns(cfg.Artifacts)
		if err != nil {
			return err
		}
		opts.Patterns = patterns
		utils.LogInfo("Artifact definitions loaded", utils.Meta("file", cfg.Artifacts, "definitions", fmt.Sprint(len(patterns))))
	}

	img, err := openImage(cfg.Image)
	if err != nil {
		utils.LogError("Failed to open image", utils.Meta("image", cfg.Image, "error", err.Error()))
		return fmt.Errorf("failed to open image %s: %w", cfg.Image, err)
	}

	acq := acquisition.Default(opts)
	acq.ToolVersion = version
	report := acq.Acquire(img, cfg.Image)

	path, err := output.WriteReport(cfg.Output, report)
	if err != nil {
		return err
	}

	if cfg.DB != "" {
		s, err := store.Open(cfg.DB)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		if err := s.SaveReport(ctx, report); err != nil {
			return err
		}
		utils.LogInfo("Report stored", utils.Meta("db", cfg.DB, "report", report.ID))
	}

	sys := report.System
	_, _ = fmt.Fprintf(out, "%s: %s (%s) via %s collector, %d users, %d artifacts\n",
		cfg.Image, sys.Hostname, sys.OsType, report.Collector, len(sys.Users), len(sys.Artifacts))
	_, _ = fmt.Fprintf(out, "report: %s\n", path)
	if cfg.DB != "" {
		_, _ = fmt.Fprintf(out, "stored in %s as %s\n", cfg.DB, report.ID)
	}
	return nil
}
