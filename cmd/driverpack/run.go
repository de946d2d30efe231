package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driverpack/driverpack/internal/config"
	"github.com/driverpack/driverpack/internal/log"
	"github.com/driverpack/driverpack/internal/model"
	"github.com/driverpack/driverpack/internal/parallel"
	"github.com/driverpack/driverpack/internal/scripts"
	"github.com/driverpack/driverpack/internal/service"
)

var (
	flagVendors  []string
	flagModel    string
	flagCSV      string
	flagFirmware bool
	flagWatch    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run downloads driver packs of one or more vendors",
	Example: `  driverpack run --vendor dell
  driverpack run --vendor lenovo --model "ThinkPad T14" --firmware
  driverpack run --vendor dell,hp --csv models.csv --parallel 2`,
	RunE: doRun,
}

func initRunCmd() {
	flags := runCmd.Flags()
	flags.StringSliceVar(&flagVendors, "vendor", nil, "vendor to run, one of Dell, Lenovo or HP; repeat or separate by comma")
	flags.StringVar(&flagModel, "model", "", "model name, all models when empty")
	flags.StringVar(&flagCSV, "csv", "", "csv file with model names")
	flags.BoolVar(&flagFirmware, "firmware", false, "download firmware too")
	flags.BoolVar(&flagWatch, "watch", false, "reload the configuration when it changes while running")

	flags.Duration("timeout", 0, "stop a script running longer than this, 0 means no limit")
	flags.Duration("wait-delay", 5*time.Second, "how long to wait for script output after it exited or was killed")
	flags.Duration("settle-delay", 500*time.Millisecond, "delay before a changed configuration is reloaded")
	flags.String("scratch-dir", "", "directory for temporary scripts, system temp dir when empty")
	flags.Int("parallel", 1, "how many vendors run at once")

	runCmd.MarkFlagsMutuallyExclusive("model", "csv")
	_ = runCmd.MarkFlagRequired("vendor")

	for key, flag := range map[string]string{
		"timeout":      "timeout",
		"wait_delay":   "wait-delay",
		"settle_delay": "settle-delay",
		"scratch_dir":  "scratch-dir",
		"parallel":     "parallel",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

type vendorLine struct {
	vendor model.Vendor
	model.Line
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("driverpack",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	opts, err := service.ParseOptions(v)
	if err != nil {
		return fmt.Errorf("parsing options: %w", err)
	}
	vendors, err := parseVendors(flagVendors)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, config.WithSettleDelay(opts.SettleDelay))
	if err != nil {
		return err
	}
	if flagWatch {
		err := store.Watch(
			func(cfg *model.Config) {
				slog.DebugContext(ctx, "next runs use the reloaded configuration", "dell", cfg.Dell != nil, "lenovo", cfg.Lenovo != nil, "hp", cfg.HP != nil)
			},
			func(err error) {
				for _, d := range model.CueErrDetails(err) {
					slog.ErrorContext(ctx, "configuration reload failed, keeping the previous one", d.Attr("detail"))
				}
			},
		)
		if err != nil {
			return err
		}
		defer func() {
			_ = store.Close()
		}()
	}

	materializer := scripts.NewMaterializer(scripts.Bundled(), opts.ScratchDir)

	lines := make(chan vendorLine, 64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printLines(cmd.OutOrStdout(), cmd.ErrOrStderr(), len(vendors) > 1, lines)
	}()

	run := func(ctx context.Context, vendor model.Vendor) (model.RunResult, error) {
		req := model.RunRequest{
			Vendor:          vendor,
			Model:           flagModel,
			CSVPath:         flagCSV,
			IncludeFirmware: flagFirmware,
		}
		coordinator := service.NewCoordinator(store, materializer, opts.CoordinatorOptions()...)
		return coordinator.Execute(ctx, req, func(_ context.Context, line model.Line) {
			lines <- vendorLine{vendor: vendor, Line: line}
		})
	}

	var errs []error
	for r := range parallel.Map(ctx, opts.Parallel, slices.Values(vendors), run) {
		res := r.Out
		slog.InfoContext(ctx, "vendor finished",
			"vendor", r.In.String(),
			"state", res.State.String(),
			"exit_code", res.ExitCode,
		)
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.In, r.Err))
		}
	}
	close(lines)
	<-printed

	return errors.Join(errs...)
}

func printLines(stdout, stderr io.Writer, prefix bool, lines <-chan vendorLine) {
	for l := range lines {
		w := stdout
		if l.Stream == model.Stderr {
			w = stderr
		}
		if prefix {
			_, _ = fmt.Fprintf(w, "[%s] %s\n", l.vendor, l.Text)
		} else {
			_, _ = fmt.Fprintln(w, l.Text)
		}
	}
}

// parseVendors returns the distinct vendors in the order they were given.
func parseVendors(names []string) ([]model.Vendor, error) {
	var vendors []model.Vendor
	for _, name := range names {
		vendor, err := model.ParseVendor(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(vendors, vendor) {
			vendors = append(vendors, vendor)
		}
	}
	if len(vendors) == 0 {
		return nil, fmt.Errorf("%w: no vendor given", model.ErrInvalidRequest)
	}
	return vendors, nil
}
