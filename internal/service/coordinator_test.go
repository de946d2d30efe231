//go:build !windows

package service_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/driverpack/driverpack/internal/args"
	"github.com/driverpack/driverpack/internal/model"
	"github.com/driverpack/driverpack/internal/scripts"
	"github.com/driverpack/driverpack/internal/service"

	"github.com/stretchr/testify/require"
)

type staticConfig struct {
	cfg  *model.Config
	path string
}

func (s staticConfig) Snapshot() *model.Config { return s.cfg }
func (s staticConfig) Path() string            { return s.path }

type countingSource struct {
	*scripts.Materializer
	calls atomic.Int32
}

func (c *countingSource) Materialize(name string) (*scripts.TempScript, error) {
	c.calls.Add(1)
	return c.Materializer.Materialize(name)
}

type phaseLog struct {
	mx     sync.Mutex
	phases []service.Phase
}

func (p *phaseLog) add(_ string, phase service.Phase) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.phases = append(p.phases, phase)
}

func (p *phaseLog) get() []service.Phase {
	p.mx.Lock()
	defer p.mx.Unlock()
	return append([]service.Phase(nil), p.phases...)
}

type fixture struct {
	scratch string
	argsOut string
	src     *countingSource
	phases  *phaseLog
	coord   *service.Coordinator
}

// newFixture prepares a coordinator whose vendor scripts run payloads with
// sh. Each payload first records its arguments.
func newFixture(t *testing.T, payloads map[string]string, opts ...service.CoordinatorOption) *fixture {
	t.Helper()
	requireShell(t)

	dir := t.TempDir()
	f := &fixture{
		scratch: filepath.Join(dir, "scratch"),
		argsOut: filepath.Join(dir, "args"),
		phases:  &phaseLog{},
	}
	require.NoError(t, os.Mkdir(f.scratch, 0o700))

	fsys := fstest.MapFS{}
	for name, body := range payloads {
		fsys["bundled/"+name] = &fstest.MapFile{
			Data: []byte(`printf '%s\n' "$@" > '` + f.argsOut + "'\n" + body),
		}
	}
	f.src = &countingSource{Materializer: scripts.NewMaterializer(fsys, f.scratch)}

	cfg := &model.Config{
		Dell: &model.DellConfig{
			DriverScriptName: "Dell-Drivers.ps1",
			DownloadPath:     filepath.Join(dir, "dell"),
			NetworkPath:      `\\srv\share\dell`,
			PowerShellExe:    fakePwsh,
		},
		Lenovo: &model.LenovoConfig{
			DriverScriptName: "Lenovo-Drivers.ps1",
			DownloadPath:     filepath.Join(dir, "lenovo"),
			NetworkPath:      `\\srv\share\lenovo`,
			PowerShellExe:    fakePwsh,
		},
		HP: &model.HPConfig{
			DriverScriptName: "Missing.ps1",
			LocalPath:        filepath.Join(dir, "hp"),
			NetworkPath:      `\\srv\share\hp`,
			PowerShellExe:    fakePwsh,
		},
	}

	opts = append([]service.CoordinatorOption{service.WithPhaseFunc(f.phases.add)}, opts...)
	f.coord = service.NewCoordinator(staticConfig{cfg: cfg, path: filepath.Join(dir, "config.yaml")}, f.src, opts...)
	return f
}

func (f *fixture) requireClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	require.Empty(t, entries, "temp scripts left behind")
	require.Equal(t, service.PhaseCleanedUp, f.coord.Phase())
	phases := f.phases.get()
	require.NotEmpty(t, phases)
	require.Equal(t, service.PhaseCleanedUp, phases[len(phases)-1])
}

func (f *fixture) recordedArgs(t *testing.T) []string {
	t.Helper()
	b, err := os.ReadFile(f.argsOut)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestCoordinatorDell(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"Dell-Drivers.ps1": "echo downloading; echo warning 1>&2; echo done",
	})

	var lines []model.Line
	sink := func(_ context.Context, line model.Line) {
		lines = append(lines, line)
	}

	res, err := f.coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorDell}, sink)
	require.NoError(t, err)
	require.Equal(t, model.StateSuccess, res.State)
	require.Equal(t, 0, res.ExitCode)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, model.VendorDell, res.Vendor)
	require.Equal(t, fakePwsh, res.Path)

	// stdout and stderr interleave freely, each keeps its own order
	require.Equal(t, res.Lines, lines)
	require.ElementsMatch(t, []string{"downloading", "warning", "done"}, res.Output())
	c := collector{lines: lines}
	require.Equal(t, []string{"downloading", "done"}, c.texts(model.Stdout))
	require.Equal(t, []string{"warning"}, c.texts(model.Stderr))

	got := f.recordedArgs(t)
	require.Equal(t, res.Args, got)
	require.Equal(t, `\\srv\share\dell`, got[len(got)-1])
	require.NotContains(t, got, args.FlagIncludeFirmware)
	require.Contains(t, got, args.FlagModelName)
	require.NotContains(t, got, args.FlagCsvPath)

	require.Equal(t, []service.Phase{
		service.PhaseResolving,
		service.PhaseMaterializing,
		service.PhaseLaunching,
		service.PhaseStreaming,
		service.PhaseCompleted,
		service.PhaseCleanedUp,
	}, f.phases.get())
	f.requireClean(t)

	t.Run("cancel after end is a no-op", func(t *testing.T) {
		f.coord.Cancel()
		require.Equal(t, service.PhaseCleanedUp, f.coord.Phase())
	})

	t.Run("coordinator is reusable", func(t *testing.T) {
		res2, err := f.coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorDell, Model: "Latitude 7440", IncludeFirmware: true}, nil)
		require.NoError(t, err)
		require.NotEqual(t, res.RunID, res2.RunID)
		got := f.recordedArgs(t)
		require.Equal(t, args.FlagIncludeFirmware, got[len(got)-1])
		require.Contains(t, got, "Latitude 7440")
		f.requireClean(t)
	})
}

func TestCoordinatorNonZeroExit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"Lenovo-Drivers.ps1": "echo failing 1>&2; exit 3",
	})

	res, err := f.coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorLenovo, CSVPath: "/tmp/models.csv"}, nil)
	require.ErrorIs(t, err, model.ErrRuntimeFailure)
	require.Equal(t, model.StateNonZeroExit, res.State)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, []model.Line{{Stream: model.Stderr, Text: "failing"}}, res.Lines)

	got := f.recordedArgs(t)
	require.Contains(t, got, "/tmp/models.csv")
	require.NotContains(t, got, args.FlagModelName)

	phases := f.phases.get()
	require.Equal(t, service.PhaseCompleted, phases[len(phases)-2])
	f.requireClean(t)
}

func TestCoordinatorRejects(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		req      model.RunRequest
		then     error
		written  bool
	}{
		{"model and csv", model.RunRequest{Vendor: model.VendorLenovo, Model: "T14", CSVPath: "/m.csv"}, model.ErrInvalidRequest, false},
		{"unknown vendor", model.RunRequest{Vendor: "Acer"}, model.ErrInvalidRequest, false},
		{"missing script", model.RunRequest{Vendor: model.VendorHP}, model.ErrResourceNotFound, true},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, map[string]string{
				"Dell-Drivers.ps1":   "echo dell",
				"Lenovo-Drivers.ps1": "echo lenovo",
			})
			called := false
			res, err := f.coord.Execute(t.Context(), tt.req, func(context.Context, model.Line) { called = true })
			require.ErrorIs(t, err, tt.then)
			require.ErrorIs(t, res.Err, tt.then)
			require.Equal(t, model.StateRejected, res.State)
			require.False(t, called)
			require.NoFileExists(t, f.argsOut)
			if tt.written {
				require.EqualValues(t, 1, f.src.calls.Load())
			} else {
				require.Zero(t, f.src.calls.Load())
			}

			phases := f.phases.get()
			require.Equal(t, service.PhaseFailed, phases[len(phases)-2])
			require.NotContains(t, phases, service.PhaseLaunching)
			f.requireClean(t)
		})
	}
}

func TestCoordinatorUnknownVendorRecord(t *testing.T) {
	t.Parallel()
	requireShell(t)

	src := &countingSource{Materializer: scripts.NewMaterializer(fstest.MapFS{}, t.TempDir())}
	coord := service.NewCoordinator(staticConfig{cfg: &model.Config{}}, src)
	res, err := coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorDell}, nil)
	require.ErrorIs(t, err, model.ErrUnknownVendor)
	require.Equal(t, model.StateRejected, res.State)
	require.Zero(t, src.calls.Load())
	require.Equal(t, service.PhaseCleanedUp, coord.Phase())
}

func TestCoordinatorLaunchFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Dell-Drivers.ps1": "echo never"})
	cfg := &model.Config{Dell: &model.DellConfig{
		DriverScriptName: "Dell-Drivers.ps1",
		NetworkPath:      `\\srv\dell`,
		PowerShellExe:    filepath.Join(t.TempDir(), "no-such-pwsh"),
	}}
	phases := &phaseLog{}
	coord := service.NewCoordinator(staticConfig{cfg: cfg}, f.src, service.WithPhaseFunc(phases.add))

	called := false
	res, err := coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorDell}, func(context.Context, model.Line) { called = true })
	require.ErrorIs(t, err, model.ErrLaunch)
	require.Equal(t, model.StateLaunchFailure, res.State)
	require.False(t, called)
	require.Empty(t, res.Lines)
	require.Equal(t, []service.Phase{
		service.PhaseResolving,
		service.PhaseMaterializing,
		service.PhaseLaunching,
		service.PhaseFailed,
		service.PhaseCleanedUp,
	}, phases.get())

	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCoordinatorCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"Dell-Drivers.ps1": "echo started; sleep 30; echo never",
	})

	var lines []string
	sink := func(_ context.Context, line model.Line) {
		lines = append(lines, line.Text)
		if line.Text == "started" {
			f.coord.Cancel()
		}
	}

	start := time.Now()
	res, err := f.coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorDell}, sink)
	require.Less(t, time.Since(start), 10*time.Second)
	require.ErrorIs(t, err, model.ErrCancelled)
	require.ErrorContains(t, err, "cancelled by user")
	require.Equal(t, model.StateCancelled, res.State)
	require.Equal(t, []string{"started"}, lines)

	phases := f.phases.get()
	require.Equal(t, service.PhaseCancelled, phases[len(phases)-2])
	f.requireClean(t)
}

func TestCoordinatorTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"Dell-Drivers.ps1": "sleep 30",
	}, service.WithTimeout(300*time.Millisecond))

	res, err := f.coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorDell}, nil)
	require.ErrorIs(t, err, model.ErrCancelled)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, model.StateCancelled, res.State)
	f.requireClean(t)
}

func TestCoordinatorInProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"Dell-Drivers.ps1": "echo started; sleep 30",
	})

	started := make(chan struct{})
	sink := func(_ context.Context, line model.Line) {
		if line.Text == "started" {
			close(started)
		}
	}

	type outcome struct {
		res model.RunResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorDell}, sink)
		done <- outcome{res, err}
	}()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("script did not start")
	}
	require.Equal(t, service.PhaseStreaming, f.coord.Phase())

	res, err := f.coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorLenovo}, nil)
	require.ErrorIs(t, err, model.ErrRunInProgress)
	require.Equal(t, model.StateRejected, res.State)
	require.EqualValues(t, 1, f.src.calls.Load())

	f.coord.Cancel()
	first := <-done
	require.ErrorIs(t, first.err, model.ErrCancelled)
	require.Equal(t, model.StateCancelled, first.res.State)
	f.requireClean(t)
}

// a sink slower than the script still receives every line in order
func TestCoordinatorSlowSink(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"Dell-Drivers.ps1": "i=0; while [ $i -lt 50 ]; do echo $i; i=$((i+1)); done",
	}, service.WithLineBuffer(2))

	var got []string
	sink := func(_ context.Context, line model.Line) {
		time.Sleep(time.Millisecond)
		got = append(got, line.Text)
	}
	res, err := f.coord.Execute(t.Context(), model.RunRequest{Vendor: model.VendorDell}, sink)
	require.NoError(t, err)
	require.Len(t, got, 50)
	require.Equal(t, "0", got[0])
	require.Equal(t, "49", got[49])
	require.Equal(t, res.Output(), got)
	f.requireClean(t)
}

// a batch cancelled before this vendor started leaves nothing on disk
func TestCoordinatorCancelledBeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"Dell-Drivers.ps1": "echo never"})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false
	res, err := f.coord.Execute(ctx, model.RunRequest{Vendor: model.VendorDell}, func(context.Context, model.Line) { called = true })
	require.ErrorIs(t, err, model.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, model.StateCancelled, res.State)
	require.False(t, called)
	require.Zero(t, f.src.calls.Load())
	require.NoFileExists(t, f.argsOut)
	require.Equal(t, []service.Phase{
		service.PhaseResolving,
		service.PhaseCancelled,
		service.PhaseCleanedUp,
	}, f.phases.get())
	f.requireClean(t)
}
