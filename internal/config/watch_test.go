package config_test

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driverpack/driverpack/internal/config"
	"github.com/driverpack/driverpack/internal/model"

	"github.com/stretchr/testify/require"
)

// replaceFile swaps path by a rename, with a write time far enough from the
// previous one to be noticed on filesystems with coarse timestamps.
func replaceFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	tmp := path + ".next"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(tmp, mtime, mtime))
	require.NoError(t, os.Rename(tmp, path))
}

func profileYAML(script, network string) string {
	return "Dell:\n  DriverScriptName: " + script + "\n  NetworkPath: " + network + "\n"
}

func TestWatchReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, profileYAML("Old.ps1", "/net/old"))

	store, err := config.New(path, config.WithSettleDelay(20*time.Millisecond))
	require.NoError(t, err)

	changes := make(chan *model.Config, 4)
	require.NoError(t, store.Watch(func(cfg *model.Config) { changes <- cfg }, nil))
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	require.ErrorIs(t, store.Watch(nil, nil), config.ErrAlreadyWatching)

	// readers racing the reload must see old or new values, never a mix
	var (
		stop  atomic.Bool
		mixed atomic.Int32
		wg    sync.WaitGroup
	)
	for range 4 {
		wg.Go(func() {
			for !stop.Load() {
				cfg := store.Snapshot()
				old := cfg.Dell.DriverScriptName == "Old.ps1" && cfg.Dell.NetworkPath == "/net/old"
				neu := cfg.Dell.DriverScriptName == "New.ps1" && cfg.Dell.NetworkPath == "/net/new"
				if !old && !neu {
					mixed.Add(1)
				}
			}
		})
	}

	replaceFile(t, path, profileYAML("New.ps1", "/net/new"), time.Now().Add(2*time.Second))

	select {
	case cfg := <-changes:
		require.Equal(t, "New.ps1", cfg.Dell.DriverScriptName)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
	stop.Store(true)
	wg.Wait()
	require.Zero(t, mixed.Load())

	v, err := store.Get(model.VendorDell, model.FieldNetworkPath)
	require.NoError(t, err)
	require.Equal(t, "/net/new", v)
}

func TestWatchMalformed(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, profileYAML("Old.ps1", "/net/old"))

	store, err := config.New(path, config.WithSettleDelay(20*time.Millisecond))
	require.NoError(t, err)

	errs := make(chan error, 4)
	var changed atomic.Int32
	require.NoError(t, store.Watch(
		func(*model.Config) { changed.Add(1) },
		func(err error) { errs <- err },
	))
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	replaceFile(t, path, "Dell: [this is not, a profile", time.Now().Add(2*time.Second))

	select {
	case err := <-errs:
		require.ErrorIs(t, err, model.ErrConfig)
	case <-time.After(5 * time.Second):
		t.Fatal("reload error was not reported")
	}
	require.Zero(t, changed.Load())
	require.ErrorIs(t, store.LastError(), model.ErrConfig)

	v, err := store.Get(model.VendorDell, model.FieldNetworkPath)
	require.NoError(t, err)
	require.Equal(t, "/net/old", v)

	t.Run("recovers", func(t *testing.T) {
		replaceFile(t, path, profileYAML("New.ps1", "/net/new"), time.Now().Add(4*time.Second))
		require.Eventually(t, func() bool {
			v, err := store.Get(model.VendorDell, model.FieldNetworkPath)
			return err == nil && v == "/net/new"
		}, 5*time.Second, 10*time.Millisecond)
		require.NoError(t, store.LastError())
	})
}

func TestWatchUnrelatedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, dellConfig)

	store, err := config.New(path, config.WithSettleDelay(0))
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, store.Watch(
		func(*model.Config) { calls.Add(1) },
		func(error) { calls.Add(1) },
	))

	writeFile(t, filepath.Join(dir, "other.yaml"), "garbage: [")
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, store.Close())
	require.Zero(t, calls.Load())

	// Close is idempotent
	require.NoError(t, store.Close())
}

// a burst of saves yields a few serialized reloads ending on the last save
func TestWatchBurst(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, profileYAML("S0.ps1", "/net/0"))

	store, err := config.New(path, config.WithSettleDelay(100*time.Millisecond))
	require.NoError(t, err)

	var (
		reloads  atomic.Int32
		inflight atomic.Int32
		maxSeen  atomic.Int32
		last     atomic.Value
	)
	onChange := func(cfg *model.Config) {
		n := inflight.Add(1)
		last.Store(cfg.Dell.DriverScriptName)
		defer inflight.Add(-1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		reloads.Add(1)
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, store.Watch(onChange, func(err error) {
		t.Errorf("unexpected reload error: %v", err)
	}))
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	const saves = 10
	base := time.Now().Add(2 * time.Second)
	for i := 1; i <= saves; i++ {
		n := strconv.Itoa(i)
		replaceFile(t, path, profileYAML("S"+n+".ps1", "/net/"+n), base.Add(time.Duration(i)*time.Second))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return last.Load() == "S10.ps1" && inflight.Load() == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.EqualValues(t, 1, maxSeen.Load())
	require.GreaterOrEqual(t, reloads.Load(), int32(1))
	require.Less(t, reloads.Load(), int32(saves))

	v, err := store.Get(model.VendorDell, model.FieldNetworkPath)
	require.NoError(t, err)
	require.Equal(t, "/net/10", v)
}
