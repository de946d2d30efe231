package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/driverpack/driverpack/internal/config"
	"github.com/driverpack/driverpack/internal/model"
)

// openStore loads the configuration. When no file exists in the default
// locations the shipped defaults are stored to the user path first.
func openStore(ctx context.Context, opts ...config.Option) (*config.Store, error) {
	path, err := config.Resolve(configCandidates()...)
	if err != nil {
		if explicitConfig() {
			return nil, err
		}
		path, err = config.UserPath()
		if err != nil {
			return nil, fmt.Errorf("%w: no user config directory: %w", model.ErrConfig, err)
		}
		if err := config.WriteDefault(path); err != nil {
			return nil, fmt.Errorf("storing default configuration: %w", err)
		}
		slog.InfoContext(ctx, "default configuration written", "path", path)
	}

	store, err := config.New(path, opts...)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.ErrorContext(ctx, "invalid configuration", d.Attr("detail"))
		}
		return nil, err
	}
	slog.DebugContext(ctx, "configuration loaded", "path", store.Path())
	return store, nil
}
