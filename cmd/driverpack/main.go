package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driverpack/driverpack/internal/config"
	"github.com/driverpack/driverpack/internal/log"
	"github.com/driverpack/driverpack/internal/model"
)

// exitCancelled is the conventional exit code of a process stopped by SIGINT.
const exitCancelled = 130

var (
	// runtime options bound to flags and DRIVERPACK_* environment
	v = viper.New()

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+defaultPathHelp())
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// setup logging
	rootCmd.PersistentPreRunE = initDriverpack

	v.SetEnvPrefix("DRIVERPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	initRunCmd()
	initConfigCmd()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scriptsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("driverpack failed", "err", err)
		if errors.Is(err, model.ErrCancelled) {
			os.Exit(exitCancelled)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "driverpack",
	Short:        "Runs vendor driver pack scripts",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a driverpack",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(out, "driverpack: version info not available")
			return
		}

		if path, err := config.Resolve(configCandidates()...); err == nil {
			fmt.Fprintf(out, "config:     %s\n", path)
		}
		fmt.Fprintf(out, "driverpack: %s\n", info.Main.Version)
		fmt.Fprintf(out, "go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Fprintf(out, "commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Fprintf(out, "date:       %s\n", s.Value)
			case "vcs.modified":
				fmt.Fprintf(out, "dirty:      %s\n", s.Value)
			}
		}
		fmt.Fprintln(out)
	},
}

func initDriverpack(cmd *cobra.Command, _ []string) error {
	slog.SetDefault(log.New(os.Stderr, flagVerbose))
	slog.Debug("driverpack start", "cmd", cmd.Name(), "candidates", configCandidates())
	return nil
}

// configCandidates lists where the configuration is looked up. DRIVERPACKCONFIG
// wins over --config, both win over the default locations.
func configCandidates() []string {
	if envConfig, ok := os.LookupEnv("DRIVERPACKCONFIG"); ok {
		return []string{envConfig}
	}
	if flagConfigFilePath != "" {
		return []string{flagConfigFilePath}
	}
	return config.DefaultCandidates()
}

func explicitConfig() bool {
	_, ok := os.LookupEnv("DRIVERPACKCONFIG")
	return ok || flagConfigFilePath != ""
}

func defaultPathHelp() string {
	candidates := config.DefaultCandidates()
	if len(candidates) == 0 {
		return "config.yaml in the user config directory"
	}
	return strings.Join(candidates, " or ")
}
