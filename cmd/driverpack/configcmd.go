package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/driverpack/driverpack/internal/config"
	"github.com/driverpack/driverpack/internal/model"
	"github.com/driverpack/driverpack/internal/scripts"
)

var (
	flagShowVendor string
	flagShowKey    string
	flagForce      bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config inspects and initializes the vendor configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "path prints the configuration file in use",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := config.Resolve(configCandidates()...)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "show prints the effective configuration, a vendor or a single key",
	RunE:  doConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "init stores the default configuration",
	RunE:  doConfigInit,
}

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "scripts lists the bundled vendor scripts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		names, err := scripts.List(scripts.Bundled())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

func initConfigCmd() {
	configShowCmd.Flags().StringVar(&flagShowVendor, "vendor", "", "show a single vendor")
	configShowCmd.Flags().StringVar(&flagShowKey, "key", "", "show a single key of --vendor, e.g. NetworkPath")
	configShowCmd.MarkFlagsRequiredTogether("key", "vendor")
	configInitCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func doConfigShow(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if flagShowVendor == "" {
		return config.Encode(out, *store.Snapshot())
	}

	vendor, err := model.ParseVendor(flagShowVendor)
	if err != nil {
		return err
	}
	if flagShowKey != "" {
		field, err := model.ParseField(flagShowKey)
		if err != nil {
			return err
		}
		value, err := store.Get(vendor, field)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, value)
		return err
	}

	for _, field := range vendor.Fields() {
		value, err := store.Get(vendor, field)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", field, value)
	}
	return nil
}

func doConfigInit(cmd *cobra.Command, _ []string) error {
	path := flagConfigFilePath
	if envConfig, ok := os.LookupEnv("DRIVERPACKCONFIG"); ok {
		path = envConfig
	}
	if path == "" {
		var err error
		path, err = config.UserPath()
		if err != nil {
			return err
		}
	}

	_, err := os.Stat(path)
	switch {
	case err == nil && !flagForce:
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
	return err
}
