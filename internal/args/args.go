// Package args composes the interpreter command line for a run request.
//
// Every value is a separate element of the argument vector and the process
// is started without a shell, so paths with spaces need no quoting and no
// metacharacter is ever interpreted.
package args

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/driverpack/driverpack/internal/model"
)

const (
	FlagNoProfile       = "-NoProfile"
	FlagExecutionPolicy = "-ExecutionPolicy"
	PolicyBypass        = "Bypass"
	FlagFile            = "-File"
	FlagModelName       = "-ModelName"
	FlagCsvPath         = "-CsvPath"
	FlagDownloadPath    = "-DownloadPath"
	FlagLocalPath       = "-LocalPath"
	FlagNetworkPath     = "-NetworkPath"
	FlagCatalogPath     = "-CatalogPath"
	FlagDaysToRefresh   = "-DaysToRefresh"
	FlagConfigPath      = "-ConfigPath"
	FlagOption          = "-Option"
	FlagIncludeFirmware = "-IncludeFirmware"
)

// Options carries values which are not part of the request or profile.
type Options struct {
	// ConfigPath is passed to scripts that read the configuration themselves.
	ConfigPath string
}

// schema appends the vendor specific part of the command line.
type schema func(out []string, req model.RunRequest, p model.Profile, opts Options) []string

var schemas = map[model.Vendor]schema{
	model.VendorDell:   dell,
	model.VendorLenovo: lenovo,
	model.VendorHP:     hp,
}

// Build returns the argument vector for the interpreter. The vendor of the
// profile selects the argument schema. A request with both model name and
// CSV path is rejected.
func Build(req model.RunRequest, p model.Profile, scriptPath string, opts Options) ([]string, error) {
	if req.Model != "" && req.CSVPath != "" {
		return nil, fmt.Errorf("%w: model name and csv path are mutually exclusive", model.ErrInvalidRequest)
	}
	if req.Vendor != p.Vendor {
		return nil, fmt.Errorf("%w: request for %s with profile of %s", model.ErrInvalidRequest, req.Vendor, p.Vendor)
	}
	vendorSchema, ok := schemas[p.Vendor]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownVendor, string(p.Vendor))
	}
	if scriptPath == "" {
		return nil, fmt.Errorf("%w: empty script path", model.ErrInvalidRequest)
	}

	out := make([]string, 0, 20)
	out = append(out,
		FlagNoProfile,
		FlagExecutionPolicy, PolicyBypass,
		FlagFile, scriptPath,
	)
	if req.IsBatch() {
		out = append(out, FlagCsvPath, req.CSVPath)
	} else {
		out = append(out, FlagModelName, req.Model)
	}
	out = vendorSchema(out, req, p, opts)
	if req.IncludeFirmware {
		out = append(out, FlagIncludeFirmware)
	}
	return out, nil
}

func dell(out []string, _ model.RunRequest, p model.Profile, _ Options) []string {
	return append(out,
		FlagDownloadPath, downloadPath(p),
		FlagNetworkPath, p.NetworkPath,
	)
}

func lenovo(out []string, req model.RunRequest, p model.Profile, opts Options) []string {
	out = append(out,
		FlagDownloadPath, downloadPath(p),
		FlagNetworkPath, p.NetworkPath,
	)
	if p.CatalogPath != "" {
		out = append(out, FlagCatalogPath, p.CatalogPath)
	}
	if p.DaysToRefresh > 0 {
		out = append(out, FlagDaysToRefresh, strconv.Itoa(p.DaysToRefresh))
	}
	return withOption(out, req, opts)
}

func hp(out []string, req model.RunRequest, p model.Profile, opts Options) []string {
	out = append(out,
		FlagLocalPath, downloadPath(p),
		FlagNetworkPath, p.NetworkPath,
	)
	return withOption(out, req, opts)
}

// withOption adds the configuration path and the mode switch: 1 for a single
// model, 2 for a CSV batch.
func withOption(out []string, req model.RunRequest, opts Options) []string {
	if opts.ConfigPath != "" {
		out = append(out, FlagConfigPath, opts.ConfigPath)
	}
	option := "1"
	if req.IsBatch() {
		option = "2"
	}
	return append(out, FlagOption, option)
}

func downloadPath(p model.Profile) string {
	if p.DownloadPath != "" {
		return p.DownloadPath
	}
	return filepath.Join(os.TempDir(), string(p.Vendor)+"Drivers")
}

// Quote renders args as a single line for logs. Values containing
// whitespace or quotes are double quoted.
func Quote(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}
