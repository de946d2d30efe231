package model

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

// Config is the vendor configuration document. Key names follow the document
// written by the settings editor, so they are not idiomatic Go tags.
type Config struct {
	Dell   *DellConfig   `json:"Dell,omitempty" yaml:"Dell,omitempty"`
	Lenovo *LenovoConfig `json:"Lenovo,omitempty" yaml:"Lenovo,omitempty"`
	HP     *HPConfig     `json:"HP,omitempty" yaml:"HP,omitempty"`
}

type DellConfig struct {
	DriverScriptName string `json:"DriverScriptName" yaml:"DriverScriptName"`
	DownloadPath     string `json:"DownloadPath" yaml:"DownloadPath"`
	NetworkPath      string `json:"NetworkPath" yaml:"NetworkPath"`
	PowerShellExe    string `json:"PowerShellExe,omitempty" yaml:"PowerShellExe,omitempty"`
}

type LenovoConfig struct {
	DriverScriptName string `json:"DriverScriptName" yaml:"DriverScriptName"`
	DownloadPath     string `json:"DownloadPath" yaml:"DownloadPath"`
	NetworkPath      string `json:"NetworkPath" yaml:"NetworkPath"`
	CatalogPath      string `json:"CatalogPath,omitempty" yaml:"CatalogPath,omitempty"`
	DaysToRefresh    int    `json:"DaysToRefresh,omitempty" yaml:"DaysToRefresh,omitempty"`
	PowerShellExe    string `json:"PowerShellExe,omitempty" yaml:"PowerShellExe,omitempty"`
}

// HPConfig calls its download path LocalPath.
type HPConfig struct {
	DriverScriptName string `json:"DriverScriptName" yaml:"DriverScriptName"`
	LocalPath        string `json:"LocalPath" yaml:"LocalPath"`
	NetworkPath      string `json:"NetworkPath" yaml:"NetworkPath"`
	PowerShellExe    string `json:"PowerShellExe,omitempty" yaml:"PowerShellExe,omitempty"`
}

// Profile is the vendor-neutral view of one vendor record. Paths are
// expanded against the environment.
type Profile struct {
	Vendor        Vendor
	ScriptName    string
	DownloadPath  string
	NetworkPath   string
	CatalogPath   string
	DaysToRefresh int
	Executable    string
}

// LoadConfig validates YAML (or JSON) from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig returns the configuration shipped with the application.
func DefaultConfig() Config {
	return Config{
		Dell: &DellConfig{
			DriverScriptName: "Dell-Drivers.ps1",
			DownloadPath:     "",
			NetworkPath:      "%USERPROFILE%\\Documents\\LocalDell",
		},
		Lenovo: &LenovoConfig{
			DriverScriptName: "Lenovo-Drivers.ps1",
			DownloadPath:     "%USERPROFILE%\\Downloads\\.Lenovo",
			NetworkPath:      "%USERPROFILE%\\Documents\\LocalLenovo",
			CatalogPath:      ".\\Resources\\LenovoDriverPackCatalog.xml",
			DaysToRefresh:    40,
		},
		HP: &HPConfig{
			DriverScriptName: "HP-Drivers.ps1",
			LocalPath:        "C:\\HP-Drivers",
			NetworkPath:      "%USERPROFILE%\\Documents\\LocalHP",
			PowerShellExe:    "C:\\Program Files\\PowerShell\\7\\pwsh.exe",
		},
	}
}

// Profile returns the record of a vendor. The record must exist and carry
// a script name and a network path.
func (c *Config) Profile(v Vendor) (Profile, error) {
	var p Profile
	switch v {
	case VendorDell:
		if c == nil || c.Dell == nil {
			return Profile{}, fmt.Errorf("%w: %s not configured", ErrUnknownVendor, v)
		}
		d := c.Dell
		p = Profile{ScriptName: d.DriverScriptName, DownloadPath: d.DownloadPath, NetworkPath: d.NetworkPath, Executable: d.PowerShellExe}
	case VendorLenovo:
		if c == nil || c.Lenovo == nil {
			return Profile{}, fmt.Errorf("%w: %s not configured", ErrUnknownVendor, v)
		}
		l := c.Lenovo
		p = Profile{ScriptName: l.DriverScriptName, DownloadPath: l.DownloadPath, NetworkPath: l.NetworkPath,
			CatalogPath: l.CatalogPath, DaysToRefresh: l.DaysToRefresh, Executable: l.PowerShellExe}
	case VendorHP:
		if c == nil || c.HP == nil {
			return Profile{}, fmt.Errorf("%w: %s not configured", ErrUnknownVendor, v)
		}
		h := c.HP
		p = Profile{ScriptName: h.DriverScriptName, DownloadPath: h.LocalPath, NetworkPath: h.NetworkPath, Executable: h.PowerShellExe}
	default:
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownVendor, string(v))
	}
	p.Vendor = v

	if p.ScriptName == "" {
		return Profile{}, fmt.Errorf("%w: %s.%s is empty", ErrConfig, v, FieldScriptName)
	}
	if p.NetworkPath == "" {
		return Profile{}, fmt.Errorf("%w: %s.%s is empty", ErrConfig, v, FieldNetworkPath)
	}

	p.DownloadPath = ExpandPath(p.DownloadPath)
	p.NetworkPath = ExpandPath(p.NetworkPath)
	p.CatalogPath = ExpandPath(p.CatalogPath)
	p.Executable = ExpandPath(p.Executable)
	return p, nil
}

// Get returns a single field of a vendor profile rendered as a string.
func (c *Config) Get(v Vendor, f Field) (string, error) {
	p, err := c.Profile(v)
	if err != nil {
		return "", err
	}
	if !v.HasField(f) {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownKey, v, f)
	}
	switch f {
	case FieldScriptName:
		return p.ScriptName, nil
	case FieldDownloadPath:
		return p.DownloadPath, nil
	case FieldNetworkPath:
		return p.NetworkPath, nil
	case FieldCatalogPath:
		return p.CatalogPath, nil
	case FieldDaysToRefresh:
		return strconv.Itoa(p.DaysToRefresh), nil
	case FieldExecutable:
		return p.Executable, nil
	}
	return "", fmt.Errorf("%w: %s.%s", ErrUnknownKey, v, f)
}

var percentVarRx = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_()]*)%`)

// ExpandPath replaces $VAR, ${VAR} and %VAR% references with values from
// the environment. Unknown %VAR% references are kept as they are.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = percentVarRx.ReplaceAllStringFunc(p, func(m string) string {
		if v, ok := os.LookupEnv(m[1 : len(m)-1]); ok {
			return v
		}
		return m
	})
	return os.ExpandEnv(p)
}
