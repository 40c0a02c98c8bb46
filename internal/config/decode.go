package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// DecodeConfig holds configuration for the offline decode command.
type DecodeConfig struct {
	ABIPath         string
	In              string
	Out             string
	Errors          string
	Format          string
	SkipUnknown     bool
	NormalizeFields []string
	Scale           int
	Workers         int
	LogLevel        string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, settings, err := newViper(cfgFile, flags)
	if err != nil {
		return DecodeConfig{}, err
	}

	v.SetDefault("out", "./data/decoded.parquet")
	v.SetDefault("scale", 18)
	v.SetDefault("workers", 1)
	v.SetDefault("log-level", "info")

	cfg := DecodeConfig{
		ABIPath:         v.GetString("abi"),
		In:              v.GetString("in"),
		Out:             v.GetString("out"),
		Errors:          v.GetString("errors"),
		Format:          strings.ToLower(v.GetString("format")),
		SkipUnknown:     v.GetBool("skip-unknown"),
		NormalizeFields: getStringSlice(v, "normalize"),
		Scale:           v.GetInt("scale"),
		Workers:         v.GetInt("workers"),
		LogLevel:        strings.ToLower(v.GetString("log-level")),
	}

	issues := unknownKeys(settings)
	if cfg.ABIPath == "" {
		issues = append(issues, "abi path is required")
	}
	if cfg.In == "" {
		issues = append(issues, "input path is required")
	}
	if cfg.Out == "" {
		issues = append(issues, "output path is required")
	}
	if cfg.Scale < 0 {
		issues = append(issues, fmt.Sprintf("scale must be >= 0, got %d", cfg.Scale))
	}
	if cfg.Workers < 1 {
		issues = append(issues, fmt.Sprintf("workers must be >= 1, got %d", cfg.Workers))
	}
	if len(issues) > 0 {
		return DecodeConfig{}, &ValidationError{Source: "decode config", Issues: issues}
	}
	return cfg, nil
}
