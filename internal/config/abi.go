package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// ABIConfig holds configuration for the abi inspection command.
type ABIConfig struct {
	Address     string
	Query       string
	QueriesPath string
	Persist     bool
	ABIAPIKey   string
	ABIEndpoint string
	HTTPTimeout time.Duration
	LogLevel    string
}

// LoadABI merges config file, environment variables, and flags into ABIConfig.
// Exactly one of address and query must be set; persist needs a query.
func LoadABI(cfgFile string, flags *pflag.FlagSet) (ABIConfig, error) {
	v, settings, err := newViper(cfgFile, flags)
	if err != nil {
		return ABIConfig{}, err
	}

	v.SetDefault("abi-endpoint", "https://api.etherscan.io/api")
	v.SetDefault("queries", "./cfg/queries.json")
	v.SetDefault("http-timeout", 10*time.Second)
	v.SetDefault("log-level", "info")

	cfg := ABIConfig{
		Address:     strings.TrimSpace(v.GetString("address")),
		Query:       strings.TrimSpace(v.GetString("query")),
		QueriesPath: v.GetString("queries"),
		Persist:     v.GetBool("persist"),
		ABIAPIKey:   v.GetString("abi-api-key"),
		ABIEndpoint: v.GetString("abi-endpoint"),
		HTTPTimeout: v.GetDuration("http-timeout"),
		LogLevel:    strings.ToLower(v.GetString("log-level")),
	}

	issues := unknownKeys(settings)
	switch {
	case cfg.Address == "" && cfg.Query == "":
		issues = append(issues, "one of address or query is required")
	case cfg.Address != "" && cfg.Query != "":
		issues = append(issues, "address and query are mutually exclusive")
	}
	if cfg.Persist && cfg.Query == "" {
		issues = append(issues, "persist requires a query")
	}
	if cfg.HTTPTimeout <= 0 {
		issues = append(issues, "http timeout must be positive")
	}
	if len(issues) > 0 {
		return ABIConfig{}, &ValidationError{Source: "abi config", Issues: issues}
	}
	return cfg, nil
}
