package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "COLLECTOR"

// Config holds the run configuration loaded from flags, env, or config file.
type Config struct {
	RPCURL       string
	ABIAPIKey    string
	ABIEndpoint  string
	QueriesPath  string
	SchemaPath   string
	BlockSpan    uint64
	BatchSize    uint64
	Workers      int
	Scale        int
	HTTPTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	PGDSN        string
	Format       string
	SkipUnknown  bool
	Interval     time.Duration
	LogLevel     string
}

// Load merges config file, environment variables, and flags into Config and
// validates the result, together with any key of the config file that Config
// does not carry, against the config schema.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, settings, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}

	v.SetDefault("abi-endpoint", "https://api.etherscan.io/api")
	v.SetDefault("queries", "./cfg/queries.json")
	v.SetDefault("block-span", uint64(10))
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("workers", 1)
	v.SetDefault("scale", 18)
	v.SetDefault("http-timeout", 10*time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	cfg := Config{
		RPCURL:       v.GetString("rpc-url"),
		ABIAPIKey:    v.GetString("abi-api-key"),
		ABIEndpoint:  v.GetString("abi-endpoint"),
		QueriesPath:  v.GetString("queries"),
		SchemaPath:   v.GetString("schema"),
		BlockSpan:    v.GetUint64("block-span"),
		BatchSize:    v.GetUint64("batch-size"),
		Workers:      v.GetInt("workers"),
		Scale:        v.GetInt("scale"),
		HTTPTimeout:  v.GetDuration("http-timeout"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		PGDSN:        v.GetString("pg-dsn"),
		Format:       strings.ToLower(v.GetString("format")),
		SkipUnknown:  v.GetBool("skip-unknown"),
		Interval:     v.GetDuration("interval"),
		LogLevel:     strings.ToLower(v.GetString("log-level")),
	}

	if err := Validate(cfg, settings); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// newViper binds flags and env and merges the config file into the config
// layer. It also returns the file settings as written, keyed by hyphenated
// names, so callers can reject keys they do not know.
func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, map[string]any, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	file := viper.New()
	if cfgFile != "" {
		file.SetConfigFile(cfgFile)
		if err := file.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		file.SetConfigName("config")
		file.AddConfigPath(".")
		file.AddConfigPath("./cfg")
		if err := file.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	settings := fileSettings(file.AllSettings())
	if err := v.MergeConfigMap(settings); err != nil {
		return nil, nil, fmt.Errorf("merge config: %w", err)
	}

	// older deployments name the lookup key after the explorer
	if !v.IsSet("abi-api-key") && v.IsSet("etherscan-api-key") {
		v.Set("abi-api-key", v.GetString("etherscan-api-key"))
	}
	return v, settings, nil
}

// fileSettings accepts snake_case spellings of every key and the
// etherscan-api-key name of abi-api-key.
func fileSettings(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		out[strings.ReplaceAll(strings.ToLower(key), "_", "-")] = value
	}
	if key, ok := out["etherscan-api-key"]; ok {
		if _, set := out["abi-api-key"]; !set {
			out["abi-api-key"] = key
		}
		delete(out, "etherscan-api-key")
	}
	return out
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
