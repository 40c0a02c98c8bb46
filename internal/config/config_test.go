package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("rpc-url", "", "")
	flags.Int("workers", 1, "")
	flags.String("queries", "", "")
	return flags
}

func TestLoadMergesFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "config.yaml", `
rpc-url: http://file:8545
etherscan-api-key: file-key
block-span: 50
http-timeout: 3s
log-level: debug
`)
	t.Setenv("COLLECTOR_RPC_URL", "http://env:8545")
	t.Setenv("COLLECTOR_BATCH_SIZE", "250")

	flags := runFlags()
	require.NoError(t, flags.Parse([]string{"--workers", "4"}))

	cfg, err := Load(cfgFile, flags)
	require.NoError(t, err)

	assert.Equal(t, "http://env:8545", cfg.RPCURL)
	assert.Equal(t, "file-key", cfg.ABIAPIKey)
	assert.Equal(t, uint64(50), cfg.BlockSpan)
	assert.Equal(t, uint64(250), cfg.BatchSize)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 18, cfg.Scale)
	assert.Equal(t, "https://api.etherscan.io/api", cfg.ABIEndpoint)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "config.yaml", "block-span: 0\nformat: csv\n")

	flags := runFlags()
	require.NoError(t, flags.Parse([]string{"--workers", "0"}))

	_, err := Load(cfgFile, flags)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.GreaterOrEqual(t, len(verr.Issues), 3)
}

func TestLoadChecksConfigFileKeys(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "config.json", `{"rpc_url":"http://node:8545","etherscan_api_key":"k","blok-span":5}`)

	_, err := Load(cfgFile, nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.Contains(t, strings.Join(verr.Issues, "; "), "blok_span")

	cfgFile = writeFile(t, dir, "config.json", `{"rpc_url":"http://node:8545","etherscan_api_key":"k","block_span":5,"retry_backoff":"1s"}`)
	cfg, err := Load(cfgFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", cfg.RPCURL)
	assert.Equal(t, "k", cfg.ABIAPIKey)
	assert.Equal(t, uint64(5), cfg.BlockSpan)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
}

func TestLoadRequiresNodeAndLookupKey(t *testing.T) {
	cfgFile := writeFile(t, t.TempDir(), "config.yaml", "block-span: 5\n")

	_, err := Load(cfgFile, nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	issues := strings.Join(verr.Issues, "; ")
	assert.Contains(t, issues, "/rpc_url")
	assert.Contains(t, issues, "/abi_api_key")
}

func TestLoadDecodeRejectsUnknownKeys(t *testing.T) {
	flags := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	flags.String("abi", "", "")
	flags.String("in", "", "")
	cfgFile := writeFile(t, t.TempDir(), "config.yaml", "abi: pair.json\nin: raw.jsonl\nworkerz: 4\n")

	_, err := LoadDecode(cfgFile, flags)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.Equal(t, []string{`unknown key "workerz"`}, verr.Issues)
}

func TestLoadUsesSchemaFile(t *testing.T) {
	dir := t.TempDir()
	schemaFile := writeFile(t, dir, "schema.json", `{
	  "type": "object",
	  "required": ["rpc_url"],
	  "properties": {"rpc_url": {"type": "string", "pattern": "^wss://"}}
	}`)
	cfgFile := writeFile(t, dir, "config.yaml", "rpc-url: http://localhost:8545\nschema: "+schemaFile+"\n")

	_, err := Load(cfgFile, nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)

	cfgFile = writeFile(t, dir, "config.yaml", "rpc-url: wss://node\nschema: "+schemaFile+"\n")
	cfg, err := Load(cfgFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://node", cfg.RPCURL)
}

func TestLoadDecodeRequiresPaths(t *testing.T) {
	flags := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	flags.String("abi", "", "")
	flags.String("in", "", "")
	flags.StringSlice("normalize", nil, "")
	flags.Bool("skip-unknown", false, "")
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "config.yaml", "log-level: info\n")

	_, err := LoadDecode(cfgFile, flags)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	require.NoError(t, flags.Parse([]string{"--abi", "pair.json", "--in", "raw.jsonl", "--normalize", "amount0In, reserve0", "--skip-unknown"}))
	cfg, err := LoadDecode(cfgFile, flags)
	require.NoError(t, err)
	assert.Equal(t, []string{"amount0In", "reserve0"}, cfg.NormalizeFields)
	assert.True(t, cfg.SkipUnknown)
	assert.Equal(t, 18, cfg.Scale)
}

func TestLoadABIArguments(t *testing.T) {
	newFlags := func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("abi", pflag.ContinueOnError)
		flags.String("address", "", "")
		flags.String("query", "", "")
		flags.Bool("persist", false, "")
		return flags
	}
	cfgFile := writeFile(t, t.TempDir(), "config.yaml", "abi-api-key: k\n")

	cases := []struct {
		name string
		args []string
		ok   bool
	}{
		{"neither", nil, false},
		{"both", []string{"--address", "0x1", "--query", "pair"}, false},
		{"persist without query", []string{"--address", "0x1", "--persist"}, false},
		{"address", []string{"--address", "0x1"}, true},
		{"query with persist", []string{"--query", "pair", "--persist"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flags := newFlags()
			require.NoError(t, flags.Parse(tc.args))
			cfg, err := LoadABI(cfgFile, flags)
			if !tc.ok {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "k", cfg.ABIAPIKey)
			assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
		})
	}
}

const queriesDoc = `{
  "uniswap_pair": {
    "contract_address": "0xD0638b91bC6B301A0eEF5A109ED11cb30ed13bCE",
    "abi": "",
    "output_path": "data/pair.parquet",
    "normalize_fields": ["amount0In", "reserve0"],
    "comment": "kept as is"
  },
  "token": {
    "contract_address": "0xA43fe16908251ee70EF74718545e4FE6C5cCEc9f",
    "abi": "[{\"type\":\"event\",\"name\":\"Transfer\",\"inputs\":[]}]",
    "output_path": "data/token.jsonl",
    "scale": 6
  }
}`

func TestParseQueries(t *testing.T) {
	qf, err := ParseQueries([]byte(queriesDoc))
	require.NoError(t, err)

	assert.Equal(t, []string{"uniswap_pair", "token"}, qf.Names())

	pair, ok := qf.Get("uniswap_pair")
	require.True(t, ok)
	assert.False(t, pair.HasABI())
	assert.Equal(t, 18, pair.ScaleOr(18))
	assert.Equal(t, []string{"amount0In", "reserve0"}, pair.NormalizeFields)

	token, ok := qf.Get("token")
	require.True(t, ok)
	assert.True(t, token.HasABI())
	assert.Equal(t, byte('['), token.ABI[0])
	assert.Equal(t, 6, token.ScaleOr(18))
}

func TestParseQueriesRejectsInvalidEntries(t *testing.T) {
	_, err := ParseQueries([]byte(`{"bad": {"contract_address": "0x12", "output_path": ""}}`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Issues, 2)

	_, err = ParseQueries([]byte(`[]`))
	require.True(t, errors.As(err, &verr))
}

func TestPersistResolvedABI(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "queries.json", queriesDoc)

	qf, err := LoadQueries(path)
	require.NoError(t, err)

	resolved := json.RawMessage(`"[{\"type\":\"event\",\"name\":\"Sync\",\"inputs\":[]}]"`)
	require.NoError(t, qf.PersistResolvedABI("uniswap_pair", resolved))
	require.Error(t, qf.PersistResolvedABI("missing", resolved))

	pair, _ := qf.Get("uniswap_pair")
	assert.True(t, pair.HasABI())

	reloaded, err := LoadQueries(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"uniswap_pair", "token"}, reloaded.Names())
	pair, _ = reloaded.Get("uniswap_pair")
	assert.JSONEq(t, `[{"type":"event","name":"Sync","inputs":[]}]`, string(pair.ABI))

	var doc map[string]map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "kept as is", doc["uniswap_pair"]["comment"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
