package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var defaultSchema string

const defaultSchemaURL = "collector-config.schema.json"

// ValidationError reports a configuration or query file that does not pass
// validation. It is fatal at startup.
type ValidationError struct {
	Source string
	Issues []string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("invalid %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Source, strings.Join(e.Issues, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Document returns the config as the JSON document checked by the schema.
func (c Config) Document() map[string]any {
	return map[string]any{
		"rpc_url":          c.RPCURL,
		"abi_api_key":      c.ABIAPIKey,
		"abi_endpoint":     c.ABIEndpoint,
		"queries":          c.QueriesPath,
		"block_span":       c.BlockSpan,
		"batch_size":       c.BatchSize,
		"workers":          c.Workers,
		"scale":            c.Scale,
		"http_timeout_ms":  c.HTTPTimeout.Milliseconds(),
		"max_retries":      c.MaxRetries,
		"retry_backoff_ms": c.RetryBackoff.Milliseconds(),
		"pg_dsn":           c.PGDSN,
		"format":           c.Format,
		"skip_unknown":     c.SkipUnknown,
		"interval_ms":      c.Interval.Milliseconds(),
		"log_level":        c.LogLevel,
	}
}

// durationKeys are the settings the schema sees in milliseconds.
var durationKeys = map[string]string{
	"http-timeout":  "http_timeout_ms",
	"retry-backoff": "retry_backoff_ms",
	"interval":      "interval_ms",
}

// documentKey maps a hyphenated setting name to its schema property.
func documentKey(setting string) string {
	if key, ok := durationKeys[setting]; ok {
		return key
	}
	return strings.ReplaceAll(setting, "-", "_")
}

// Validate checks the config against the embedded schema, or against the
// schema file named by SchemaPath when set. File settings that the config does
// not carry are added to the checked document, so misspelled or unsupported
// keys fail validation instead of being dropped.
func Validate(cfg Config, file map[string]any) error {
	schema, err := compileSchema(cfg.SchemaPath)
	if err != nil {
		return &ValidationError{Source: "config schema", Err: err}
	}

	document := cfg.Document()
	for key, value := range file {
		if _, ok := document[documentKey(key)]; !ok {
			document[documentKey(key)] = value
		}
	}

	// the validator expects values shaped like encoding/json output
	raw, err := json.Marshal(document)
	if err != nil {
		return &ValidationError{Source: "config", Err: err}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{Source: "config", Err: err}
	}

	if err := schema.Validate(doc); err != nil {
		verr := &ValidationError{Source: "config", Err: err}
		var schemaErr *jsonschema.ValidationError
		if errors.As(err, &schemaErr) {
			verr.Issues = flattenIssues(schemaErr)
		}
		return verr
	}
	return nil
}

// unknownKeys lists file settings that are not properties of the embedded
// schema.
func unknownKeys(file map[string]any) []string {
	var schemaDoc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal([]byte(defaultSchema), &schemaDoc); err != nil {
		return []string{fmt.Sprintf("embedded schema: %v", err)}
	}

	var issues []string
	for key := range file {
		if _, ok := schemaDoc.Properties[documentKey(key)]; !ok {
			issues = append(issues, fmt.Sprintf("unknown key %q", key))
		}
	}
	sort.Strings(issues)
	return issues
}

func compileSchema(path string) (*jsonschema.Schema, error) {
	if path != "" {
		return jsonschema.Compile(path)
	}
	return jsonschema.CompileString(defaultSchemaURL, defaultSchema)
}

func flattenIssues(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		return []string{fmt.Sprintf("%s: %s", location, err.Message)}
	}
	var out []string
	for _, cause := range err.Causes {
		out = append(out, flattenIssues(cause)...)
	}
	return out
}
