package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultEndpoint is the Etherscan-compatible ABI lookup API.
const DefaultEndpoint = "https://api.etherscan.io/api"

const defaultTimeout = 10 * time.Second

// ResolverConfig configures remote ABI lookups.
type ResolverConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Resolver obtains contract ABIs from local data or a remote lookup service.
type Resolver struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Resolver{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
		logger:   logger,
	}
}

type lookupResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Resolve returns local verbatim when it is non-empty, otherwise it performs a
// single lookup request. Failures are not retried.
func (r *Resolver) Resolve(ctx context.Context, address string, local json.RawMessage) (json.RawMessage, error) {
	if !IsEmptyABI(local) {
		return local, nil
	}
	return r.fetch(ctx, address)
}

func (r *Resolver) fetch(ctx context.Context, address string) (json.RawMessage, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, &ResolutionError{Address: address, Err: fmt.Errorf("invalid endpoint: %w", err)}
	}
	q := u.Query()
	q.Set("module", "contract")
	q.Set("action", "getabi")
	q.Set("address", address)
	if r.apiKey != "" {
		q.Set("apikey", r.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &ResolutionError{Address: address, Err: err}
	}

	r.logger.Debug("abi lookup", zap.String("address", address), zap.String("endpoint", r.endpoint))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &ResolutionError{Address: address, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ResolutionError{
			Address: address,
			Err:     fmt.Errorf("code: %d, error-response: %s", resp.StatusCode, data),
		}
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &ParseError{Address: address, Err: fmt.Errorf("decode response: %w", err)}
	}
	if body.Status == "0" {
		return nil, &ResolutionError{
			Address: address,
			Err:     fmt.Errorf("lookup rejected: %s: %s", body.Message, resultText(body.Result)),
		}
	}

	doc, err := NormalizeABI(body.Result)
	if err != nil {
		return nil, &ParseError{Address: address, Err: err}
	}
	if _, err := ParseABI(doc); err != nil {
		return nil, &ParseError{Address: address, Err: err}
	}
	return doc, nil
}

func resultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
