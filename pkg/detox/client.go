// Package detox provides a client for a Detoxify-style multi-label
// toxicity scoring service.
package detox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/toxipipe/internal/model"
)

// Client defines the scoring oracle operations.
type Client interface {
	// Score submits cleaned text and returns the six-dimension toxicity
	// score vector. The vector is validated strictly: a missing, NaN, or
	// out-of-range dimension is an OracleError, never clamped. Empty text
	// is valid input.
	Score(ctx context.Context, text string) (model.ScoreVector, error)
}

// predictRequest is the wire request for the scoring service.
type predictRequest struct {
	Text string `json:"text"`
}

// predictResponse is the raw scoring response. Pointers distinguish a
// missing dimension from a genuine zero.
type predictResponse struct {
	Toxicity       *float64 `json:"toxicity"`
	SevereToxicity *float64 `json:"severe_toxicity"`
	Obscene        *float64 `json:"obscene"`
	Threat         *float64 `json:"threat"`
	Insult         *float64 `json:"insult"`
	IdentityAttack *float64 `json:"identity_attack"`
}

// Option configures the detox client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new scoring service client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transientStatusCode returns true for statuses that indicate a transient
// server-side issue. Retrying is the caller's job; the client performs a
// single attempt and tags the error accordingly.
func transientStatusCode(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (c *httpClient) Score(ctx context.Context, text string) (model.ScoreVector, error) {
	var zero model.ScoreVector

	payload, err := json.Marshal(predictRequest{Text: text})
	if err != nil {
		return zero, eris.Wrap(err, "detox: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return zero, eris.Wrap(err, "detox: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return zero, &model.OracleError{Reason: "request cancelled", Transient: false, Err: ctx.Err()}
		}
		return zero, &model.OracleError{Reason: "request failed", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return zero, &model.OracleError{Reason: "read response", Transient: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return zero, &model.OracleError{
			Reason:     "unexpected status " + resp.Status,
			StatusCode: resp.StatusCode,
			Transient:  transientStatusCode(resp.StatusCode),
		}
	}

	var pr predictResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return zero, &model.OracleError{Reason: "decode response", Err: err}
	}

	vec, err := pr.toVector()
	if err != nil {
		return zero, err
	}
	return vec, nil
}

// toVector converts the wire response to a ScoreVector, failing hard on any
// missing dimension.
func (r predictResponse) toVector() (model.ScoreVector, error) {
	var zero model.ScoreVector

	fields := map[string]*float64{
		"toxicity":        r.Toxicity,
		"severe_toxicity": r.SevereToxicity,
		"obscene":         r.Obscene,
		"threat":          r.Threat,
		"insult":          r.Insult,
		"identity_attack": r.IdentityAttack,
	}
	for name, v := range fields {
		if v == nil {
			return zero, &model.OracleError{Reason: "missing score dimension " + name}
		}
	}

	vec := model.ScoreVector{
		Toxicity:       *r.Toxicity,
		SevereToxicity: *r.SevereToxicity,
		Obscene:        *r.Obscene,
		Threat:         *r.Threat,
		Insult:         *r.Insult,
		IdentityAttack: *r.IdentityAttack,
	}
	if err := vec.Validate(); err != nil {
		return zero, err
	}
	return vec, nil
}
