package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lukemcguire/throttleprobe/account"
)

// JobAPIConfig locates the asynchronous job API.
type JobAPIConfig struct {
	BaseURL       string        // e.g. https://api.apify.com
	ActorID       string        // Scraper actor to run
	SubmitTimeout time.Duration // Per-request timeout for job creation (default 30s)
	StatusTimeout time.Duration // Per-request timeout for status and dataset reads (default 10s)
}

// Defaults for the job API.
const (
	DefaultJobAPIBaseURL = "https://api.apify.com"
	DefaultActorID       = "shu8hvrXbJbY3Eb9W"
)

// JobClient issues the three job API calls through an account session.
type JobClient struct {
	session *account.Session
	cfg     JobAPIConfig
}

// NewJobClient creates a client, filling unset config fields with defaults.
func NewJobClient(session *account.Session, cfg JobAPIConfig) *JobClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultJobAPIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ActorID == "" {
		cfg.ActorID = DefaultActorID
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 10 * time.Second
	}
	return &JobClient{session: session, cfg: cfg}
}

// jobInput is the fixed job parameter set sent with every submission.
type jobInput struct {
	StartURLs            []startURL `json:"startUrls"`
	MaxItems             int        `json:"maxItems"`
	ExtendOutputFunction string     `json:"extendOutputFunction"`
	CustomMapFunction    string     `json:"customMapFunction"`
	Proxy                struct {
		UseApifyProxy bool `json:"useApifyProxy"`
	} `json:"proxy"`
}

type startURL struct {
	URL string `json:"url"`
}

// runEnvelope is the job API's wrapper around run metadata.
type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

// Submit creates a job run for target.
func (c *JobClient) Submit(ctx context.Context, target string) (*account.Response, error) {
	input := jobInput{
		StartURLs: []startURL{{URL: target}},
		MaxItems:  1,
	}
	input.Proxy.UseApifyProxy = true

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode job input: %w", err)
	}

	endpoint := c.endpoint("/v2/acts/" + url.PathEscape(c.cfg.ActorID) + "/runs")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.session.Do(ctx, req, c.cfg.SubmitTimeout)
}

// Status fetches the current state of a run.
func (c *JobClient) Status(ctx context.Context, runID string) (*account.Response, error) {
	return c.get(ctx, "/v2/actor-runs/"+url.PathEscape(runID))
}

// DatasetItems fetches the items of a run's result dataset.
func (c *JobClient) DatasetItems(ctx context.Context, datasetID string) (*account.Response, error) {
	return c.get(ctx, "/v2/datasets/"+url.PathEscape(datasetID)+"/items")
}

func (c *JobClient) get(ctx context.Context, path string) (*account.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", path, err)
	}
	return c.session.Do(ctx, req, c.cfg.StatusTimeout)
}

// endpoint joins path to the base URL and appends the account token.
func (c *JobClient) endpoint(path string) string {
	q := url.Values{}
	q.Set("token", c.session.Account().Token)
	return c.cfg.BaseURL + path + "?" + q.Encode()
}

// decodeRun parses a run envelope from a submit or status response body.
func decodeRun(body []byte) (runEnvelope, error) {
	var env runEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decode run: %w", err)
	}
	return env, nil
}
