package buildkite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dougbtv/vllm-flake-checker/pkg/httpclient"
)

// ErrNoLog signals that a job has no log yet (the API answers 404). Callers
// treat this as absence, not as a failure.
var ErrNoLog = errors.New("job log not available")

const (
	listTimeout = 30 * time.Second
	logTimeout  = 60 * time.Second

	// logFetchDelay is slept after every successful log download to stay
	// clear of provider-side throttling, independent of the retry backoff.
	logFetchDelay = 300 * time.Millisecond
)

// Client talks to the Buildkite REST API for a single organization/pipeline.
type Client struct {
	http     *httpclient.Client
	baseURL  string
	org      string
	pipeline string

	// Sleep is called for the post-log-fetch throttle delay. Replaceable
	// in tests.
	Sleep func(time.Duration)
}

// NewClient returns a client rooted at baseURL (the production API is
// https://api.buildkite.com/v2).
func NewClient(http *httpclient.Client, baseURL, org, pipeline string) *Client {
	return &Client{
		http:     http,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		org:      org,
		pipeline: pipeline,
		Sleep:    time.Sleep,
	}
}

// ListBuilds fetches one page of builds with embedded job metadata. The second
// return value is the URL of the next page, empty on the last page.
func (c *Client) ListBuilds(ctx context.Context, page int, perPage int) ([]Build, string, error) {
	params := url.Values{}
	params.Set("page", fmt.Sprintf("%d", page))
	params.Set("per_page", fmt.Sprintf("%d", perPage))
	params.Set("include_retried_jobs", "true")

	requestURL := fmt.Sprintf("%s/organizations/%s/pipelines/%s/builds?%s",
		c.baseURL, c.org, c.pipeline, params.Encode())

	resp, err := c.http.Get(ctx, requestURL, listTimeout)
	if err != nil {
		return nil, "", fmt.Errorf("fetching builds page %d: %w", page, err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("fetching builds page %d: HTTP %d", page, resp.StatusCode())
	}

	var builds []Build
	if err := json.Unmarshal(resp.Bytes(), &builds); err != nil {
		return nil, "", fmt.Errorf("decoding builds page %d: %w", page, err)
	}

	return builds, nextPageURL(resp.Header().Get("Link")), nil
}

// JobLog downloads the plain-text log of a job. A 404 becomes ErrNoLog.
func (c *Client) JobLog(ctx context.Context, buildNumber int, jobID string) (string, error) {
	requestURL := fmt.Sprintf("%s/organizations/%s/pipelines/%s/builds/%d/jobs/%s/log?format=txt",
		c.baseURL, c.org, c.pipeline, buildNumber, jobID)

	resp, err := c.http.Get(ctx, requestURL, logTimeout)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() == 404 {
		return "", ErrNoLog
	}
	if resp.IsError() {
		return "", fmt.Errorf("fetching job log: HTTP %d", resp.StatusCode())
	}

	c.Sleep(logFetchDelay)
	return resp.String(), nil
}

// nextPageURL extracts the rel="next" target from an RFC 5988 Link header.
func nextPageURL(linkHeader string) string {
	for _, part := range strings.Split(linkHeader, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(section[0]), "<>")
		for _, param := range section[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}
