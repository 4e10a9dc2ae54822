package buildkite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dougbtv/vllm-flake-checker/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string, sleeps *[]time.Duration) *Client {
	hc := httpclient.New("test-token")
	hc.BackoffUnit = time.Millisecond
	hc.Sleep = func(d time.Duration) {}

	c := NewClient(hc, serverURL, "vllm", "ci")
	c.Sleep = func(d time.Duration) {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
	}
	return c
}

func TestListBuilds_RequestShapeAndPagination(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Link", `<https://api.buildkite.com/v2/organizations/vllm/pipelines/ci/builds?page=2>; rel="next", <https://api.buildkite.com/v2/organizations/vllm/pipelines/ci/builds?page=9>; rel="last"`)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"number":     4711,
				"branch":     "pull/123",
				"state":      "failed",
				"created_at": "2026-08-20T10:00:00Z",
				"web_url":    "https://buildkite.com/vllm/ci/builds/4711",
				"jobs": []map[string]any{
					{"id": "job-1", "label": "v1 Test others", "state": "failed"},
				},
			},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL, nil)
	builds, next, err := c.ListBuilds(context.Background(), 1, 50)
	require.NoError(t, err)

	assert.Equal(t, "/organizations/vllm/pipelines/ci/builds", gotPath)
	assert.Contains(t, gotQuery, "page=1")
	assert.Contains(t, gotQuery, "per_page=50")
	assert.Contains(t, gotQuery, "include_retried_jobs=true")

	require.Len(t, builds, 1)
	assert.Equal(t, 4711, builds[0].Number)
	assert.Equal(t, "pull/123", builds[0].Branch)
	require.Len(t, builds[0].Jobs, 1)
	assert.Equal(t, "job-1", builds[0].Jobs[0].ID)

	assert.Equal(t, "https://api.buildkite.com/v2/organizations/vllm/pipelines/ci/builds?page=2", next)
}

func TestListBuilds_NoLinkHeaderMeansLastPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, nil)
	builds, next, err := c.ListBuilds(context.Background(), 3, 50)
	require.NoError(t, err)
	assert.Empty(t, builds)
	assert.Empty(t, next)
}

func TestJobLog_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/organizations/vllm/pipelines/ci/builds/42/jobs/job-1/log", r.URL.Path)
		assert.Equal(t, "format=txt", r.URL.RawQuery)
		_, _ = w.Write([]byte("log line one\nlog line two\n"))
	}))
	defer server.Close()

	var sleeps []time.Duration
	c := newTestClient(server.URL, &sleeps)

	logText, err := c.JobLog(context.Background(), 42, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "log line one\nlog line two\n", logText)

	// One throttle delay per successful fetch.
	require.Len(t, sleeps, 1)
	assert.Equal(t, 300*time.Millisecond, sleeps[0])
}

func TestJobLog_NotFoundIsErrNoLog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var sleeps []time.Duration
	c := newTestClient(server.URL, &sleeps)

	_, err := c.JobLog(context.Background(), 42, "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoLog))
	assert.Empty(t, sleeps, "no throttle delay when there is no log")
}

func TestJobLog_ServerErrorIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestClient(server.URL, nil)
	_, err := c.JobLog(context.Background(), 42, "job-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoLog))
	assert.Contains(t, err.Error(), "403")
}

func TestDisplayLabel_FallsBackToName(t *testing.T) {
	assert.Equal(t, "a label", Job{Label: "a label", Name: "a name"}.DisplayLabel())
	assert.Equal(t, "a name", Job{Name: "a name"}.DisplayLabel())
	assert.Equal(t, "", Job{}.DisplayLabel())
}

func TestNextPageURL(t *testing.T) {
	assert.Equal(t, "", nextPageURL(""))
	assert.Equal(t, "", nextPageURL(`<https://x/builds?page=1>; rel="prev"`))
	assert.Equal(t, "https://x/builds?page=2",
		nextPageURL(`<https://x/builds?page=1>; rel="prev", <https://x/builds?page=2>; rel="next"`))
}
