package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"resty.dev/v3"
)

// ErrRetriesExhausted is returned when the retry budget is used up on
// rate-limit or server-error responses.
var ErrRetriesExhausted = errors.New("retries exhausted")

// DefaultMaxRetries is the retry budget applied to every request.
const DefaultMaxRetries = 3

// Client wraps a resty client with the retry and backoff policy used for all
// Buildkite API traffic. The policy lives here rather than in resty's retry
// hooks because it distinguishes cases resty's conditions cannot express.
type Client struct {
	rest *resty.Client

	// MaxRetries is the total number of attempts per request.
	MaxRetries int
	// BackoffUnit is the base backoff delay. One second in production,
	// shrunk in tests.
	BackoffUnit time.Duration
	// Sleep is called for every backoff wait. Replaceable in tests.
	Sleep func(time.Duration)
}

// New returns a client that authenticates every request with the given bearer
// token.
func New(token string) *Client {
	rest := resty.New().SetHeader("Accept", "application/json")
	if token != "" {
		rest.SetAuthToken(token)
	}

	return &Client{
		rest:        rest,
		MaxRetries:  DefaultMaxRetries,
		BackoffUnit: time.Second,
		Sleep:       time.Sleep,
	}
}

// Get issues an authenticated GET and applies the retry policy:
//
//   - 429 and 5xx responses back off exponentially (2^attempt units, times 5
//     for rate limits) and retry while attempts remain; exhausting the budget
//     returns ErrRetriesExhausted.
//   - Timeouts retry immediately without a backoff wait.
//   - Other transport failures retry only when the failing attempt is neither
//     the first nor the last, with a flat one-unit wait. The first-attempt
//     exclusion is intentional; keep it.
//
// Responses with any other status, including 404, are returned to the caller
// without error; status interpretation belongs to the API layer.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) (*resty.Response, error) {
	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := c.rest.R().SetContext(attemptCtx).Get(url)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isTimeout(err) {
				if attempt < c.MaxRetries-1 {
					log.Debug().Str("url", url).Int("attempt", attempt+1).Msg("Request timed out, retrying")
					continue
				}
				return nil, fmt.Errorf("request timed out: %w", err)
			}
			if attempt > 0 && attempt < c.MaxRetries-1 {
				log.Warn().Err(err).Str("url", url).Msg("Request failed, retrying")
				c.Sleep(c.BackoffUnit)
				continue
			}
			return nil, err
		}

		status := resp.StatusCode()
		if status == http.StatusTooManyRequests || status >= 500 {
			if attempt < c.MaxRetries-1 {
				multiplier := 1
				if status == http.StatusTooManyRequests {
					multiplier = 5
				}
				wait := time.Duration((1<<attempt)*multiplier) * c.BackoffUnit
				log.Warn().Int("http", status).Dur("wait", wait).Str("url", url).Msg("Rate limit or server error, waiting before retry")
				c.Sleep(wait)
				continue
			}
			return nil, fmt.Errorf("%w: HTTP %d after %d attempts%s", ErrRetriesExhausted, status, c.MaxRetries, apiMessage(resp))
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%w: failed after %d attempts", ErrRetriesExhausted, c.MaxRetries)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// apiMessage extracts the error message the API embeds in failure bodies, for
// diagnostics only.
func apiMessage(resp *resty.Response) string {
	msg := gjson.GetBytes(resp.Bytes(), "message")
	if !msg.Exists() {
		return ""
	}
	return fmt.Sprintf(" (%s)", msg.String())
}
