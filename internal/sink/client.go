package sink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/flowhook/reactor/internal/model"
)

// Client is an HTTP Sink. All calls share one rate limiter so bursts of
// reactions cannot flood the downstream service; each request gets a bounded
// timeout and one in-band retry on transient failure.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	timeout time.Duration
	log     zerolog.Logger
}

// NewClient builds a Client for the action service at baseURL. rps bounds
// outbound requests per second; timeout bounds each individual request.
func NewClient(baseURL string, rps float64, timeout time.Duration, log zerolog.Logger) *Client {
	if rps <= 0 {
		rps = 1
	}
	if timeout <= 0 {
		timeout = 7 * time.Second
	}
	return &Client{
		http:    resty.New().SetBaseURL(baseURL).SetHeader("Content-Type", "application/json"),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		timeout: timeout,
		log:     log,
	}
}

type createResponse struct {
	ID  string `json:"id"`
	Ref string `json:"ref"`
}

// Execute implements Sink.
func (c *Client) Execute(ctx context.Context, kind model.ActionKind, params map[string]string) (string, error) {
	path, ok := pathFor(kind)
	if !ok {
		return "", errors.Errorf("sink: unknown action kind %q", kind)
	}

	ref, err := c.post(ctx, path, params)
	if err != nil && errors.Is(err, model.ErrSinkUnavailable) {
		c.log.Warn().Err(err).Str("kind", string(kind)).Msg("sink call failed, retrying once")
		ref, err = c.post(ctx, path, params)
	}
	return ref, err
}

func (c *Client) post(ctx context.Context, path string, params map[string]string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "sink: rate limit wait")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out createResponse
	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(params).
		SetResult(&out).
		Post(path)
	if err != nil {
		return "", errors.Wrapf(model.ErrSinkUnavailable, "sink: post %s: %v", path, err)
	}

	switch {
	case resp.StatusCode() >= 200 && resp.StatusCode() < 300:
		if out.Ref != "" {
			return out.Ref, nil
		}
		return out.ID, nil
	case resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests:
		return "", errors.Wrapf(model.ErrSinkUnavailable, "sink: post %s: status %d", path, resp.StatusCode())
	default:
		// 4xx is permanent: retrying the same payload cannot help.
		return "", errors.Errorf("sink: post %s rejected: status %d: %s", path, resp.StatusCode(), truncate(resp.String(), 200))
	}
}

func pathFor(kind model.ActionKind) (string, bool) {
	switch kind {
	case model.ActionCreateTask:
		return "/tasks", true
	case model.ActionCreateCalendarEvent:
		return "/events", true
	case model.ActionCreateNote:
		return "/notes", true
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
