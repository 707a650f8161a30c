// package musicbrainz implements the MusicBrainz connector over
// github.com/go-resty/resty/v2. MusicBrainz asks API consumers to serialize
// requests to roughly one per second; this mirrors
// original_source/narada/integrations/musicbrainz.py's
// mutex-plus-last-call-timestamp limiter rather than a token bucket, since
// MusicBrainz's own guidance is "one in flight at a time", not a burst rate.
package musicbrainz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/narada/internal/shared"
	"github.com/go-resty/resty/v2"
)

const (
	baseURL        = "https://musicbrainz.org/ws/2/"
	minInterval    = 1100 * time.Millisecond
	maxRetries     = 3
)

// Connector wraps the MusicBrainz web service.
type Connector struct {
	http      *resty.Client
	mu        sync.Mutex
	lastCall  time.Time
}

// NewConnector builds a Connector. userAgent must identify the application
// per MusicBrainz's API etiquette; requests without one are throttled more
// aggressively by the service itself.
func NewConnector(userAgent string) *Connector {
	if userAgent == "" {
		userAgent = "narada/0.1.0"
	}
	return &Connector{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second).SetHeader("User-Agent", userAgent),
	}
}

// Name identifies this connector.
func (c *Connector) Name() string { return "musicbrainz" }

// rateLimit sleeps, if needed, so calls are spaced at least minInterval
// apart, then records this call's timestamp.
func (c *Connector) rateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	since := time.Since(c.lastCall)
	if since < minInterval {
		time.Sleep(minInterval - since)
	}
	c.lastCall = time.Now()
}

// GetRecordingByISRC resolves a single ISRC to a MusicBrainz recording id,
// making up to maxRetries attempts in total on transient failures with
// exponential backoff, and giving up immediately on a 404 (no such ISRC).
func (c *Connector) GetRecordingByISRC(ctx context.Context, isrc string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		c.rateLimit()

		var body struct {
			Recordings []struct {
				ID string `json:"id"`
			} `json:"recordings"`
		}

		resp, err := c.http.R().SetContext(ctx).
			SetQueryParam("query", fmt.Sprintf("isrc:%s", isrc)).
			SetQueryParam("fmt", "json").
			SetResult(&body).
			Get("recording")

		if err != nil {
			lastErr = fmt.Errorf("%w: musicbrainz request failed: %v", shared.ErrTransientExternal, err)
			backoff(attempt)
			continue
		}

		if resp.StatusCode() == 404 {
			return "", fmt.Errorf("%w: no musicbrainz recording for isrc %s", shared.ErrNotFound, isrc)
		}
		if resp.IsError() {
			lastErr = fmt.Errorf("%w: musicbrainz returned %d", shared.ErrTransientExternal, resp.StatusCode())
			backoff(attempt)
			continue
		}

		if len(body.Recordings) == 0 {
			return "", fmt.Errorf("%w: no musicbrainz recording for isrc %s", shared.ErrNotFound, isrc)
		}

		return body.Recordings[0].ID, nil
	}

	return "", lastErr
}

// BatchISRCLookup resolves each ISRC to an MBID serially, since MusicBrainz
// has no true batch ISRC endpoint; ISRCs that fail to resolve are simply
// absent from the result rather than failing the whole batch.
func (c *Connector) BatchISRCLookup(ctx context.Context, isrcs []string) (map[string]string, error) {
	result := make(map[string]string, len(isrcs))
	for _, isrc := range isrcs {
		mbid, err := c.GetRecordingByISRC(ctx, isrc)
		if err != nil {
			continue
		}
		result[isrc] = mbid
	}
	return result, nil
}

// backoff sleeps 500ms * 2^attempt (no jitter) ahead of a retried
// MusicBrainz call. No ecosystem backoff library appears anywhere in the example pack
// (the original Python uses the `backoff` PyPI package, which has no direct
// Go analogue among the retrieved repos), so this is a small stdlib
// implementation rather than a fabricated dependency.
func backoff(attempt int) {
	base := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
	time.Sleep(base)
}
