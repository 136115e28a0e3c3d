package verdict

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the verdict server address.
// If not set, defaults to the VERDICT_SERVER_ADDR environment variable
// or DefaultServerAddr.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithActor sets the X-Actor header sent on every request. The actor is
// recorded on policy changes, kill switch flips, and escalation
// resolutions.
// If not set, defaults to the VERDICT_ACTOR environment variable or
// "sdk-go".
func WithActor(actor string) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

// WithAgentID sets the default agent id for evaluation requests. It is
// used when the EvaluateRequest context does not specify one.
// If not set, defaults to the VERDICT_AGENT_ID environment variable.
func WithAgentID(id string) Option {
	return func(c *Client) {
		c.agentID = id
	}
}

// WithSessionID sets the default session id for evaluation requests. It
// is used when the EvaluateRequest context does not specify one.
// If not set, defaults to the VERDICT_SESSION_ID environment variable.
func WithSessionID(id string) Option {
	return func(c *Client) {
		c.sessionID = id
	}
}

// WithFailMode sets the fail mode when the server is unreachable.
// Valid values are "open" (allow on failure) and "closed" (error on
// failure).
// If not set, defaults to the VERDICT_FAIL_MODE environment variable or
// "open".
func WithFailMode(mode string) Option {
	return func(c *Client) {
		c.failMode = mode
	}
}

// WithTimeout sets the HTTP request timeout.
// If not set, defaults to the VERDICT_TIMEOUT environment variable or
// 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithCacheTTL enables evaluation caching with the given entry
// time-to-live. Caching is off by default because decisions depend on
// session history; see Client for the trade-off.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = d
	}
}

// WithCacheMaxSize sets the maximum number of entries in the cache.
// If not set, defaults to 1000.
func WithCacheMaxSize(n int) Option {
	return func(c *Client) {
		c.cacheMaxSize = n
	}
}

// WithHTTPClient sets a custom http.Client for making requests.
// This is useful for testing, proxying, or custom transport
// configurations.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for fail-open warnings.
// If not set, defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
