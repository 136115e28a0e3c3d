package verdict

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultServerAddr is where a locally run verdictd listens out of the
// box.
const DefaultServerAddr = "http://127.0.0.1:8372"

// Client talks to a verdictd server. It submits actions for evaluation,
// reports results for verification, and exposes the management surface.
// A Client is safe for concurrent use.
type Client struct {
	serverAddr string
	actor      string
	agentID    string
	sessionID  string
	failMode   string
	timeout    time.Duration
	httpClient *http.Client

	// Cache fields. Caching is off unless a TTL is configured: verdict
	// decisions depend on session history and wallet balances, and a
	// cache hit skips the audit log, so reuse is opt-in.
	cache        sync.Map
	cacheTTL     time.Duration
	cacheMaxSize int
	cacheCount   int64
	cacheMu      sync.Mutex

	logger *slog.Logger
}

// cacheEntry is a cached evaluation with expiry.
type cacheEntry struct {
	evaluation *Evaluation
	expiresAt  time.Time
	createdAt  time.Time
}

// NewClient creates a verdict SDK client. It reads configuration from
// VERDICT_* environment variables; options override those defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr:   envOrDefault("VERDICT_SERVER_ADDR", DefaultServerAddr),
		actor:        envOrDefault("VERDICT_ACTOR", "sdk-go"),
		agentID:      os.Getenv("VERDICT_AGENT_ID"),
		sessionID:    os.Getenv("VERDICT_SESSION_ID"),
		failMode:     envOrDefault("VERDICT_FAIL_MODE", "open"),
		timeout:      parseDurationEnv("VERDICT_TIMEOUT", 10*time.Second),
		cacheTTL:     parseDurationEnv("VERDICT_CACHE_TTL", 0),
		cacheMaxSize: parseIntEnv("VERDICT_CACHE_MAX_SIZE", 1000),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// Evaluate submits one proposed tool call and returns the engine's
// decision. A block is a successful evaluation: callers inspect
// Evaluation.Decision rather than the error. When the server is
// unreachable the fail mode decides the outcome: "open" returns a
// degraded allow, "closed" returns a *ServerUnreachableError.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*Evaluation, error) {
	// Fill identity defaults from client configuration.
	if req.Context.AgentID == "" {
		req.Context.AgentID = c.agentID
	}
	if req.Context.SessionID == "" {
		req.Context.SessionID = c.sessionID
	}

	var cacheKey string
	if c.cacheTTL > 0 {
		cacheKey = c.buildCacheKey(req)
		if ev, ok := c.getFromCache(cacheKey); ok {
			return ev, nil
		}
	}

	var ev Evaluation
	if err := c.doRequest(ctx, http.MethodPost, "/v1/evaluate", req, &ev); err != nil {
		var unreachable *ServerUnreachableError
		if errors.As(err, &unreachable) {
			if c.failMode == "closed" {
				return nil, err
			}
			// Fail open: let the action proceed, flagged as degraded.
			c.logger.Warn("verdict server unreachable, failing open",
				"server_addr", c.serverAddr,
				"error", err,
			)
			return &Evaluation{
				Decision:    DecisionAllow,
				Explanation: "server unreachable, fail-open",
				Degraded:    true,
			}, nil
		}
		return nil, err
	}

	if c.cacheTTL > 0 && ev.Decision == DecisionAllow {
		c.putInCache(cacheKey, &ev)
	}
	return &ev, nil
}

// Check is a convenience wrapper around Evaluate that reports whether
// the action may proceed. Review counts as not allowed.
func (c *Client) Check(ctx context.Context, req EvaluateRequest) (bool, error) {
	ev, err := c.Evaluate(ctx, req)
	if err != nil {
		return false, err
	}
	return ev.Decision == DecisionAllow, nil
}

// Verify reports a tool's actual result for post-execution verification
// against the action that approved it.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*Verification, error) {
	var v Verification
	if err := c.doRequest(ctx, http.MethodPost, "/v1/verify", req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// doRequest performs one HTTP round trip against the verdict server.
// Transport failures become *ServerUnreachableError; non-2xx responses
// become *APIError with the server's error message.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	url := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		httpReq.Header.Set("X-Actor", c.actor)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ServerUnreachableError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &APIError{
			Status:  httpResp.StatusCode,
			Message: errorMessage(respBody),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// errorMessage extracts the message from the server's {"error": ...}
// body, falling back to the raw body.
func errorMessage(body []byte) string {
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		return wire.Error
	}
	return strings.TrimSpace(string(body))
}

// buildCacheKey derives a cache key from the tool, the caller identity,
// and a hash of the arguments.
func (c *Client) buildCacheKey(req EvaluateRequest) string {
	h := sha256.New()
	if req.Args != nil {
		argBytes, _ := json.Marshal(req.Args)
		h.Write(argBytes)
	}
	argsHash := hex.EncodeToString(h.Sum(nil))[:16]
	return fmt.Sprintf("%s:%s:%s:%s", req.Tool, req.Context.AgentID, req.Context.SessionID, argsHash)
}

// getFromCache retrieves a cached evaluation if it exists and hasn't
// expired.
func (c *Client) getFromCache(key string) (*Evaluation, bool) {
	val, ok := c.cache.Load(key)
	if !ok {
		return nil, false
	}
	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.cache.Delete(key)
		c.cacheMu.Lock()
		c.cacheCount--
		c.cacheMu.Unlock()
		return nil, false
	}
	return entry.evaluation, true
}

// putInCache stores an evaluation in the cache.
func (c *Client) putInCache(key string, ev *Evaluation) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	// Best-effort eviction: if over max size, delete some expired entries.
	if c.cacheCount >= int64(c.cacheMaxSize) {
		now := time.Now()
		evicted := 0
		c.cache.Range(func(k, v any) bool {
			entry := v.(*cacheEntry)
			if now.After(entry.expiresAt) {
				c.cache.Delete(k)
				evicted++
			}
			// Stop after evicting enough or checking a batch.
			return evicted < 100
		})
		c.cacheCount -= int64(evicted)

		// If still over limit, evict the oldest entry.
		if c.cacheCount >= int64(c.cacheMaxSize) {
			var oldest time.Time
			var oldestKey any
			c.cache.Range(func(k, v any) bool {
				entry := v.(*cacheEntry)
				if oldest.IsZero() || entry.createdAt.Before(oldest) {
					oldest = entry.createdAt
					oldestKey = k
				}
				return true
			})
			if oldestKey != nil {
				c.cache.Delete(oldestKey)
				c.cacheCount--
			}
		}
	}

	c.cache.Store(key, &cacheEntry{
		evaluation: ev,
		expiresAt:  time.Now().Add(c.cacheTTL),
		createdAt:  time.Now(),
	})
	c.cacheCount++
}

// Helper functions for env var parsing.

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Try parsing as seconds (integer).
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Try parsing as duration string.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}

func parseIntEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return defaultVal
}
