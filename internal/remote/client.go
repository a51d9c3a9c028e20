// Package remote provides the HTTP client that applies queued operations to
// the remote note service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
	"github.com/inkwell-notes/inkwell-sync/internal/outbox"
	"github.com/inkwell-notes/inkwell-sync/internal/sync"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRateLimit = 5.0
	defaultBurst     = 1
)

// Config holds remote client configuration.
type Config struct {
	BaseURL      string
	SessionToken string
	Timeout      time.Duration
	// RateLimit caps remote applies per second so a large backlog drains
	// without hammering the service. Zero means the default.
	RateLimit float64
	Burst     int
}

// Client applies operations against the remote note service. It implements
// sync.Applier.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a remote client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("remote client: base url is required")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Burst <= 0 {
		config.Burst = defaultBurst
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}, nil
}

// Error is a service error carrying the HTTP status code. The failure policy
// classifies it by status.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status code of the service response.
func (e *Error) StatusCode() int { return e.Code }

// Apply sends exactly one operation to the remote service.
func (c *Client) Apply(ctx context.Context, op *domain.Operation) (*sync.Ack, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	method, path, err := routeFor(op)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(op.Payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.SessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.SessionToken)
	}
	// Resending after an unacknowledged attempt must not double-apply.
	req.Header.Set("Idempotency-Key", op.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// net/url errors unwrap down to the syscall or timeout cause; the
		// failure policy classifies them from there.
		return nil, fmt.Errorf("send operation: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleResponse(resp, op)
}

// checkSession rejects an already-expired session token locally, without
// burning a network round trip on a request the service will refuse.
func (c *Client) checkSession() error {
	token := c.config.SessionToken
	if token == "" || strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Not a parseable JWT; let the service decide.
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}

	if exp.Before(time.Now()) {
		return fmt.Errorf("session token expired at %s: %w", exp.Format(time.RFC3339), outbox.ErrSessionExpired)
	}
	return nil
}

func (c *Client) handleResponse(resp *http.Response, op *domain.Operation) (*sync.Ack, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		ack := &sync.Ack{Created: resp.StatusCode == http.StatusCreated}

		if len(body) > 0 {
			decoded := map[string]any{}
			if err := json.Unmarshal(body, &decoded); err != nil {
				return nil, fmt.Errorf("decode ack for %s: %w", op.ID, outbox.ErrBadServerResponse)
			}
			ack.Body = decoded
		}

		slog.Debug("operation acknowledged",
			"operation_id", op.ID,
			"status", resp.StatusCode,
		)
		return ack, nil

	case resp.StatusCode == http.StatusNoContent:
		// Deletes acknowledge without a body.
		return &sync.Ack{}, nil

	default:
		return nil, &Error{
			Code:    resp.StatusCode,
			Message: truncate(string(body), 200),
		}
	}
}

// routeFor maps an operation to its service endpoint. Payload encoding is
// each operation type's own concern; the client only routes it.
func routeFor(op *domain.Operation) (method, path string, err error) {
	switch op.Type {
	case domain.OperationCreateNote:
		return http.MethodPost, "/api/v1/notes", nil
	case domain.OperationUploadContent:
		return http.MethodPut, "/api/v1/notes/" + op.TargetID + "/content", nil
	case domain.OperationDeleteContentByTag:
		return http.MethodDelete, "/api/v1/notes/" + op.TargetID + "/content", nil
	case domain.OperationCreateFolder:
		return http.MethodPost, "/api/v1/folders", nil
	case domain.OperationRenameFolder:
		return http.MethodPatch, "/api/v1/folders/" + op.TargetID, nil
	case domain.OperationDeleteFolder:
		return http.MethodDelete, "/api/v1/folders/" + op.TargetID, nil
	case domain.OperationUploadImage:
		return http.MethodPost, "/api/v1/notes/" + op.TargetID + "/attachments/image", nil
	case domain.OperationUploadAudio:
		return http.MethodPost, "/api/v1/notes/" + op.TargetID + "/attachments/audio", nil
	}
	return "", "", fmt.Errorf("no route for operation type %q", op.Type)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
