package outbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
)

// PolicyConfig contains retry policy configuration.
type PolicyConfig struct {
	MaxRetryCount  int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

// DefaultPolicyConfig returns the default retry policy configuration.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxRetryCount:  5,
		BaseRetryDelay: 1 * time.Second,
		MaxRetryDelay:  60 * time.Second,
	}
}

// Policy decides, for a failed operation, whether to retry or abandon it.
// It is a pure decision component: it never touches the store.
type Policy struct {
	config PolicyConfig
	rand   *rand.Rand
}

// NewPolicy creates a failure policy.
func NewPolicy(config PolicyConfig) *Policy {
	return &Policy{
		config: config,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// statusCoder is implemented by service errors carrying an HTTP status code.
type statusCoder interface {
	StatusCode() int
}

// ClassifyError maps an arbitrary error into exactly one error kind.
//
// Classification is checked in priority order: connectivity loss, timeout,
// bad server response, expired session, service status code, unknown.
func ClassifyError(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindUnknown
	}

	if isConnectivityError(err) {
		return domain.ErrorKindNetwork
	}

	if isTimeoutError(err) {
		return domain.ErrorKindTimeout
	}

	if errors.Is(err, ErrBadServerResponse) {
		return domain.ErrorKindServerError
	}

	if errors.Is(err, ErrSessionExpired) {
		return domain.ErrorKindAuthExpired
	}

	var coder statusCoder
	if errors.As(err, &coder) {
		switch code := coder.StatusCode(); {
		case code == 404:
			return domain.ErrorKindNotFound
		case code == 401:
			return domain.ErrorKindAuthExpired
		case code == 409:
			return domain.ErrorKindConflict
		case code >= 500:
			return domain.ErrorKindServerError
		}
	}

	return domain.ErrorKindUnknown
}

func isConnectivityError(err error) bool {
	if errors.Is(err, ErrNoConnectivity) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.ENETDOWN,
		syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	return false
}

func isTimeoutError(err error) bool {
	if errors.Is(err, ErrRequestTimedOut) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryable reports whether the error kind is worth retrying. Auth,
// not-found, conflict, and unknown failures need human or auth intervention
// and are abandoned immediately.
func IsRetryable(kind domain.ErrorKind) bool {
	switch kind {
	case domain.ErrorKindNetwork, domain.ErrorKindTimeout, domain.ErrorKindServerError:
		return true
	}
	return false
}

// Decision is the policy's verdict for a single failed operation.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
	Kind   domain.ErrorKind
}

// Decide classifies the error and decides retry vs. abandonment given the
// operation's retry history.
func (p *Policy) Decide(err error, retryCount int) Decision {
	kind := ClassifyError(err)

	if !IsRetryable(kind) {
		return Decision{
			Retry:  false,
			Reason: fmt.Sprintf("not retryable: %s", kind),
			Kind:   kind,
		}
	}

	if retryCount >= p.config.MaxRetryCount {
		return Decision{
			Retry:  false,
			Reason: "max retry count exceeded",
			Kind:   kind,
		}
	}

	return Decision{
		Retry: true,
		Delay: p.RetryDelay(retryCount),
		Kind:  kind,
	}
}

// RetryDelay computes exponential backoff with jitter for the given retry
// count. The cap is applied to the jittered value, not the raw exponential,
// so the worst-case wait is bounded while jitter still applies at the
// ceiling.
func (p *Policy) RetryDelay(retryCount int) time.Duration {
	raw := float64(p.config.BaseRetryDelay) * math.Pow(2, float64(retryCount))
	jitter := p.rand.Float64() * raw * 0.25
	ceiling := float64(p.config.MaxRetryDelay) * 1.25

	delay := raw + jitter
	if delay > ceiling {
		delay = ceiling
	}

	return time.Duration(delay)
}
