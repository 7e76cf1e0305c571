package scm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/launchpad/internal/domain"
)

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   domain.Provider
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512]
	}
	if body == "" {
		return fmt.Sprintf("%s %s failed (status=%d)", e.Provider, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s %s failed (status=%d): %s", e.Provider, e.Op, e.StatusCode, body)
}

// IsRetryable reports whether a failed provider call may succeed later.
// Authentication, permission, missing resource and validation errors are final,
// except a 403 caused by rate limiting. 429, 5xx and transport errors are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusForbidden:
			return strings.Contains(strings.ToLower(apiErr.Body), "rate limit")
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsAlreadyExists matches the providers' answers to creating a name that is taken.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	body := strings.ToLower(apiErr.Body)
	switch apiErr.StatusCode {
	case http.StatusUnprocessableEntity:
		return strings.Contains(body, "already exists")
	case http.StatusBadRequest:
		return strings.Contains(body, "has already been taken")
	default:
		return false
	}
}

const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 60 * time.Second
)

// RetryDelay is 2s * 2^attempt with +-20% jitter, capped at 60s. attempt starts at 0.
func RetryDelay(attempt int) time.Duration {
	return retryDelay(attempt, rand.Float64)
}

func retryDelay(attempt int, random func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(retryBaseDelay) * math.Pow(2, float64(attempt))
	jitter := base * 0.2 * (random()*2 - 1)
	d := time.Duration(base + jitter)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}
