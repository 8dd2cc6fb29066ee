package protection

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// ResourceLimits defines configurable request limits for the HTTP API
type ResourceLimits struct {
	MaxRequestBodySize int64   `json:"max_request_body_size" yaml:"max_request_body_size"`
	MaxUploadSize      int64   `json:"max_upload_size" yaml:"max_upload_size"`
	MaxConcurrentReq   int     `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	RequestsPerSecond  float64 `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize          int     `json:"burst_size" yaml:"burst_size"`
}

// DefaultResourceLimits returns secure default limits
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxRequestBodySize: 1 << 20,  // 1MB of JSON
		MaxUploadSize:      10 << 20, // 10MB product images
		MaxConcurrentReq:   100,
		RequestsPerSecond:  200,
		BurstSize:          50,
	}
}

// ResourceProtector guards the HTTP API with a global rate limit, a concurrency cap and
// request body size limits
type ResourceProtector struct {
	globalLimiter    *SimpleLimiter
	requestSemaphore chan struct{}
	stats            *ResourceStats
	config           ResourceLimits
}

// ResourceStats tracks request admission counters
type ResourceStats struct {
	ConcurrentRequests int64 `json:"concurrent_requests"`
	TotalRequests      int64 `json:"total_requests"`
	RateLimitHits      int64 `json:"rate_limit_hits"`
	RejectedRequests   int64 `json:"rejected_requests"`
}

// NewResourceProtector creates a new resource protector
func NewResourceProtector(config ResourceLimits) *ResourceProtector {
	defaults := DefaultResourceLimits()
	if config.MaxRequestBodySize <= 0 {
		config.MaxRequestBodySize = defaults.MaxRequestBodySize
	}
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = defaults.MaxUploadSize
	}
	if config.MaxConcurrentReq <= 0 {
		config.MaxConcurrentReq = defaults.MaxConcurrentReq
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}

	return &ResourceProtector{
		config:           config,
		globalLimiter:    NewSimpleLimiter(config.RequestsPerSecond, config.BurstSize),
		requestSemaphore: make(chan struct{}, config.MaxConcurrentReq),
		stats:            &ResourceStats{},
	}
}

// Limits returns the effective limits
func (rp *ResourceProtector) Limits() ResourceLimits {
	return rp.config
}

// Middleware rejects requests over the rate or concurrency limit with 429/503 and caps the
// request body
func (rp *ResourceProtector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := rp.admit(); err != nil {
			status := http.StatusServiceUnavailable
			if err.Type == "RateLimitExceeded" {
				status = http.StatusTooManyRequests
			}
			http.Error(w, err.Detail, status)
			return
		}
		defer rp.release()

		limit := rp.config.MaxRequestBodySize
		if r.Method == http.MethodPost && isMultipart(r) {
			limit = rp.config.MaxUploadSize
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

func (rp *ResourceProtector) admit() *ProtectionError {
	if !rp.globalLimiter.Allow() {
		atomic.AddInt64(&rp.stats.RateLimitHits, 1)
		return &ProtectionError{
			Type:   "RateLimitExceeded",
			Detail: "Request rate limit exceeded",
		}
	}

	select {
	case rp.requestSemaphore <- struct{}{}:
	default:
		atomic.AddInt64(&rp.stats.RejectedRequests, 1)
		return &ProtectionError{
			Type:   "ConcurrencyLimitExceeded",
			Detail: "Maximum concurrent requests exceeded",
		}
	}

	atomic.AddInt64(&rp.stats.ConcurrentRequests, 1)
	atomic.AddInt64(&rp.stats.TotalRequests, 1)
	return nil
}

func (rp *ResourceProtector) release() {
	atomic.AddInt64(&rp.stats.ConcurrentRequests, -1)
	<-rp.requestSemaphore
}

// SecureBodyReader reads a request body that has already been capped by Middleware, or caps it
// here when called outside the middleware
func (rp *ResourceProtector) SecureBodyReader(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, rp.config.MaxRequestBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &ProtectionError{
				Type:   "BodyTooLarge",
				Detail: fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit),
			}
		}
		return nil, err
	}
	return body, nil
}

// GetStats returns a snapshot of the counters
func (rp *ResourceProtector) GetStats() ResourceStats {
	return ResourceStats{
		ConcurrentRequests: atomic.LoadInt64(&rp.stats.ConcurrentRequests),
		TotalRequests:      atomic.LoadInt64(&rp.stats.TotalRequests),
		RateLimitHits:      atomic.LoadInt64(&rp.stats.RateLimitHits),
		RejectedRequests:   atomic.LoadInt64(&rp.stats.RejectedRequests),
	}
}

// HealthCheck reports admission state for the health endpoint
func (rp *ResourceProtector) HealthCheck() map[string]any {
	stats := rp.GetStats()
	status := "ok"
	if stats.ConcurrentRequests >= int64(rp.config.MaxConcurrentReq) {
		status = "saturated"
	}
	return map[string]any{
		"status":              status,
		"concurrent_requests": stats.ConcurrentRequests,
		"max_requests":        rp.config.MaxConcurrentReq,
		"rate_limit_hits":     stats.RateLimitHits,
		"rejected_requests":   stats.RejectedRequests,
	}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// ProtectionError represents a resource protection error
type ProtectionError struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

func (e *ProtectionError) Error() string {
	return fmt.Sprintf("resource protection: %s - %s", e.Type, e.Detail)
}

// IsResourceProtectionError checks if an error is a resource protection error
func IsResourceProtectionError(err error) bool {
	var target *ProtectionError
	return errors.As(err, &target)
}

// GetResourceProtectionType returns the type of resource protection error
func GetResourceProtectionType(err error) string {
	var target *ProtectionError
	if errors.As(err, &target) {
		return target.Type
	}
	return ""
}
