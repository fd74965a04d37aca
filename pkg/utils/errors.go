package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed       = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError   = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError   = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError    = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrFetch             = errors.New("fetch failed")
	ErrMalformedDocument = errors.New("malformed sitemap document")
	ErrCrawl             = errors.New("crawl failed")
	ErrMaxDepth          = errors.New("maximum sitemap depth exceeded")
	ErrDatabase          = errors.New("database error") // Wraps badger and postgres errors
	ErrNotify            = errors.New("notification delivery failed")
	ErrFilesystem        = errors.New("filesystem error") // Wraps os errors
	ErrSemaphoreTimeout  = errors.New("timeout acquiring semaphore")
	ErrRequestCreation   = errors.New("failed to create HTTP request")
	ErrResponseBodyRead  = errors.New("failed to read response body")
	ErrDocumentTooLarge  = errors.New("sitemap document exceeds size limit")
	ErrRobotsDisallowed  = errors.New("disallowed by robots.txt")
	ErrConfigValidation  = errors.New("configuration validation error")
)

// --- Typed Errors ---

// FetchError reports a transport or non-2xx failure for one URL
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error        { return e.Err }
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// MalformedDocumentError reports bytes that are not a usable sitemap document
type MalformedDocumentError struct {
	Reason string
	Err    error // Underlying XML syntax error, may be nil
}

func (e *MalformedDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed sitemap: %s: %v", e.Reason, e.Err)
	}
	return "malformed sitemap: " + e.Reason
}

func (e *MalformedDocumentError) Unwrap() error        { return e.Err }
func (e *MalformedDocumentError) Is(target error) bool { return target == ErrMalformedDocument }

// CrawlError identifies the sitemap URL whose fetch or decode aborted a crawl
type CrawlError struct {
	URL string
	Err error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("crawl %s: %v", e.URL, e.Err)
}

func (e *CrawlError) Unwrap() error        { return e.Err }
func (e *CrawlError) Is(target error) bool { return target == ErrCrawl }

// StoreError wraps a watermark store failure with the operation and key involved
type StoreError struct {
	Op  string // get_global_max, get_by_site, put, list, open, ...
	Key string // Site key or empty for store-wide operations
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s '%s': %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error        { return e.Err }
func (e *StoreError) Is(target error) bool { return target == ErrDatabase }

// NotifyError wraps delivery failures of one notifier. It never aborts a run.
type NotifyError struct {
	Notifier string
	Err      error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify via %s: %v", e.Notifier, e.Err)
}

func (e *NotifyError) Unwrap() error        { return e.Err }
func (e *NotifyError) Is(target error) bool { return target == ErrNotify }

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrNotify):
		return "Notify_Delivery"
	case errors.Is(err, ErrMalformedDocument):
		return "Content_MalformedSitemap"
	case errors.Is(err, ErrMaxDepth):
		return "Policy_MaxDepth"
	case errors.Is(err, ErrDocumentTooLarge):
		return "Content_TooLarge"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrRetryFailed):
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}

		// Check for common network error substrings if no known sentinel is wrapped
		errMsg := err.Error()
		if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "Timeout") || strings.Contains(errMsg, "deadline exceeded") {
			return "RetryFailed_NetworkTimeout"
		}
		if strings.Contains(errMsg, "connection refused") {
			return "RetryFailed_ConnectionRefused"
		}
		if strings.Contains(errMsg, "no such host") {
			return "RetryFailed_DNSLookup"
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "RetryFailed_NetworkTimeout"
		}
		return "RetryFailed_NetworkOther" // Catch-all for other network errors after retry
	case errors.Is(err, ErrClientHTTPError):
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
			return fmt.Sprintf("HTTP_%d", fetchErr.StatusCode)
		}
		return "HTTP_4xx" // Generic 4xx
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		var storeErr *StoreError
		if errors.As(err, &storeErr) && storeErr.Op != "" {
			return "Database_" + storeErr.Op
		}
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}

	// Fetch failures that carried no better signal
	if errors.Is(err, ErrFetch) {
		return "Fetch_Other"
	}

	return "Unknown"
}
