package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"MalformedDocument", ErrMalformedDocument, "Content_MalformedSitemap"},
		{"MaxDepth", ErrMaxDepth, "Policy_MaxDepth"},
		{"DocumentTooLarge", ErrDocumentTooLarge, "Content_TooLarge"},
		{"RobotsDisallowed", &FetchError{URL: "https://example.com/private.xml", Err: ErrRobotsDisallowed}, "Policy_Robots"},
		{"Notify", ErrNotify, "Notify_Delivery"},
		{"SemaphoreTimeout", ErrSemaphoreTimeout, "Resource_SemaphoreTimeout"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"ClientHTTPError", ErrClientHTTPError, "HTTP_4xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Database", ErrDatabase, "Database_Other"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
		{"Fetch", ErrFetch, "Fetch_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_TypedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "CrawlWrapsMalformed",
			err: &CrawlError{
				URL: "https://example.com/sitemap.xml",
				Err: &MalformedDocumentError{Reason: "unexpected EOF"},
			},
			expected: "Content_MalformedSitemap",
		},
		{
			name: "CrawlWrapsFetch404",
			err: &CrawlError{
				URL: "https://example.com/sitemap.xml",
				Err: &FetchError{
					URL:        "https://example.com/sitemap.xml",
					StatusCode: 404,
					Err:        fmt.Errorf("%w: status 404", ErrClientHTTPError),
				},
			},
			expected: "HTTP_404",
		},
		{
			name: "FetchRetryExhaustedServer",
			err: &FetchError{
				URL: "https://example.com/sitemap.xml",
				Err: fmt.Errorf("%w: after 3 attempts: %w", ErrRetryFailed, fmt.Errorf("%w: status 503", ErrServerHTTPError)),
			},
			expected: "RetryFailed_HTTPServer",
		},
		{
			name: "FetchRetryExhaustedRefused",
			err: &FetchError{
				URL: "https://example.com/sitemap.xml",
				Err: fmt.Errorf("%w: dial tcp: connection refused", ErrRetryFailed),
			},
			expected: "RetryFailed_ConnectionRefused",
		},
		{
			name:     "StoreWithOp",
			err:      &StoreError{Op: "put", Key: "https://b/sitemap.xml", Err: errors.New("disk full")},
			expected: "Database_put",
		},
		{
			name:     "Notify",
			err:      &NotifyError{Notifier: "telegram", Err: errors.New("status 500")},
			expected: "Notify_Delivery",
		},
		{
			name:     "DoubleWrapped",
			err:      fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrMaxDepth)),
			expected: "Policy_MaxDepth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestTypedErrors_IsAndUnwrap(t *testing.T) {
	cause := errors.New("boom")

	fetchErr := &FetchError{URL: "u", Err: cause}
	if !errors.Is(fetchErr, ErrFetch) || !errors.Is(fetchErr, cause) {
		t.Errorf("FetchError should match ErrFetch and its cause")
	}

	crawlErr := &CrawlError{URL: "u", Err: fetchErr}
	if !errors.Is(crawlErr, ErrCrawl) || !errors.Is(crawlErr, ErrFetch) {
		t.Errorf("CrawlError should match ErrCrawl and the wrapped ErrFetch")
	}
	var asFetch *FetchError
	if !errors.As(crawlErr, &asFetch) || asFetch.URL != "u" {
		t.Errorf("errors.As should reach the wrapped FetchError")
	}

	storeErr := &StoreError{Op: "get_by_site", Key: "k", Err: cause}
	if !errors.Is(storeErr, ErrDatabase) {
		t.Errorf("StoreError should match ErrDatabase")
	}
	if !strings.Contains(storeErr.Error(), "'k'") {
		t.Errorf("StoreError message %q should contain the key", storeErr.Error())
	}

	malformed := &MalformedDocumentError{Reason: "no root"}
	if !errors.Is(malformed, ErrMalformedDocument) {
		t.Errorf("MalformedDocumentError should match ErrMalformedDocument")
	}
	if errors.Is(malformed, ErrFetch) {
		t.Errorf("MalformedDocumentError must not match ErrFetch")
	}

	notifyErr := &NotifyError{Notifier: "telegram", Err: cause}
	if !errors.Is(notifyErr, ErrNotify) {
		t.Errorf("NotifyError should match ErrNotify")
	}
}

func TestFetchError_Message(t *testing.T) {
	withStatus := &FetchError{URL: "https://x/sitemap.xml", StatusCode: 500, Err: ErrServerHTTPError}
	if !strings.Contains(withStatus.Error(), "status 500") {
		t.Errorf("message %q should include the status", withStatus.Error())
	}
	noStatus := &FetchError{URL: "https://x/sitemap.xml", Err: errors.New("dial failed")}
	if strings.Contains(noStatus.Error(), "status") {
		t.Errorf("message %q should not mention a status", noStatus.Error())
	}
}

func TestCategorizeError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ContextCanceled", context.Canceled, "System_ContextCanceled"},
		{"ContextDeadlineExceeded", context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_NetworkStrings(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Timeout", errors.New("connection timeout occurred"), "Network_TimeoutGeneric"},
		{"ConnectionRefused", errors.New("connection refused"), "Network_ConnectionRefused"},
		{"DNSLookup", errors.New("no such host"), "Network_DNSLookup"},
		{"TLS", errors.New("tls handshake failed"), "Network_TLS"},
		{"Certificate", errors.New("certificate verify failed"), "Network_TLS"},
		{"ConnectionReset", errors.New("reset by peer"), "Network_ConnectionReset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_Unknown(t *testing.T) {
	err := errors.New("some completely unknown error")
	result := CategorizeError(err)
	if result != "Unknown" {
		t.Errorf("CategorizeError(%v) = %q, want %q", err, result, "Unknown")
	}
}

// --- SanitizeFilename Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple", "athlon", "athlon"},
		{"SiteKeyWithSlash", "docs/blog", "docs_blog"},
		{"URLLike", "https://example.com", "https_example.com"},
		{"ConsecutiveUnderscores", "a___b", "a_b"},
		{"LeadingTrailingSpaces", "  key  ", "key"},
		{"Empty", "", "untitled"},
		{"OnlyInvalidChars", "<>:", "untitled"},
		{"ControlChars", "key\x01\x02name", "key_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_LongNames(t *testing.T) {
	result := SanitizeFilename(strings.Repeat("a", 150))
	if len(result) > 100 {
		t.Errorf("SanitizeFilename(long) length = %d, want <= 100", len(result))
	}
}
