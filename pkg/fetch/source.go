package fetch

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

const acceptSitemap = "application/xml, text/xml;q=0.9, application/x-gzip;q=0.8, */*;q=0.5"

// Source retrieves the raw body of a sitemap document
type Source interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// SourceOptions tunes an HTTPSource
type SourceOptions struct {
	UserAgent        string
	DelayPerHost     time.Duration
	MaxDocumentBytes int64 // 0 means unlimited
}

// HTTPSource fetches documents over HTTP with per-host politeness and retries.
// Gzipped bodies are transparently decompressed.
type HTTPSource struct {
	fetcher     *Fetcher
	rateLimiter *RateLimiter
	hostPool    *HostSemaphorePool
	opts        SourceOptions
	robots      *RobotsHandler // Gates every fetch when set
	log         *logrus.Entry
}

// NewHTTPSource wires a Source from shared fetch infrastructure
func NewHTTPSource(fetcher *Fetcher, rateLimiter *RateLimiter, hostPool *HostSemaphorePool, opts SourceOptions, log *logrus.Entry) *HTTPSource {
	return &HTTPSource{
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		hostPool:    hostPool,
		opts:        opts,
		log:         log,
	}
}

// WithRobots refuses documents that rh's robots.txt disallows for the source's user agent
func (s *HTTPSource) WithRobots(rh *RobotsHandler) *HTTPSource {
	s.robots = rh
	return s
}

// Fetch returns the decoded body of rawURL. Every failure is a *utils.FetchError.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &utils.FetchError{URL: rawURL, Err: fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)}
	}
	host := u.Hostname()
	fetchLog := s.log.WithField("url", rawURL)

	if s.robots != nil && !s.robots.Allowed(ctx, u) {
		fetchLog.Warn("Skipping document disallowed by robots.txt")
		return nil, &utils.FetchError{URL: rawURL, Err: utils.ErrRobotsDisallowed}
	}

	if s.hostPool != nil {
		release, err := s.hostPool.Acquire(ctx, host)
		if err != nil {
			return nil, &utils.FetchError{URL: rawURL, Err: err}
		}
		defer release()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.ApplyDelay(ctx, host, s.opts.DelayPerHost)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &utils.FetchError{URL: rawURL, Err: fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)}
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	req.Header.Set("Accept", acceptSitemap)

	resp, err := s.fetcher.FetchWithRetry(ctx, req)
	if s.rateLimiter != nil {
		s.rateLimiter.UpdateLastRequestTime(host)
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			drainAndClose(resp)
		}
		return nil, &utils.FetchError{URL: rawURL, StatusCode: status, Err: err}
	}
	defer resp.Body.Close()

	body, err := s.readBody(resp.Body)
	if err != nil {
		return nil, &utils.FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	fetchLog.WithField("bytes", len(body)).Debug("Fetched document")
	return body, nil
}

func (s *HTTPSource) readBody(body io.Reader) ([]byte, error) {
	limit := s.opts.MaxDocumentBytes
	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}

	reader, err := maybeGunzip(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if limit > 0 {
		reader = io.LimitReader(reader, limit+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		if errors.Is(err, gzip.ErrHeader) || errors.Is(err, gzip.ErrChecksum) {
			return nil, fmt.Errorf("%w: corrupt gzip body: %w", utils.ErrResponseBodyRead, err)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) && limit > 0 {
			return nil, fmt.Errorf("%w: compressed body exceeds %d bytes", utils.ErrDocumentTooLarge, limit)
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", utils.ErrDocumentTooLarge, limit)
	}
	return data, nil
}

// maybeGunzip wraps r in a gzip reader when the stream starts with the gzip magic bytes
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, 4096)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}
