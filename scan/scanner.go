package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sift/lib/timer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

var (
	scanOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sift_scan_outcomes_total",
		Help: "Artifact scan outcomes by verdict.",
	}, []string{"verdict"})
	scansInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sift_scans_in_flight",
		Help: "Artifact scans currently running.",
	})
)

const (
	DefaultPattern      = "No space left on device"
	DefaultMaxBodyBytes = 100_000_000
	DefaultFetchTimeout = 2 * time.Minute

	// longest line the scanner will buffer before giving up on an artifact
	maxLineBytes = 1 << 20
)

type Config struct {
	// Pattern is matched case-insensitively against each line.
	Pattern string
	// MaxBodyBytes caps how many bytes of one artifact may be read.
	MaxBodyBytes int64
	// FetchTimeout bounds one whole fetch-and-scan, request to verdict.
	FetchTimeout time.Duration
	HTTPClient   *http.Client
	// S3 handles s3:// URIs when present.
	S3     mo.Option[Fetcher]
	Logger *zap.Logger
}

// Scanner runs size-capped, early-terminating line scans over artifacts.
// Safe for concurrent use.
type Scanner struct {
	pattern      string
	maxBody      int64
	fetchTimeout time.Duration
	http         Fetcher
	s3           mo.Option[Fetcher]
	logger       *zap.Logger
}

func NewScanner(cfg Config) *Scanner {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scanner{
		pattern:      strings.ToLower(cfg.Pattern),
		maxBody:      cfg.MaxBodyBytes,
		fetchTimeout: cfg.FetchTimeout,
		http:         &httpFetcher{client: cfg.HTTPClient},
		s3:           cfg.S3,
		logger:       cfg.Logger,
	}
}

// Scan fetches uri and searches it for the pattern. It never returns an
// error and never lets a panic escape; everything that can go wrong with
// one artifact is folded into the Outcome.
func (s *Scanner) Scan(ctx context.Context, uri string) (out Outcome) {
	defer timer.Start("scan.Scan").Stop()
	scansInFlight.Inc()
	defer scansInFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			out = fetchFailed(uri, fmt.Errorf("scan panicked: %v", r))
		}
		if out.Verdict == FetchFailed {
			s.logger.Warn("Scan failed", zap.String("uri", uri), zap.Error(out.Err))
		}
		scanOutcomes.WithLabelValues(out.Verdict.String()).Inc()
	}()

	u, err := url.Parse(uri)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return skippedMalformed(uri)
	}
	fetcher, err := s.fetcherFor(u.Scheme)
	if err != nil {
		return fetchFailed(uri, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	length, body, err := fetcher.Fetch(ctx, uri)
	if err != nil {
		return fetchFailed(uri, err)
	}
	defer body.Close()
	if length > s.maxBody {
		return skippedTooLarge(uri)
	}
	return s.scanLines(uri, body)
}

func (s *Scanner) fetcherFor(scheme string) (Fetcher, error) {
	switch strings.ToLower(scheme) {
	case "http", "https":
		return s.http, nil
	case "s3":
		if f, ok := s.s3.Get(); ok {
			return f, nil
		}
		return nil, fmt.Errorf("no s3 fetcher configured")
	default:
		return nil, fmt.Errorf("no fetcher for scheme %q", scheme)
	}
}

func (s *Scanner) scanLines(uri string, body io.Reader) Outcome {
	cr := &countingReader{r: body}
	sc := bufio.NewScanner(cr)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(strings.ToLower(line), s.pattern) {
			// abandon the rest of the body; the deferred Close drops
			// the connection
			return matched(uri, line)
		}
		if cr.n > s.maxBody {
			return skippedTooLarge(uri)
		}
	}
	if err := sc.Err(); err != nil {
		return fetchFailed(uri, fmt.Errorf("failed reading [%s]: %w", uri, err))
	}
	return noMatch(uri)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
