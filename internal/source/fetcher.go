package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stoerbot/internal/disruption"
	logx "stoerbot/pkg/logx"
)

// Fetcher returns the notices currently published by one upstream.
type Fetcher interface {
	Name() string
	Source() disruption.Source
	Fetch(ctx context.Context) ([]disruption.Notice, error)
}

// Fetch operations reported in FetchError.Op.
const (
	OpRequest = "request"
	OpStatus  = "status"
	OpRead    = "read"
	OpParse   = "parse"
)

// ErrStatus is wrapped by FetchError when the upstream answers with >= 400.
var ErrStatus = errors.New("unexpected http status")

// FetchError describes a failed fetch of one source.
type FetchError struct {
	Source disruption.Source
	Op     string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UserAgent is sent with page requests; some upstream CDNs reject bare clients.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultTimeout bounds one upstream request.
const DefaultTimeout = 15 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// NewHTTPClient returns the client shared by fetchers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func get(ctx context.Context, client *http.Client, src disruption.Source, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &FetchError{Source: src, Op: OpRequest, Err: err}
	}
	req.Header.Set("User-Agent", UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	if client == nil {
		client = NewHTTPClient(0)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: src, Op: OpRequest, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Source: src, Op: OpStatus, Err: fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &FetchError{Source: src, Op: OpRead, Err: err}
	}
	return b, nil
}

// Safe wraps a Fetcher so that failures are logged and reported as an empty
// result with ok=false.
type Safe struct {
	f   Fetcher
	log logx.Logger
}

func NewSafe(f Fetcher, log logx.Logger) *Safe {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Safe{f: f, log: log.With(logx.String("comp", "source"), logx.String("source", f.Name()))}
}

func (s *Safe) Name() string              { return s.f.Name() }
func (s *Safe) Source() disruption.Source { return s.f.Source() }

// Fetch never returns an error. A panic inside the fetcher counts as failure.
func (s *Safe) Fetch(ctx context.Context) (out []disruption.Notice, ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("fetch panicked", logx.String("panic", fmt.Sprint(r)))
			out, ok = nil, false
		}
	}()

	notices, err := s.f.Fetch(ctx)
	if err != nil {
		s.log.Error("fetch failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return nil, false
	}
	s.log.Info("notices found", logx.Int("count", len(notices)), logx.Duration("took", time.Since(start)))
	return notices, true
}

// Names lists fetcher names, mainly for logs.
func Names(fs []Fetcher) string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name())
	}
	return strings.Join(out, ",")
}
