package download

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/pkg/feeds/models"
)

// Result is the outcome of one negotiation. Unchanged means the local
// file is still current and nothing was downloaded. ServerTime is the
// server-reported Last-Modified of the body, zero when the server sent
// none.
type Result struct {
	Unchanged  bool
	Body       []byte
	ServerTime time.Time
}

// Negotiator performs conditional HTTP downloads with retry, backoff
// and multi-URL fallback.
type Negotiator struct {
	timeout      time.Duration
	retryCount   int
	retryBackoff time.Duration
	userAgent    string
	log          logger.Logger
}

func NewNegotiator(timeout time.Duration, retryCount int, retryBackoff time.Duration, userAgent string, log logger.Logger) *Negotiator {
	return &Negotiator{
		timeout:      timeout,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
		userAgent:    userAgent,
		log:          log,
	}
}

// unchangedSignal aborts the candidate loop: the server told us the
// local file is current, so later candidates must not be contacted.
type unchangedSignal struct{}

func (unchangedSignal) Error() string { return "local file is up to date" }

// Negotiate decides whether destPath needs a new download from source.
//
// Candidate URLs are tried in order url-override, url, cache-url. A
// candidate reporting "not modified" short-circuits the whole
// negotiation; a candidate failing (bad status, malformed archive)
// advances to the next one. If a fetch interval is configured and the
// local file is young enough, no network call is made at all.
func (n *Negotiator) Negotiate(ctx context.Context, destPath string, src *models.HTTPSource) (Result, error) {
	var localMTime time.Time
	if fi, err := os.Stat(destPath); err == nil {
		localMTime = fi.ModTime()
	}

	if days := src.Options.FetchIntervalDays; days > 0 && !localMTime.IsZero() &&
		time.Since(localMTime) < time.Duration(days)*24*time.Hour {
		n.log.Debug("Fetch interval not yet elapsed, skipping network check",
			"source", src.Name, "fetch_interval_days", days)
		return Result{Unchanged: true}, nil
	}

	candidates := candidateURLs(src)
	if len(candidates) == 0 {
		return Result{}, fmt.Errorf("source %s has no URL", src.Name)
	}

	client := n.client(src)

	var failures []string
	for i, candidate := range candidates {
		res, err := n.tryCandidate(ctx, client, candidate, src, localMTime)
		if _, ok := err.(unchangedSignal); ok {
			return Result{Unchanged: true}, nil
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", candidate, err))
			continue
		}
		if i > 0 {
			n.log.Warn("Primary URL failed, used fallback",
				"source", src.Name, "primary", candidates[0], "fallback", candidate)
		}
		return res, nil
	}

	return Result{}, fmt.Errorf("all candidate URLs failed: %s", strings.Join(failures, "; "))
}

// candidateURLs builds the ordered, deduplicated candidate list. The
// first entry is the primary URL for logging purposes.
func candidateURLs(src *models.HTTPSource) []string {
	var urls []string
	seen := map[string]bool{}
	for _, u := range []string{src.URLOverride, src.URL, src.CacheURL} {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

func (n *Negotiator) client(src *models.HTTPSource) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if src.Options.IgnoreTLSErrors {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Timeout: n.timeout, Transport: transport}
}

func (n *Negotiator) tryCandidate(ctx context.Context, client *http.Client, candidate string, src *models.HTTPSource, localMTime time.Time) (Result, error) {
	fetchURL, fragment, err := splitFragment(candidate)
	if err != nil {
		return Result{}, err
	}

	method := strings.ToUpper(src.Options.Method)
	if method == "" {
		method = http.MethodGet
	}

	// Plain GETs probe Last-Modified first. Without a local file the
	// comparison can never report unchanged.
	if method == http.MethodGet {
		if head, err := n.do(ctx, client, http.MethodHead, fetchURL, src, time.Time{}); err == nil {
			serverTime, terr := http.ParseTime(head.Header.Get("Last-Modified"))
			head.Body.Close()
			if terr == nil && !serverTime.After(localMTime) {
				return Result{}, unchangedSignal{}
			}
		}
	}

	resp, err := n.do(ctx, client, method, fetchURL, src, localMTime)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return Result{}, unchangedSignal{}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading response body: %w", err)
	}

	if fragment != "" {
		body, err = extractArchiveMember(body, fragment)
		if err != nil {
			return Result{}, err
		}
	}

	// Some misconfigured servers return an HTML page with status 200.
	if _, err := zip.NewReader(bytes.NewReader(body), int64(len(body))); err != nil {
		return Result{}, fmt.Errorf("response is not a valid zip archive: %w", err)
	}

	var serverTime time.Time
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		serverTime = t
	}
	return Result{Body: body, ServerTime: serverTime}, nil
}

// do issues one request with bounded retries on transient server errors.
// Retrying the same URL and advancing to the next candidate are separate
// axes; this method only ever retries the given URL.
func (n *Negotiator) do(ctx context.Context, client *http.Client, method, fetchURL string, src *models.HTTPSource, ifModifiedSince time.Time) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= n.retryCount; attempt++ {
		if attempt > 0 {
			backoff := n.retryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var body io.Reader
		if src.Options.RequestBody != "" && method != http.MethodHead {
			body = strings.NewReader(src.Options.RequestBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, fetchURL, body)
		if err != nil {
			return nil, err
		}

		req.Header.Set("User-Agent", n.userAgent)
		if !ifModifiedSince.IsZero() {
			req.Header.Set("If-Modified-Since", ifModifiedSince.UTC().Format(http.TimeFormat))
		}
		for key, value := range src.Options.Headers {
			req.Header.Set(key, value)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if retryableStatus(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", n.retryCount+1, lastErr)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// splitFragment separates the archive-relative addressing convention:
// a URL fragment names an entry inside the downloaded archive whose
// bytes become the effective content.
func splitFragment(candidate string) (fetchURL, fragment string, err error) {
	u, err := url.Parse(candidate)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL %q: %w", candidate, err)
	}
	fragment = u.Fragment
	u.Fragment = ""
	return u.String(), fragment, nil
}

func extractArchiveMember(body []byte, member string) ([]byte, error) {
	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("container is not a valid zip archive: %w", err)
	}
	f, err := archive.Open(member)
	if err != nil {
		return nil, fmt.Errorf("archive member %q: %w", member, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Store atomically writes a negotiation result to destPath and stamps
// the server-reported modification time on it, so later runs can use
// the mtime for conditional requests.
func Store(destPath string, res Result) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*.zip")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(res.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("writing download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("moving download into place: %w", err)
	}

	if !res.ServerTime.IsZero() {
		if err := os.Chtimes(destPath, res.ServerTime, res.ServerTime); err != nil {
			return fmt.Errorf("stamping server time: %w", err)
		}
	}
	return nil
}
