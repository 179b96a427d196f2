// Package transport performs the GET requests used by every check and maps
// transport failures onto sentinel status codes.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel status codes. Positive values are HTTP status codes.
const (
	StatusGeneric       = 0
	StatusCertificate   = -1
	StatusConnection    = -2
	StatusReadTimeout   = -3
	StatusSocketTimeout = -4
	StatusParse         = -5
)

// NoCertValidation is the message attached to a successful response that was
// obtained with certificate validation disabled.
const NoCertValidation = "No certificate validation"

const maxResponseBytes = 64 * 1024 * 1024

// Response is the outcome of a single GET.
type Response struct {
	URL      string
	Status   int
	Started  time.Time
	Elapsed  time.Duration
	Message  string
	Body     []byte
	Insecure bool
}

// OK reports whether the upstream answered 200.
func (r Response) OK() bool {
	return r.Status == http.StatusOK
}

// Getter is the contract consumed by the listing, index and registry readers.
type Getter interface {
	Fetch(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) Response
}

// Client issues GET requests with and without certificate validation.
type Client struct {
	secure   *http.Client
	insecure *http.Client
	logger   *slog.Logger
}

// New returns a Client built on clones of the default transport. Pass nil
// logger to use the default logger.
func New(logger *slog.Logger) *Client {
	base := http.DefaultTransport.(*http.Transport)
	insecure := base.Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	return NewWithClients(
		&http.Client{Transport: base.Clone()},
		&http.Client{Transport: insecure},
		logger,
	)
}

// NewWithClients creates a Client from explicit verifying and non-verifying
// HTTP clients (for testing).
func NewWithClients(secure, insecure *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{secure: secure, insecure: insecure, logger: logger}
}

// Fetch performs Get with certificate validation. A certificate failure is
// retried exactly once without validation.
func (c *Client) Fetch(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) Response {
	resp := c.Get(ctx, rawURL, params, timeout, true)
	if resp.Status != StatusCertificate {
		return resp
	}
	c.logger.Warn("retrying with no certificate validation", "url", rawURL)
	retry := c.Get(ctx, rawURL, params, timeout, false)
	retry.Started = resp.Started
	retry.Elapsed += resp.Elapsed
	return retry
}

// Get performs a single GET. Transport failures are reported through the
// sentinel codes rather than an error.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, timeout time.Duration, verify bool) (resp Response) {
	resp = Response{URL: withQuery(rawURL, params), Started: time.Now().UTC(), Insecure: !verify}
	start := time.Now()
	defer func() { resp.Elapsed = time.Since(start) }()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resp.URL, nil)
	if err != nil {
		resp.Message = fmt.Sprintf("creating request: %v", err)
		return resp
	}

	hc := c.secure
	if !verify {
		hc = c.insecure
	}
	r, err := hc.Do(req)
	if err != nil {
		resp.Status = classify(err)
		resp.Message = err.Error()
		c.logger.Warn("request failed", "url", resp.URL, "status", resp.Status, "error", err)
		return resp
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
	if err != nil {
		resp.Status = classify(err)
		if resp.Status == StatusGeneric {
			resp.Status = StatusReadTimeout
		}
		resp.Message = fmt.Sprintf("reading body: %v", err)
		return resp
	}

	resp.Status = r.StatusCode
	resp.Body = body
	switch {
	case r.StatusCode != http.StatusOK:
		resp.Message = reason(r)
	case !verify:
		resp.Message = NoCertValidation
	}
	return resp
}

func withQuery(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + params.Encode()
}

func reason(r *http.Response) string {
	if text, ok := strings.CutPrefix(r.Status, fmt.Sprintf("%d ", r.StatusCode)); ok && text != "" {
		return text
	}
	return http.StatusText(r.StatusCode)
}

func classify(err error) int {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		invalid     x509.CertificateInvalidError
		hostname    x509.HostnameError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &invalid) || errors.As(err, &hostname) {
		return StatusCertificate
	}

	var opErr *net.OpError
	dial := errors.As(err, &opErr) && opErr.Op == "dial"

	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())

	switch {
	case timeout && dial:
		return StatusSocketTimeout
	case timeout:
		return StatusReadTimeout
	case dial:
		return StatusConnection
	}
	return StatusGeneric
}
