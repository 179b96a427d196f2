package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/datadavev/mnstatus/internal/daterange"
	"github.com/datadavev/mnstatus/internal/listing"
	"github.com/datadavev/mnstatus/internal/transport"
)

// Category names a check.
type Category string

const (
	Ping  Category = "ping"
	MN    Category = "mn"
	CN    Category = "cn"
	Index Category = "index"
)

// Categories lists every check in the order they are reported.
var Categories = []Category{Ping, MN, CN, Index}

// ErrUnknownCategory is returned for a check name outside Categories.
var ErrUnknownCategory = errors.New("unknown check category")

// ParseCategory validates a check name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownCategory, s)
}

// ParseCategories validates a list of check names, dropping duplicates.
func ParseCategories(names []string) ([]Category, error) {
	var out []Category
	seen := make(map[Category]bool)
	for _, n := range names {
		c, err := ParseCategory(n)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// Checker performs a single check.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// Target identifies the node a check runs against.
type Target struct {
	NodeID         string
	BaseURL        string
	ServiceVersion int
}

// versionPath is the API version prefix for the node's read service.
func (t Target) versionPath() string {
	if t.ServiceVersion < 2 {
		return "v1"
	}
	return "v2"
}

// ObjectsURL is the node's own listObjects endpoint.
func (t Target) ObjectsURL() string {
	return join(t.BaseURL, t.versionPath(), "object")
}

// RegistryObjectsURL is the registry's aggregated listObjects endpoint.
func RegistryObjectsURL(registryURL string) string {
	return join(registryURL, "v2", "object")
}

// Config holds the endpoints and limits shared by every check.
type Config struct {
	RegistryURL string
	// IndexURL is absolute, or relative to the registry's v2 API.
	IndexURL    string
	Timeout     time.Duration
	PingTimeout time.Duration
	DateRange   daterange.Options
	PageSize    int
}

// Runner builds checkers bound to a shared transport.
type Runner struct {
	cfg     Config
	getter  transport.Getter
	listing *listing.Client
	finder  *daterange.Finder
	logger  *slog.Logger
}

// NewRunner creates a Runner. Pass nil logger to use the default logger.
func NewRunner(cfg Config, getter transport.Getter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.IndexURL == "" {
		cfg.IndexURL = "query/solr/"
	}
	return &Runner{
		cfg:     cfg,
		getter:  getter,
		listing: listing.NewClient(getter, cfg.Timeout, logger),
		finder:  daterange.New(cfg.DateRange, logger),
		logger:  logger,
	}
}

// Checker returns the Checker for category c against t.
func (r *Runner) Checker(t Target, c Category) (Checker, error) {
	switch c {
	case Ping:
		return &pingChecker{r: r, t: t}, nil
	case MN:
		return &listChecker{r: r, t: t, cn: false}, nil
	case CN:
		return &listChecker{r: r, t: t, cn: true}, nil
	case Index:
		return &indexChecker{r: r, t: t}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCategory, c)
	}
}

// Run is shorthand for building and running one checker.
func (r *Runner) Run(ctx context.Context, t Target, c Category) (CheckResult, error) {
	ck, err := r.Checker(t, c)
	if err != nil {
		return CheckResult{}, err
	}
	return ck.Check(ctx), nil
}

func (r *Runner) indexURL() string {
	u := r.cfg.IndexURL
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return join(r.cfg.RegistryURL, "v2", u)
}

// join appends path segments to base, keeping a trailing slash on the last
// segment when it has one.
func join(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, p := range parts {
		out += "/" + strings.TrimLeft(p, "/")
	}
	return out
}
