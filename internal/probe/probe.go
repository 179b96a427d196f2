// Package probe wires the registry, checkers, admission and scheduler into
// the operations offered by the CLI and the HTTP API.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/datadavev/mnstatus/internal/admission"
	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/config"
	"github.com/datadavev/mnstatus/internal/listing"
	"github.com/datadavev/mnstatus/internal/metrics"
	"github.com/datadavev/mnstatus/internal/registry"
	"github.com/datadavev/mnstatus/internal/scheduler"
	"github.com/datadavev/mnstatus/internal/transport"
)

// ErrInvalidQuery is returned for malformed query parameters.
var ErrInvalidQuery = errors.New("invalid query")

// NodeQuery selects nodes and the checks to run on them.
type NodeQuery struct {
	State string
	Type  string
	Tests []checker.Category
	// Refresh skips a cached node list.
	Refresh bool
}

// Source selects which listing an objects query reads.
type Source string

const (
	SourceMN Source = "mn"
	SourceCN Source = "cn"
)

// ObjectQuery selects a listing to page through. When Node is empty URL is
// read directly.
type ObjectQuery struct {
	Node    string
	URL     string
	Source  Source
	Offset  int
	Max     int
	From    time.Time
	To      time.Time
	Refresh bool
}

// Service runs checks for callers. One Service shares its admission
// ceilings across concurrent calls.
type Service struct {
	cfg      *config.Config
	getter   transport.Getter
	cache    registry.Cache
	runner   *checker.Runner
	admit    scheduler.Admitter
	onResult func(string, checker.CheckResult)
	logger   *slog.Logger
}

// New creates a Service. cache may be nil. Pass nil logger to use the
// default logger.
func New(cfg *config.Config, getter transport.Getter, cache registry.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		getter: getter,
		cache:  cache,
		runner: checker.NewRunner(cfg.CheckerConfig(), getter, logger),
		admit:  admission.New(cfg.Limits()),
		logger: logger,
	}
}

// UseMetrics reports check outcomes and in-flight counts to m.
func (s *Service) UseMetrics(m *metrics.Metrics) {
	s.admit = m.Admitter(s.admit)
	s.onResult = m.Observe
}

// Registry loads the node list.
func (s *Service) Registry(ctx context.Context, refresh bool) (*registry.Registry, error) {
	return registry.Load(ctx, s.getter, s.cfg.Registry.BaseURL, registry.LoadOptions{
		Timeout: s.cfg.HTTP.Timeout.Duration,
		Cache:   s.cache,
		MaxAge:  s.cfg.Registry.CacheTTL.Duration,
		Refresh: refresh,
	}, s.logger)
}

// Run checks every node of reg against tests, recording results on reg.
func (s *Service) Run(ctx context.Context, reg *registry.Registry, tests []checker.Category) scheduler.Summary {
	sched := scheduler.New(s.admit, reg, s.runner.Checker, s.cfg.Concurrency.MaxGlobal, s.logger)
	if s.onResult != nil {
		sched.SetOnResult(s.onResult)
	}
	return sched.Run(ctx, reg.Targets(), tests)
}

// Nodes returns the filtered working set, after running q.Tests on it.
func (s *Service) Nodes(ctx context.Context, q NodeQuery) ([]registry.Node, error) {
	if err := validState(q.State); err != nil {
		return nil, err
	}
	if err := validType(q.Type); err != nil {
		return nil, err
	}
	reg, err := s.Registry(ctx, q.Refresh)
	if err != nil {
		return nil, err
	}
	working := reg.FilterState(q.State).FilterType(q.Type)
	if len(q.Tests) > 0 {
		s.Run(ctx, working, q.Tests)
	}
	return working.Nodes(), nil
}

// CheckNode runs tests (every category when empty) against the node named
// by ref, an identifier or a base URL.
func (s *Service) CheckNode(ctx context.Context, ref string, tests []checker.Category, refresh bool) (registry.Node, error) {
	reg, err := s.Registry(ctx, refresh)
	if err != nil {
		return registry.Node{}, err
	}
	n, err := reg.Resolve(ref)
	if err != nil {
		return registry.Node{}, err
	}
	if len(tests) == 0 {
		tests = checker.Categories
	}
	working := reg.Select(n.ID)
	s.Run(ctx, working, tests)
	return working.Node(n.ID)
}

// Objects returns an iterator over the listing selected by q.
func (s *Service) Objects(ctx context.Context, q ObjectQuery) (*listing.Iterator, error) {
	client := listing.NewClient(s.getter, s.cfg.HTTP.Timeout.Duration, s.logger)
	opts := listing.IterOptions{
		Offset:   q.Offset,
		Max:      q.Max,
		PageSize: listing.DefaultPageSize,
		From:     q.From,
		To:       q.To,
	}
	if q.Node == "" {
		if q.URL == "" {
			return nil, fmt.Errorf("%w: a node or listing URL is required", ErrInvalidQuery)
		}
		return client.Objects(q.URL, opts), nil
	}

	reg, err := s.Registry(ctx, q.Refresh)
	if err != nil {
		return nil, err
	}
	n, err := reg.Resolve(q.Node)
	if err != nil {
		return nil, err
	}
	switch q.Source {
	case SourceMN, "":
		return client.Objects(n.Target().ObjectsURL(), opts), nil
	case SourceCN:
		opts.Params = url.Values{"nodeId": {n.ID}}
		return client.Objects(checker.RegistryObjectsURL(s.cfg.Registry.BaseURL), opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidQuery, q.Source)
	}
}

func validState(v string) error {
	switch strings.ToLower(v) {
	case "", registry.StateUp, registry.StateDown:
		return nil
	}
	return fmt.Errorf("%w: state must be up or down, got %q", ErrInvalidQuery, v)
}

func validType(v string) error {
	switch strings.ToLower(v) {
	case "", registry.TypeMN, registry.TypeCN:
		return nil
	}
	return fmt.Errorf("%w: type must be mn or cn, got %q", ErrInvalidQuery, v)
}
