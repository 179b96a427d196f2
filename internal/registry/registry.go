// Package registry holds the federation's node list: loading it from the
// coordinating node, filtering it into working sets, and collecting check
// results per node.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/transport"
)

// ErrNodeNotFound is returned when a lookup matches no node.
var ErrNodeNotFound = errors.New("node not found")

// Cache stores parsed node lists per registry base URL.
type Cache interface {
	LoadNodes(ctx context.Context, baseURL string, maxAge time.Duration) ([]Node, bool, error)
	SaveNodes(ctx context.Context, baseURL string, nodes []Node) error
}

// LoadOptions controls Load.
type LoadOptions struct {
	Timeout time.Duration
	Cache   Cache
	MaxAge  time.Duration
	// Refresh skips a cached node list.
	Refresh bool
}

// Registry is an ordered working set of nodes. Filters return new
// registries; only RecordResult mutates one.
type Registry struct {
	baseURL string
	nodes   []*Node
}

// New creates a Registry holding copies of nodes.
func New(baseURL string, nodes []Node) *Registry {
	r := &Registry{baseURL: baseURL, nodes: make([]*Node, 0, len(nodes))}
	for _, n := range nodes {
		c := n.clone()
		r.nodes = append(r.nodes, &c)
	}
	return r
}

// Load fetches and parses <baseURL>/v2/node, going through the cache when
// one is configured. Pass nil logger to use the default logger.
func Load(ctx context.Context, getter transport.Getter, baseURL string, opts LoadOptions, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Cache != nil && !opts.Refresh {
		nodes, ok, err := opts.Cache.LoadNodes(ctx, baseURL, opts.MaxAge)
		switch {
		case err != nil:
			logger.Warn("reading node cache", "registry", baseURL, "error", err)
		case ok:
			logger.Debug("using cached node list", "registry", baseURL, "nodes", len(nodes))
			return New(baseURL, nodes), nil
		}
	}

	u := strings.TrimRight(baseURL, "/") + "/v2/node"
	resp := getter.Fetch(ctx, u, nil, opts.Timeout)
	if !resp.OK() {
		return nil, fmt.Errorf("fetching node list %s: status %d: %s", u, resp.Status, resp.Message)
	}
	nodes, err := Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded node list", "registry", baseURL, "nodes", len(nodes), "elapsed", resp.Elapsed)

	if opts.Cache != nil {
		if err := opts.Cache.SaveNodes(ctx, baseURL, nodes); err != nil {
			logger.Warn("writing node cache", "registry", baseURL, "error", err)
		}
	}
	return New(baseURL, nodes), nil
}

// BaseURL returns the registry base URL the nodes were loaded from.
func (r *Registry) BaseURL() string { return r.baseURL }

// Len returns the number of nodes in the working set.
func (r *Registry) Len() int { return len(r.nodes) }

// Nodes returns copies of the nodes in registry order.
func (r *Registry) Nodes() []Node {
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n.clone())
	}
	return out
}

// Node returns a copy of the node with identifier id.
func (r *Registry) Node(id string) (Node, error) {
	for _, n := range r.nodes {
		if n.ID == id {
			return n.clone(), nil
		}
	}
	return Node{}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
}

// NodeByBaseURL returns the node whose base URL matches u, ignoring a
// trailing slash.
func (r *Registry) NodeByBaseURL(u string) (Node, error) {
	want := strings.TrimRight(u, "/")
	for _, n := range r.nodes {
		if strings.TrimRight(n.BaseURL, "/") == want {
			return n.clone(), nil
		}
	}
	return Node{}, fmt.Errorf("%w: base URL %q", ErrNodeNotFound, u)
}

// Resolve looks ref up as an identifier, then as a base URL.
func (r *Registry) Resolve(ref string) (Node, error) {
	if n, err := r.Node(ref); err == nil {
		return n, nil
	}
	if strings.Contains(ref, "://") {
		return r.NodeByBaseURL(ref)
	}
	return Node{}, fmt.Errorf("%w: %q", ErrNodeNotFound, ref)
}

// Select returns a working set holding only the nodes with the given ids,
// in registry order.
func (r *Registry) Select(ids ...string) *Registry {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return r.filter(func(n *Node) bool { return want[n.ID] })
}

// FilterState returns the nodes in the given state. An empty state keeps
// every node.
func (r *Registry) FilterState(state string) *Registry {
	state = strings.ToLower(state)
	return r.filter(func(n *Node) bool { return state == "" || n.State == state })
}

// FilterType returns the nodes of the given type. An empty type keeps every
// node.
func (r *Registry) FilterType(typ string) *Registry {
	typ = strings.ToLower(typ)
	return r.filter(func(n *Node) bool { return typ == "" || n.Type == typ })
}

func (r *Registry) filter(keep func(*Node) bool) *Registry {
	out := &Registry{baseURL: r.baseURL}
	for _, n := range r.nodes {
		if keep(n) {
			c := n.clone()
			out.nodes = append(out.nodes, &c)
		}
	}
	return out
}

// Targets describes every node in the working set to the checkers.
func (r *Registry) Targets() []checker.Target {
	out := make([]checker.Target, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n.Target())
	}
	return out
}

// RecordResult replaces the result for category c on node nodeID.
func (r *Registry) RecordResult(nodeID string, c checker.Category, res checker.CheckResult) error {
	for _, n := range r.nodes {
		if n.ID == nodeID {
			if n.Status == nil {
				n.Status = make(map[checker.Category]checker.CheckResult)
			}
			n.Status[c] = res
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
}
