// Package daterange discovers the oldest and newest modification timestamps
// visible through a listing endpoint that can filter by date but cannot sort.
//
// The earliest boundary is found by sweeping an upper edge forward from a
// fixed epoch in linear steps. The latest boundary is found by sliding a
// window back from now, growing its width geometrically up to a maximum.
// In both cases the first window with any match holds the boundary, which is
// read off the client-side sorted records of that window.
package daterange

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/datadavev/mnstatus/internal/timeutil"
)

// Window is a [From, To) query window. A zero bound is open.
type Window struct {
	From time.Time
	To   time.Time
}

// Width returns the window span, or zero if either bound is open.
func (w Window) Width() time.Duration {
	if w.From.IsZero() || w.To.IsZero() {
		return 0
	}
	return w.To.Sub(w.From)
}

// Match is one (modification time, identifier) pair returned by a probe.
type Match struct {
	Modified time.Time
	ID       string
}

// Probe is the answer to one windowed query. Total is the overall match count
// for the window; Matches holds at most one page of those records.
type Probe struct {
	Total   int
	Count   int
	Matches []Match
	Dropped int
	Err     error
}

// Truncated reports whether the page holds fewer records than the window matched.
func (p Probe) Truncated() bool {
	return p.Total > max(p.Count, len(p.Matches))
}

// Prober runs windowed queries against a listing endpoint.
type Prober interface {
	Probe(ctx context.Context, w Window) Probe
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, w Window) Probe

func (f ProberFunc) Probe(ctx context.Context, w Window) Probe { return f(ctx, w) }

// Boundary is one end of the observed modification range.
type Boundary struct {
	Modified time.Time
	ID       string
}

// Range is the result of a search. Earliest and Latest are nil when no
// boundary was found within the search limits.
type Range struct {
	Earliest *Boundary
	Latest   *Boundary
	Probes   int
	// Partial is set when malformed records were skipped while probing.
	Partial bool
	Dropped int
	// Truncated is set when a boundary was read from an incomplete page.
	Truncated bool
}

// Options controls the search.
type Options struct {
	// Epoch is where the earliest search starts.
	Epoch time.Time
	// Floor ends the latest search once a window's lower edge passes below it.
	Floor time.Time
	// EarliestStep is the linear growth of the earliest window's upper edge.
	EarliestStep time.Duration
	// LatestInitial is the width of the first latest window.
	LatestInitial time.Duration
	// LatestFactor multiplies the latest window width after each miss.
	LatestFactor float64
	// LatestMax caps the latest window width.
	LatestMax time.Duration
	// RefineDepth bounds how many times a truncated hit window is halved
	// toward the boundary. Zero disables refinement.
	RefineDepth int
	// Now returns the current time; nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns the search parameters used against DataONE.
func DefaultOptions() Options {
	epoch := time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC)
	return Options{
		Epoch:         epoch,
		Floor:         epoch,
		EarliestStep:  timeutil.Days(180),
		LatestInitial: timeutil.Days(2),
		LatestFactor:  2,
		LatestMax:     timeutil.Days(365),
	}
}

// Finder runs the adaptive search.
type Finder struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Finder. Pass nil logger to use the default logger.
func New(opts Options, logger *slog.Logger) *Finder {
	def := DefaultOptions()
	if opts.Epoch.IsZero() {
		opts.Epoch = def.Epoch
	}
	if opts.Floor.IsZero() {
		opts.Floor = def.Floor
	}
	if opts.EarliestStep <= 0 {
		opts.EarliestStep = def.EarliestStep
	}
	if opts.LatestInitial <= 0 {
		opts.LatestInitial = def.LatestInitial
	}
	if opts.LatestFactor <= 1 {
		opts.LatestFactor = def.LatestFactor
	}
	if opts.LatestMax <= 0 {
		opts.LatestMax = def.LatestMax
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{opts: opts, logger: logger}
}

// Find returns both boundaries.
func (f *Finder) Find(ctx context.Context, p Prober) Range {
	var r Range
	r.Earliest = f.earliest(ctx, p, &r)
	r.Latest = f.latest(ctx, p, &r)
	return r
}

// Earliest returns only the oldest boundary.
func (f *Finder) Earliest(ctx context.Context, p Prober) Range {
	var r Range
	r.Earliest = f.earliest(ctx, p, &r)
	return r
}

// Latest returns only the newest boundary.
func (f *Finder) Latest(ctx context.Context, p Prober) Range {
	var r Range
	r.Latest = f.latest(ctx, p, &r)
	return r
}

func (f *Finder) earliest(ctx context.Context, p Prober, r *Range) *Boundary {
	now := f.opts.Now().UTC()
	var prev time.Time
	for offset := time.Duration(0); ; offset += f.opts.EarliestStep {
		w := Window{To: f.opts.Epoch.Add(offset)}
		res := f.probe(ctx, p, w, "earliest", r)
		if res.Total > 0 {
			if len(res.Matches) == 0 {
				return nil
			}
			if res.Truncated() && !prev.IsZero() {
				res = f.refine(ctx, p, Window{From: prev, To: w.To}, res, true, r)
			}
			r.Truncated = r.Truncated || res.Truncated()
			m := sorted(res.Matches)[0]
			return &Boundary{Modified: m.Modified, ID: m.ID}
		}
		if w.To.After(now) {
			return nil
		}
		prev = w.To
	}
}

func (f *Finder) latest(ctx context.Context, p Prober, r *Range) *Boundary {
	upper := f.opts.Now().UTC()
	width := f.opts.LatestInitial
	for {
		w := Window{From: upper.Add(-width), To: upper}
		res := f.probe(ctx, p, w, "latest", r)
		if res.Total > 0 {
			if len(res.Matches) == 0 {
				return nil
			}
			if res.Truncated() {
				res = f.refine(ctx, p, w, res, false, r)
			}
			r.Truncated = r.Truncated || res.Truncated()
			ms := sorted(res.Matches)
			m := ms[len(ms)-1]
			return &Boundary{Modified: m.Modified, ID: m.ID}
		}
		if w.From.Before(f.opts.Floor) {
			return nil
		}
		upper = w.From
		width = f.nextWidth(width)
	}
}

func (f *Finder) nextWidth(width time.Duration) time.Duration {
	next := time.Duration(float64(width) * f.opts.LatestFactor)
	if next > f.opts.LatestMax {
		next = f.opts.LatestMax
	}
	if next < width {
		return width
	}
	return next
}

// refine halves w toward the boundary side while the page stays truncated.
// lowFirst selects the older half first (earliest search). A failed probe
// ends refinement with the last truncated page.
func (f *Finder) refine(ctx context.Context, p Prober, w Window, res Probe, lowFirst bool, r *Range) Probe {
	for depth := 0; depth < f.opts.RefineDepth && res.Truncated() && w.Width() > time.Second; depth++ {
		mid := w.From.Add(w.Width() / 2)
		first, second := Window{From: w.From, To: mid}, Window{From: mid, To: w.To}
		if !lowFirst {
			first, second = second, first
		}
		next := f.probe(ctx, p, first, "refine", r)
		if next.Err != nil {
			break
		}
		if next.Total > 0 && len(next.Matches) > 0 {
			w, res = first, next
			continue
		}
		next = f.probe(ctx, p, second, "refine", r)
		if next.Err != nil || next.Total == 0 || len(next.Matches) == 0 {
			break
		}
		w, res = second, next
	}
	return res
}

func (f *Finder) probe(ctx context.Context, p Prober, w Window, phase string, r *Range) Probe {
	res := p.Probe(ctx, w)
	r.Probes++
	f.logger.Debug("date range probe",
		"phase", phase,
		"from", w.From,
		"to", w.To,
		"total", res.Total,
		"returned", len(res.Matches),
	)
	if res.Err != nil {
		f.logger.Warn("date range probe failed", "phase", phase, "to", w.To, "error", res.Err)
		return Probe{Err: res.Err}
	}
	if res.Dropped > 0 {
		r.Partial = true
		r.Dropped += res.Dropped
	}
	return res
}

func sorted(ms []Match) []Match {
	out := make([]Match, len(ms))
	copy(out, ms)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].ID < out[j].ID
		}
		return out[i].Modified.Before(out[j].Modified)
	})
	return out
}
