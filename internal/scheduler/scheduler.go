// Package scheduler runs one scheduling pass of checks across nodes, gating
// each check through per-category admission and a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/datadavev/mnstatus/internal/checker"
)

// ErrNotAdmitted marks items that could never be admitted because their
// category has no capacity at all.
var ErrNotAdmitted = errors.New("check never admitted")

// admitRetry is how long pending items wait before admission is retried
// when the admitter cannot signal freed capacity.
const admitRetry = 50 * time.Millisecond

// State is the lifecycle position of an Item.
type State int

const (
	Pending State = iota
	Admitted
	Running
	Completed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Admitted:
		return "admitted"
	case Running:
		return "running"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Item is one (node, category) unit of work.
type Item struct {
	Target   checker.Target
	Category checker.Category
	State    State
	// Result is nil when the worker failed; Err then holds the cause.
	Result *checker.CheckResult
	Err    error
}

// Admitter gates checks by category.
type Admitter interface {
	TryAdmit(c checker.Category) bool
	Release(c checker.Category)
}

// limiter is implemented by admitters that can report a category ceiling.
type limiter interface {
	Limit(c checker.Category) (int, bool)
}

// notifier is implemented by admitters that signal when capacity frees up.
// The returned channel is closed on the next release.
type notifier interface {
	Changed() <-chan struct{}
}

// Recorder receives completed results.
type Recorder interface {
	RecordResult(nodeID string, c checker.Category, r checker.CheckResult) error
}

// CheckerFactory creates a Checker for a node and category.
type CheckerFactory func(t checker.Target, c checker.Category) (checker.Checker, error)

// Summary describes a finished run.
type Summary struct {
	RunID string
	Items []Item
	// Completed counts items that produced a result.
	Completed int
	// Failed counts items whose worker failed without a result.
	Failed  int
	Elapsed time.Duration
}

// Scheduler dispatches checks. It is safe to call Run repeatedly but not
// concurrently with itself.
type Scheduler struct {
	admit    Admitter
	rec      Recorder
	factory  CheckerFactory
	workers  int
	onResult func(nodeID string, r checker.CheckResult)
	logger   *slog.Logger
}

// New creates a Scheduler running at most maxGlobal checks at once. Pass nil
// logger to use the default logger.
func New(admit Admitter, rec Recorder, factory CheckerFactory, maxGlobal int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxGlobal < 1 {
		maxGlobal = 1
	}
	return &Scheduler{
		admit:   admit,
		rec:     rec,
		factory: factory,
		workers: maxGlobal,
		logger:  logger,
	}
}

// SetOnResult sets the callback invoked on the coordinating goroutine after
// each result is recorded.
func (s *Scheduler) SetOnResult(fn func(nodeID string, r checker.CheckResult)) {
	s.onResult = fn
}

type outcome struct {
	idx    int
	result *checker.CheckResult
	err    error
}

// Run checks every target against every category and returns once all
// items are Completed. Single check failures never abort the run.
func (s *Scheduler) Run(ctx context.Context, targets []checker.Target, tests []checker.Category) Summary {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}
	logger := s.logger.With("run", sum.RunID)

	items := make([]Item, 0, len(targets)*len(tests))
	for _, t := range targets {
		for _, c := range tests {
			items = append(items, Item{Target: t, Category: c})
		}
	}
	pending := make([]int, len(items))
	for i := range items {
		pending[i] = i
	}

	done := make(chan outcome, len(items))
	var g errgroup.Group
	g.SetLimit(s.workers)
	running := 0

	for len(pending) > 0 || running > 0 {
		if err := ctx.Err(); err != nil {
			for _, i := range pending {
				s.fail(logger, &items[i], err, &sum)
			}
			pending = nil
		}
		// Taken before the scan so a release racing with it still wakes us.
		wake := s.wake()
		admitted := 0
		waiting := pending[:0]
		for _, i := range pending {
			if running >= s.workers || !s.admit.TryAdmit(items[i].Category) {
				waiting = append(waiting, i)
				continue
			}
			items[i].State = Admitted
			s.dispatch(ctx, &g, i, items[i], done)
			items[i].State = Running
			running++
			admitted++
		}
		pending = waiting
		if admitted > 0 {
			logger.Info("dispatch", "total", len(items), "pending", len(pending), "running", running)
		}

		if running == 0 {
			pending = s.rejectUnadmittable(logger, items, pending, &sum)
			if len(pending) == 0 {
				break
			}
		}
		if len(pending) == 0 || running >= s.workers {
			wake = nil
		}

		select {
		case o := <-done:
			s.complete(logger, items, o, &sum)
			running--
		case <-wake:
			continue
		case <-ctx.Done():
			if running == 0 {
				continue
			}
			// in-flight checks see the same context and finish promptly
			s.complete(logger, items, <-done, &sum)
			running--
		}
	drain:
		for {
			select {
			case o := <-done:
				s.complete(logger, items, o, &sum)
				running--
			default:
				break drain
			}
		}
	}
	_ = g.Wait()

	sum.Items = items
	sum.Elapsed = time.Since(start)
	logger.Info("run finished", "completed", sum.Completed, "failed", sum.Failed, "elapsed", sum.Elapsed)
	return sum
}

func (s *Scheduler) wake() <-chan struct{} {
	if n, ok := s.admit.(notifier); ok {
		if ch := n.Changed(); ch != nil {
			return ch
		}
	}
	ch := make(chan struct{})
	time.AfterFunc(admitRetry, func() { close(ch) })
	return ch
}

func (s *Scheduler) dispatch(ctx context.Context, g *errgroup.Group, idx int, item Item, done chan<- outcome) {
	g.Go(func() error {
		o := outcome{idx: idx}
		defer func() {
			if p := recover(); p != nil {
				o.result = nil
				o.err = fmt.Errorf("check panicked: %v", p)
			}
			done <- o
		}()
		ck, err := s.factory(item.Target, item.Category)
		if err != nil {
			o.err = fmt.Errorf("creating checker: %w", err)
			return nil
		}
		r := ck.Check(ctx)
		o.result = &r
		return nil
	})
}

// rejectUnadmittable completes, without a result, the pending items whose
// category has a ceiling below one, and returns the rest.
func (s *Scheduler) rejectUnadmittable(logger *slog.Logger, items []Item, pending []int, sum *Summary) []int {
	l, ok := s.admit.(limiter)
	if !ok {
		return pending
	}
	rest := pending[:0]
	for _, i := range pending {
		if n, set := l.Limit(items[i].Category); set && n < 1 {
			s.fail(logger, &items[i], fmt.Errorf("%w: category %q", ErrNotAdmitted, items[i].Category), sum)
			continue
		}
		rest = append(rest, i)
	}
	return rest
}

func (s *Scheduler) fail(logger *slog.Logger, item *Item, err error, sum *Summary) {
	item.State = Completed
	item.Err = err
	sum.Failed++
	logger.Error("check not run", "node", item.Target.NodeID, "category", item.Category, "error", err)
}

func (s *Scheduler) complete(logger *slog.Logger, items []Item, o outcome, sum *Summary) {
	item := &items[o.idx]
	s.admit.Release(item.Category)
	item.State = Completed

	if o.err != nil {
		item.Err = o.err
		sum.Failed++
		logger.Warn("check failed without result", "node", item.Target.NodeID, "category", item.Category, "error", o.err)
		return
	}
	item.Result = o.result
	sum.Completed++
	logger.Info("check complete",
		"node", item.Target.NodeID,
		"category", item.Category,
		"status", o.result.Status,
		"elapsed", o.result.Elapsed,
	)
	if err := s.rec.RecordResult(item.Target.NodeID, item.Category, *o.result); err != nil {
		logger.Error("recording result", "node", item.Target.NodeID, "category", item.Category, "error", err)
	}
	if s.onResult != nil {
		s.onResult(item.Target.NodeID, *o.result)
	}
}
