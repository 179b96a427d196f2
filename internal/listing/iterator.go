package listing

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// DefaultPageSize is the page size used by the iterator.
const DefaultPageSize = 1000

// IterOptions configures an Iterator.
type IterOptions struct {
	Offset   int
	Max      int // <= 0 means no limit
	PageSize int
	From     time.Time
	To       time.Time
	Params   url.Values
}

// Iterator walks a listing page by page.
//
//	it := client.Objects(url, opts)
//	for it.Next(ctx) {
//		o := it.Object()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	client   *Client
	endpoint string
	opts     IterOptions

	page      []ObjectInfo
	idx       int
	next      int
	delivered int
	total     int
	started   bool
	done      bool
	dropped   int
	err       error
}

// Objects returns an Iterator over endpoint.
func (c *Client) Objects(endpoint string, opts IterOptions) *Iterator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Max > 0 && opts.Max < opts.PageSize {
		opts.PageSize = opts.Max
	}
	return &Iterator{client: c, endpoint: endpoint, opts: opts, next: opts.Offset}
}

// Next advances to the next record, fetching pages as needed.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if it.opts.Max > 0 && it.delivered >= it.opts.Max {
		it.done = true
		return false
	}
	for it.idx >= len(it.page) {
		if it.started && it.next >= it.total {
			it.done = true
			return false
		}
		if !it.fetch(ctx) {
			it.done = true
			return false
		}
	}
	it.idx++
	it.delivered++
	return true
}

func (it *Iterator) fetch(ctx context.Context) bool {
	page := it.client.Page(ctx, it.endpoint, Query{
		Start:  it.next,
		Count:  it.opts.PageSize,
		From:   it.opts.From,
		To:     it.opts.To,
		Params: it.opts.Params,
	})
	it.started = true
	if !page.OK() {
		it.err = fmt.Errorf("fetching %s at %d: status %d: %s", it.endpoint, it.next, page.Status, page.Message)
		return false
	}
	it.total = page.Total
	it.dropped += page.Dropped
	returned := len(page.Objects) + page.Dropped
	if returned == 0 {
		return false
	}
	it.next += returned
	it.page = page.Objects
	it.idx = 0
	return true
}

// Object returns the current record.
func (it *Iterator) Object() ObjectInfo {
	return it.page[it.idx-1]
}

// Total returns the listing total reported by the last page.
func (it *Iterator) Total() int { return it.total }

// Dropped returns how many malformed records were skipped.
func (it *Iterator) Dropped() int { return it.dropped }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }
