package listing

import (
	"context"
	"fmt"
	"net/url"

	"github.com/datadavev/mnstatus/internal/daterange"
)

// Prober answers date range probes against one listing endpoint, optionally
// narrowed by extra parameters such as a nodeId filter.
type Prober struct {
	Client   *Client
	URL      string
	Params   url.Values
	PageSize int
}

// Probe implements daterange.Prober.
func (p Prober) Probe(ctx context.Context, w daterange.Window) daterange.Probe {
	page := p.Client.Page(ctx, p.URL, Query{
		Count:  p.PageSize,
		From:   w.From,
		To:     w.To,
		Params: p.Params,
	})
	if !page.OK() {
		return daterange.Probe{Err: fmt.Errorf("listing %s: status %d: %s", p.URL, page.Status, page.Message)}
	}
	matches := make([]daterange.Match, 0, len(page.Objects))
	for _, o := range page.Objects {
		matches = append(matches, daterange.Match{Modified: o.Modified, ID: o.Identifier})
	}
	return daterange.Probe{
		Total:   page.Total,
		Count:   page.Count,
		Matches: matches,
		Dropped: page.Dropped,
	}
}
