package checker

import (
	"context"
	"net/url"
	"time"

	"github.com/datadavev/mnstatus/internal/daterange"
	"github.com/datadavev/mnstatus/internal/listing"
)

// listChecker counts a node's objects and finds their modification range,
// either on the node itself or through the registry's mirror of it.
type listChecker struct {
	r  *Runner
	t  Target
	cn bool
}

func (c *listChecker) Check(ctx context.Context) CheckResult {
	endpoint := c.t.ObjectsURL()
	var params url.Values
	result := CheckResult{Category: MN, Method: "mn.listObjects"}
	if c.cn {
		endpoint = RegistryObjectsURL(c.r.cfg.RegistryURL)
		params = url.Values{"nodeId": {c.t.NodeID}}
		result = CheckResult{Category: CN, Method: "cn.listObjects"}
	}
	result.URL = endpoint

	start := time.Now()
	c.r.logger.Info("get total", "node", c.t.NodeID, "category", result.Category, "url", endpoint)
	page := c.r.listing.Page(ctx, endpoint, listing.Query{Start: 0, Count: 2, Params: params})
	result.Started = page.Started
	result.Status = page.Status
	result.Message = page.Message
	if !page.OK() {
		result.Elapsed = time.Since(start)
		return result
	}
	result.Count = int64p(page.Total)

	if page.Total > 0 {
		rng := c.r.finder.Find(ctx, listing.Prober{
			Client:   c.r.listing,
			URL:      endpoint,
			Params:   params,
			PageSize: c.r.cfg.PageSize,
		})
		applyRange(&result, rng)
	}
	result.normalize()
	result.Elapsed = time.Since(start)
	return result
}

func applyRange(result *CheckResult, rng daterange.Range) {
	if rng.Earliest != nil {
		result.Earliest = &Boundary{Modified: rng.Earliest.Modified, PID: rng.Earliest.ID}
	}
	if rng.Latest != nil {
		result.Latest = &Boundary{Modified: rng.Latest.Modified, PID: rng.Latest.ID}
	}
	if rng.Partial {
		result.Partial = true
		result.note("%d malformed records skipped", rng.Dropped)
	}
	if rng.Truncated {
		result.Truncated = true
		result.note("boundary read from a truncated page")
	}
}
