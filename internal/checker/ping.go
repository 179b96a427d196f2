package checker

import (
	"context"
)

type pingChecker struct {
	r *Runner
	t Target
}

func (c *pingChecker) Check(ctx context.Context) CheckResult {
	u := join(c.t.BaseURL, c.t.versionPath(), "monitor/ping")
	resp := c.r.getter.Fetch(ctx, u, nil, c.r.cfg.PingTimeout)
	return CheckResult{
		Category: Ping,
		Method:   "ping",
		URL:      u,
		Status:   resp.Status,
		Message:  resp.Message,
		Started:  resp.Started,
		Elapsed:  resp.Elapsed,
	}
}
