package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/datadavev/mnstatus/internal/timeutil"
	"github.com/datadavev/mnstatus/internal/transport"
)

var solrEscaper = func() *strings.Replacer {
	pairs := []string{`\`, `\\`}
	for _, c := range []string{"+", "-", "&", "|", "!", "(", ")", "{", "}", "[", "]", "^", `"`, "~", "*", "?", ":"} {
		pairs = append(pairs, c, `\`+c)
	}
	return strings.NewReplacer(pairs...)
}()

// EscapeQueryTerm backslash-escapes the search index's reserved characters.
func EscapeQueryTerm(term string) string {
	return solrEscaper.Replace(term)
}

type solrResponse struct {
	Response struct {
		NumFound int       `json:"numFound"`
		Docs     []solrDoc `json:"docs"`
	} `json:"response"`
}

type solrDoc struct {
	ID           string `json:"id"`
	SeriesID     string `json:"seriesId"`
	SeriesIDAlt  string `json:"series_id"`
	DateModified string `json:"dateModified"`
	DateUploaded string `json:"dateUploaded"`
}

func (d solrDoc) boundary() (*Boundary, error) {
	modified, err := timeutil.Parse(d.DateModified)
	if err != nil {
		return nil, fmt.Errorf("document %q: %w", d.ID, err)
	}
	b := &Boundary{Modified: modified, PID: d.ID, SID: d.SeriesID}
	if b.SID == "" {
		b.SID = d.SeriesIDAlt
	}
	if d.DateUploaded != "" {
		if up, err := timeutil.Parse(d.DateUploaded); err == nil {
			b.Uploaded = &up
		}
	}
	return b, nil
}

// indexChecker reads the boundary documents directly from the search index,
// which sorts server side.
type indexChecker struct {
	r *Runner
	t Target
}

func (c *indexChecker) params(order string) url.Values {
	return url.Values{
		"wt":    {"json"},
		"start": {"0"},
		"rows":  {"5"},
		"fl":    {"id,seriesId,formatId,dateModified,dateUploaded"},
		"q":     {"datasource:" + EscapeQueryTerm(c.t.NodeID)},
		"sort":  {"dateModified " + order},
	}
}

func (c *indexChecker) Check(ctx context.Context) CheckResult {
	endpoint := c.r.indexURL()
	result := CheckResult{Category: Index, Method: "cn.index", URL: endpoint}
	start := time.Now()
	c.r.logger.Info("index", "node", c.t.NodeID, "url", endpoint)

	asc, ok := c.query(ctx, endpoint, "asc", &result)
	if !ok {
		result.Elapsed = time.Since(start)
		return result
	}
	result.Count = int64p(asc.Response.NumFound)
	if asc.Response.NumFound > 0 && len(asc.Response.Docs) > 0 {
		result.Earliest = c.boundary(asc.Response.Docs[0], &result)
	}

	desc, ok := c.query(ctx, endpoint, "desc", &result)
	if !ok {
		result.Count = nil
		result.Earliest = nil
		result.Elapsed = time.Since(start)
		return result
	}
	if asc.Response.NumFound > 0 && len(desc.Response.Docs) > 0 {
		result.Latest = c.boundary(desc.Response.Docs[0], &result)
	}

	result.normalize()
	result.Elapsed = time.Since(start)
	return result
}

// query runs one sorted search. On failure result carries the status and
// message and ok is false.
func (c *indexChecker) query(ctx context.Context, endpoint, order string, result *CheckResult) (solrResponse, bool) {
	var doc solrResponse
	resp := c.r.getter.Fetch(ctx, endpoint, c.params(order), c.r.cfg.Timeout)
	if result.Started.IsZero() {
		result.Started = resp.Started
	}
	result.Status = resp.Status
	if !resp.OK() {
		result.Message = resp.Message
		return doc, false
	}
	if resp.Message != "" && !strings.Contains(result.Message, resp.Message) {
		result.note("%s", resp.Message)
	}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		c.r.logger.Error("parsing index response", "node", c.t.NodeID, "url", resp.URL, "error", err)
		result.Status = transport.StatusParse
		result.Message = err.Error()
		return doc, false
	}
	return doc, true
}

func (c *indexChecker) boundary(d solrDoc, result *CheckResult) *Boundary {
	b, err := d.boundary()
	if err != nil {
		c.r.logger.Warn("skipping index document", "node", c.t.NodeID, "error", err)
		result.note("unreadable index document %q", d.ID)
		return nil
	}
	return b
}
