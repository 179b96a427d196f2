// Package listing reads DataONE listObjects documents: single pages, a paged
// iterator, and the windowed probe used for date range discovery.
package listing

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/datadavev/mnstatus/internal/timeutil"
	"github.com/datadavev/mnstatus/internal/transport"
)

// ObjectInfo is one converted listing record.
type ObjectInfo struct {
	Identifier        string    `json:"identifier"`
	FormatID          string    `json:"formatId"`
	ChecksumAlgorithm string    `json:"checksum_algorithm"`
	Checksum          string    `json:"checksum"`
	Modified          time.Time `json:"dateSysMetadataModified"`
	Size              int64     `json:"size"`
}

type objectList struct {
	XMLName xml.Name        `xml:"objectList"`
	Total   int             `xml:"total,attr"`
	Count   int             `xml:"count,attr"`
	Start   int             `xml:"start,attr"`
	Objects []objectInfoXML `xml:"objectInfo"`
}

type objectInfoXML struct {
	Identifier string `xml:"identifier"`
	FormatID   string `xml:"formatId"`
	Checksum   struct {
		Algorithm string `xml:"algorithm,attr"`
		Value     string `xml:",chardata"`
	} `xml:"checksum"`
	Modified string `xml:"dateSysMetadataModified"`
	Size     string `xml:"size"`
}

func (e objectInfoXML) convert() (ObjectInfo, error) {
	var missing []string
	for name, v := range map[string]string{
		"identifier":              e.Identifier,
		"formatId":                e.FormatID,
		"checksum":                e.Checksum.Value,
		"dateSysMetadataModified": e.Modified,
		"size":                    e.Size,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ObjectInfo{}, fmt.Errorf("record %q missing %s", e.Identifier, strings.Join(missing, ", "))
	}
	modified, err := timeutil.Parse(e.Modified)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("record %q: %w", e.Identifier, err)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(e.Size), 10, 64)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("record %q: invalid size %q", e.Identifier, e.Size)
	}
	return ObjectInfo{
		Identifier:        strings.TrimSpace(e.Identifier),
		FormatID:          strings.TrimSpace(e.FormatID),
		ChecksumAlgorithm: e.Checksum.Algorithm,
		Checksum:          strings.TrimSpace(e.Checksum.Value),
		Modified:          modified,
		Size:              size,
	}, nil
}

// Query selects one page of a listing.
type Query struct {
	Start  int
	Count  int
	From   time.Time
	To     time.Time
	Params url.Values
}

func (q Query) values() url.Values {
	v := url.Values{}
	for k, vs := range q.Params {
		v[k] = append([]string(nil), vs...)
	}
	v.Set("start", strconv.Itoa(q.Start))
	if q.Count > 0 {
		v.Set("count", strconv.Itoa(q.Count))
	}
	if !q.From.IsZero() {
		v.Set("fromDate", timeutil.FormatQuery(q.From))
	}
	if !q.To.IsZero() {
		v.Set("toDate", timeutil.FormatQuery(q.To))
	}
	return v
}

// Page is one listing response.
type Page struct {
	Status  int
	Message string
	Started time.Time
	Elapsed time.Duration
	Total   int
	Count   int
	Start   int
	Objects []ObjectInfo
	// Dropped counts records skipped because they could not be converted.
	Dropped int
}

// OK reports whether the page was fetched and parsed.
func (p Page) OK() bool {
	return p.Status == 200
}

// Client fetches listing pages.
type Client struct {
	getter  transport.Getter
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a listing Client. Pass nil logger to use the default logger.
func NewClient(getter transport.Getter, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{getter: getter, timeout: timeout, logger: logger}
}

// Page fetches and converts one page. Failures are reported through
// Page.Status using the transport sentinel codes.
func (c *Client) Page(ctx context.Context, endpoint string, q Query) Page {
	resp := c.getter.Fetch(ctx, endpoint, q.values(), c.timeout)
	page := Page{
		Status:  resp.Status,
		Message: resp.Message,
		Started: resp.Started,
		Elapsed: resp.Elapsed,
	}
	if !resp.OK() {
		return page
	}

	doc, err := parse(resp.Body)
	if err != nil {
		c.logger.Error("parsing listing", "url", resp.URL, "error", err)
		page.Status = transport.StatusParse
		page.Message = err.Error()
		return page
	}
	page.Total = doc.Total
	page.Count = doc.Count
	page.Start = doc.Start

	for _, e := range doc.Objects {
		o, err := e.convert()
		if err != nil {
			c.logger.Warn("skipping listing record", "url", endpoint, "error", err)
			page.Dropped++
			continue
		}
		page.Objects = append(page.Objects, o)
	}
	return page
}

func parse(body []byte) (*objectList, error) {
	var doc objectList
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding object list: %w", err)
	}
	return &doc, nil
}
