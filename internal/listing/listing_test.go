package listing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datadavev/mnstatus/internal/daterange"
	"github.com/datadavev/mnstatus/internal/dataonetest"
	"github.com/datadavev/mnstatus/internal/listing"
	"github.com/datadavev/mnstatus/internal/transport"
)

var base = time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)

func objects(n int) []dataonetest.Object {
	var out []dataonetest.Object
	for i := 0; i < n; i++ {
		out = append(out, dataonetest.Object{
			ID:       "obj-" + string(rune('a'+i)),
			Modified: base.Add(time.Duration(i) * time.Hour),
			Size:     int64(100 + i),
		})
	}
	return out
}

func newClient() *listing.Client {
	return listing.NewClient(transport.New(nil), 5*time.Second, nil)
}

func TestPage_ParsesRecords(t *testing.T) {
	srv := dataonetest.New(dataonetest.Node{ID: "urn:node:A", Type: "mn", State: "up", Version: 2, Objects: objects(3)})
	defer srv.Close()

	page := newClient().Page(context.Background(), srv.NodeURL("urn:node:A")+"/v2/object", listing.Query{Count: 2})
	require.True(t, page.OK(), "status %d: %s", page.Status, page.Message)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Count)
	require.Len(t, page.Objects, 2)

	o := page.Objects[0]
	assert.Equal(t, "obj-a", o.Identifier)
	assert.Equal(t, "text/csv", o.FormatID)
	assert.Equal(t, "MD5", o.ChecksumAlgorithm)
	assert.Equal(t, int64(100), o.Size)
	assert.True(t, o.Modified.Equal(base))
	assert.Zero(t, page.Dropped)
}

func TestPage_DateFilter(t *testing.T) {
	srv := dataonetest.New(dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2, Objects: objects(5)})
	defer srv.Close()

	page := newClient().Page(context.Background(), srv.NodeURL("A")+"/v2/object", listing.Query{
		From: base.Add(time.Hour),
		To:   base.Add(3 * time.Hour),
	})
	require.True(t, page.OK())
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Objects, 2)
	assert.Equal(t, "obj-b", page.Objects[0].Identifier)
	assert.Equal(t, "obj-c", page.Objects[1].Identifier)
}

func TestPage_SkipsMalformedRecords(t *testing.T) {
	objs := objects(3)
	objs[1].Malformed = true
	srv := dataonetest.New(dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2, Objects: objs})
	defer srv.Close()

	page := newClient().Page(context.Background(), srv.NodeURL("A")+"/v2/object", listing.Query{})
	require.True(t, page.OK())
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Objects, 2)
	assert.Equal(t, 1, page.Dropped)
}

func TestPage_UnparseableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<objectList total=\"3\"><objectInfo>"))
	}))
	defer srv.Close()

	page := newClient().Page(context.Background(), srv.URL, listing.Query{})
	assert.Equal(t, transport.StatusParse, page.Status)
	assert.NotEmpty(t, page.Message)
	assert.Empty(t, page.Objects)
}

func TestPage_UpstreamStatusPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	page := newClient().Page(context.Background(), srv.URL, listing.Query{})
	assert.Equal(t, http.StatusNotFound, page.Status)
	assert.False(t, page.OK())
}

func TestPage_SendsParams(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`<objectList total="0" count="0" start="0"/>`))
	}))
	defer srv.Close()

	page := newClient().Page(context.Background(), srv.URL, listing.Query{
		Start:  0,
		Count:  2,
		From:   base,
		Params: url.Values{"nodeId": {"urn:node:X"}},
	})
	require.True(t, page.OK())
	assert.Equal(t, "0", got.Get("start"))
	assert.Equal(t, "2", got.Get("count"))
	assert.Equal(t, "2020-05-01T00:00:00Z", got.Get("fromDate"))
	assert.Empty(t, got.Get("toDate"))
	assert.Equal(t, "urn:node:X", got.Get("nodeId"))
}

func TestProber_AdaptsPages(t *testing.T) {
	srv := dataonetest.New(
		dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2, Objects: objects(4)},
		dataonetest.Node{ID: "B", Type: "mn", State: "up", Version: 2, Objects: objects(1)},
	)
	defer srv.Close()

	p := listing.Prober{
		Client: newClient(),
		URL:    srv.RegistryURL() + "/v2/object",
		Params: url.Values{"nodeId": {"A"}},
	}
	probe := p.Probe(context.Background(), daterange.Window{To: base.Add(2 * time.Hour)})
	require.NoError(t, probe.Err)
	assert.Equal(t, 2, probe.Total)
	require.Len(t, probe.Matches, 2)
	assert.Equal(t, "obj-a", probe.Matches[0].ID)
	assert.False(t, probe.Truncated())
}

func TestProber_FailedPageIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := listing.Prober{Client: newClient(), URL: srv.URL}
	probe := p.Probe(context.Background(), daterange.Window{To: base})
	assert.Error(t, probe.Err)
}
