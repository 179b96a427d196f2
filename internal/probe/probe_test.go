package probe_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/config"
	"github.com/datadavev/mnstatus/internal/dataonetest"
	"github.com/datadavev/mnstatus/internal/metrics"
	"github.com/datadavev/mnstatus/internal/probe"
	"github.com/datadavev/mnstatus/internal/registry"
	"github.com/datadavev/mnstatus/internal/transport"
)

var base = time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)

func federation() *dataonetest.Server {
	var objs []dataonetest.Object
	for i, id := range []string{"obj-1", "obj-2", "obj-3"} {
		objs = append(objs, dataonetest.Object{ID: id, Modified: base.Add(time.Duration(i) * 24 * time.Hour)})
	}
	return dataonetest.New(
		dataonetest.Node{ID: "urn:node:A", Name: "Alpha", Type: "mn", State: "up", Version: 2, Objects: objs},
		dataonetest.Node{ID: "urn:node:B", Name: "Beta", Type: "mn", State: "down", Version: 1},
		dataonetest.Node{ID: "urn:node:C", Name: "Coord", Type: "cn", State: "up"},
	)
}

func newService(srv *dataonetest.Server) *probe.Service {
	cfg := config.Default()
	cfg.Registry.BaseURL = srv.RegistryURL()
	cfg.HTTP.Timeout = config.Duration{Duration: 5 * time.Second}
	cfg.HTTP.PingTimeout = config.Duration{Duration: 2 * time.Second}
	return probe.New(cfg, transport.New(nil), nil, nil)
}

func TestNodes_FiltersAndChecks(t *testing.T) {
	srv := federation()
	defer srv.Close()
	svc := newService(srv)

	nodes, err := svc.Nodes(context.Background(), probe.NodeQuery{
		State: "up",
		Type:  "mn",
		Tests: []checker.Category{checker.Ping},
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "urn:node:A", nodes[0].ID)
	require.Contains(t, nodes[0].Status, checker.Ping)
	assert.Equal(t, http.StatusOK, nodes[0].Status[checker.Ping].Status)
	assert.Equal(t, 1, srv.Requests("ping"))
}

func TestNodes_NoTestsLeavesStatusEmpty(t *testing.T) {
	srv := federation()
	defer srv.Close()

	nodes, err := newService(srv).Nodes(context.Background(), probe.NodeQuery{})
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
	for _, n := range nodes {
		assert.Empty(t, n.Status, n.ID)
	}
	assert.Zero(t, srv.Requests("ping"))
}

func TestNodes_InvalidQuery(t *testing.T) {
	srv := federation()
	defer srv.Close()
	svc := newService(srv)

	_, err := svc.Nodes(context.Background(), probe.NodeQuery{State: "sideways"})
	assert.ErrorIs(t, err, probe.ErrInvalidQuery)
	_, err = svc.Nodes(context.Background(), probe.NodeQuery{Type: "xx"})
	assert.ErrorIs(t, err, probe.ErrInvalidQuery)
	assert.Zero(t, srv.Requests("node"))
}

func TestCheckNode_AllCategories(t *testing.T) {
	srv := federation()
	defer srv.Close()

	n, err := newService(srv).CheckNode(context.Background(), "urn:node:A", nil, false)
	require.NoError(t, err)
	require.Len(t, n.Status, len(checker.Categories))

	mn := n.Status[checker.MN]
	assert.Equal(t, http.StatusOK, mn.Status)
	require.NotNil(t, mn.Count)
	assert.EqualValues(t, 3, *mn.Count)
	require.NotNil(t, mn.Earliest)
	require.NotNil(t, mn.Latest)
	assert.Equal(t, "obj-1", mn.Earliest.PID)
	assert.Equal(t, "obj-3", mn.Latest.PID)

	cn := n.Status[checker.CN]
	require.NotNil(t, cn.Count)
	assert.EqualValues(t, 3, *cn.Count)

	idx := n.Status[checker.Index]
	require.NotNil(t, idx.Latest)
	assert.Equal(t, "obj-3", idx.Latest.PID)
}

func TestCheckNode_ByBaseURL(t *testing.T) {
	srv := federation()
	defer srv.Close()

	n, err := newService(srv).CheckNode(context.Background(), srv.NodeURL("urn:node:B")+"/", []checker.Category{checker.Ping}, false)
	require.NoError(t, err)
	assert.Equal(t, "urn:node:B", n.ID)
	assert.Len(t, n.Status, 1)
}

func TestCheckNode_Unknown(t *testing.T) {
	srv := federation()
	defer srv.Close()

	_, err := newService(srv).CheckNode(context.Background(), "urn:node:Z", nil, false)
	assert.ErrorIs(t, err, registry.ErrNodeNotFound)
}

func TestObjects(t *testing.T) {
	srv := federation()
	defer srv.Close()
	svc := newService(srv)
	ctx := context.Background()

	for _, src := range []probe.Source{probe.SourceMN, probe.SourceCN} {
		t.Run(string(src), func(t *testing.T) {
			it, err := svc.Objects(ctx, probe.ObjectQuery{Node: "urn:node:A", Source: src, Offset: 1})
			require.NoError(t, err)
			var ids []string
			for it.Next(ctx) {
				ids = append(ids, it.Object().Identifier)
			}
			require.NoError(t, it.Err())
			assert.Equal(t, []string{"obj-2", "obj-3"}, ids)
			assert.Equal(t, 3, it.Total())
		})
	}
	assert.Equal(t, 1, srv.Requests("mn.object"))
	assert.Equal(t, 1, srv.Requests("cn.object"))
}

func TestObjects_InvalidQuery(t *testing.T) {
	srv := federation()
	defer srv.Close()
	svc := newService(srv)

	_, err := svc.Objects(context.Background(), probe.ObjectQuery{})
	assert.ErrorIs(t, err, probe.ErrInvalidQuery)
	_, err = svc.Objects(context.Background(), probe.ObjectQuery{Node: "urn:node:A", Source: "solr"})
	assert.ErrorIs(t, err, probe.ErrInvalidQuery)
}

func TestUseMetrics(t *testing.T) {
	srv := federation()
	defer srv.Close()
	svc := newService(srv)
	m := metrics.New()
	svc.UseMetrics(m)

	_, err := svc.Nodes(context.Background(), probe.NodeQuery{Tests: []checker.Category{checker.Ping}})
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(m.Registry(), "mnstatus_checks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
