package listing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datadavev/mnstatus/internal/dataonetest"
	"github.com/datadavev/mnstatus/internal/listing"
)

func collect(t *testing.T, it *listing.Iterator) []string {
	t.Helper()
	var ids []string
	for it.Next(context.Background()) {
		ids = append(ids, it.Object().Identifier)
	}
	return ids
}

func TestIterator_WalksAllPages(t *testing.T) {
	srv := dataonetest.New(dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2, Objects: objects(7)})
	defer srv.Close()

	it := newClient().Objects(srv.NodeURL("A")+"/v2/object", listing.IterOptions{PageSize: 3})
	ids := collect(t, it)
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"obj-a", "obj-b", "obj-c", "obj-d", "obj-e", "obj-f", "obj-g"}, ids)
	assert.Equal(t, 7, it.Total())
	assert.Equal(t, 3, srv.Requests("mn.object"))
}

func TestIterator_OffsetAndMax(t *testing.T) {
	srv := dataonetest.New(dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2, Objects: objects(10)})
	defer srv.Close()

	it := newClient().Objects(srv.NodeURL("A")+"/v2/object", listing.IterOptions{Offset: 2, Max: 4, PageSize: 3})
	ids := collect(t, it)
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"obj-c", "obj-d", "obj-e", "obj-f"}, ids)
}

func TestIterator_CountsDropped(t *testing.T) {
	objs := objects(5)
	objs[0].Malformed = true
	objs[3].Malformed = true
	srv := dataonetest.New(dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2, Objects: objs})
	defer srv.Close()

	it := newClient().Objects(srv.NodeURL("A")+"/v2/object", listing.IterOptions{PageSize: 2})
	ids := collect(t, it)
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"obj-b", "obj-c", "obj-e"}, ids)
	assert.Equal(t, 2, it.Dropped())
}

func TestIterator_StopsOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	it := newClient().Objects(srv.URL, listing.IterOptions{})
	assert.False(t, it.Next(context.Background()))
	assert.Error(t, it.Err())
	assert.False(t, it.Next(context.Background()))
}

func TestIterator_EmptyListing(t *testing.T) {
	srv := dataonetest.New(dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2})
	defer srv.Close()

	it := newClient().Objects(srv.NodeURL("A")+"/v2/object", listing.IterOptions{})
	assert.Empty(t, collect(t, it))
	assert.NoError(t, it.Err())
	assert.Zero(t, it.Total())
}
