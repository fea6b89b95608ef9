package harvest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/app/storage/memory"
	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/serviceprocessors"
)

// stubHandler serves a fixed resource list and stores harvested layers in
// the store it was opened with.
type stubHandler struct {
	url       string
	typ       remote.Type
	resources []serviceprocessors.Resource
	layers    *memory.Store
	fail      map[string]bool
}

func (h *stubHandler) URL() string                           { return h.url }
func (h *stubHandler) Name() string                          { return serviceprocessors.Slugify(h.url) }
func (h *stubHandler) Title() string                         { return "Stub" }
func (h *stubHandler) Type() remote.Type                     { return h.typ }
func (h *stubHandler) IndexingMethod() remote.IndexingMethod { return remote.Indexed }
func (h *stubHandler) PKIURL() string                        { return "" }
func (h *stubHandler) PKIProxyURL() string                   { return "" }
func (h *stubHandler) Resources(context.Context) ([]serviceprocessors.Resource, error) {
	return h.resources, nil
}

func (h *stubHandler) Resource(_ context.Context, id string) (serviceprocessors.Resource, error) {
	for _, r := range h.resources {
		if r.ID == id {
			return r, nil
		}
	}
	return serviceprocessors.Resource{}, errors.NewNotFoundError("resource", id)
}

func (h *stubHandler) CreateService(_ context.Context, owner string) (remote.Service, error) {
	return remote.Service{Name: h.Name(), Type: h.typ, Method: remote.Indexed, BaseURL: h.url, Title: "Stub", Owner: owner}, nil
}

func (h *stubHandler) HarvestResource(ctx context.Context, id string, svc remote.Service) (layer.Layer, error) {
	if h.fail[id] {
		return layer.Layer{}, fmt.Errorf("remote refused %s", id)
	}
	res, err := h.Resource(ctx, id)
	if err != nil {
		return layer.Layer{}, err
	}
	return h.layers.CreateLayer(ctx, layer.Layer{
		ServiceID: svc.ID,
		Name:      serviceprocessors.LayerName(svc.Type, res),
		Store:     svc.Name,
		Workspace: layer.RemoteWorkspace,
	})
}

type factory struct {
	mu     sync.Mutex
	opened []string
	next   func(rawURL string) *stubHandler
}

func (f *factory) open(_ context.Context, typ remote.Type, rawURL string, opts serviceprocessors.Options) (serviceprocessors.Handler, error) {
	f.mu.Lock()
	f.opened = append(f.opened, rawURL)
	f.mu.Unlock()
	h := f.next(rawURL)
	h.typ = typ
	return h, nil
}

func newTestService(t *testing.T, resources []serviceprocessors.Resource, fail map[string]bool) (*Service, *memory.Store, *factory) {
	t.Helper()
	store := memory.New()
	svc := New(store, store, store, serviceprocessors.Deps{}, nil)
	f := &factory{next: func(rawURL string) *stubHandler {
		return &stubHandler{url: rawURL, resources: resources, layers: store, fail: fail}
	}}
	svc.WithHandlerFactory(f.open)
	return svc, store, f
}

func TestRegisterValidatesAndRejectsDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{})
	assert.True(t, errors.IsValidationError(err))

	_, err = svc.Register(ctx, RegisterRequest{URL: "ftp://h/wms"})
	assert.True(t, errors.IsValidationError(err))

	_, err = svc.Register(ctx, RegisterRequest{URL: "http://h/wms", Type: "CSW"})
	assert.True(t, errors.IsValidationError(err))

	created, err := svc.Register(ctx, RegisterRequest{URL: "http://h/arcgis/rest/services/A/MapServer", Owner: " alice "})
	require.NoError(t, err)
	assert.Equal(t, remote.TypeRESTMap, created.Type)
	assert.Equal(t, "alice", created.Owner)
	assert.NotEmpty(t, created.ID)

	_, err = svc.Register(ctx, RegisterRequest{URL: "http://h/arcgis/rest/services/A/MapServer"})
	assert.True(t, errors.IsConflict(err))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestResourcesAndHarvest(t *testing.T) {
	resources := []serviceprocessors.Resource{{ID: "roads", Name: "roads"}, {ID: "rail", Name: "rail"}}
	svc, _, f := newTestService(t, resources, nil)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterRequest{URL: "http://h/wms", Type: remote.TypeWMS})
	require.NoError(t, err)

	statuses, err := svc.Resources(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].Harvested)

	l, err := svc.Harvest(ctx, created.ID, "roads")
	require.NoError(t, err)
	assert.Equal(t, "roads", l.Name)

	statuses, err = svc.Resources(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, statuses[0].Harvested)
	assert.False(t, statuses[1].Harvested)

	layers, err := svc.Layers(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, layers, 1)

	got, err := svc.Layer(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)

	links, err := svc.Links(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	_, err = svc.Links(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))

	_, err = svc.Harvest(ctx, "nope", "roads")
	assert.True(t, errors.IsNotFound(err))

	// Handlers are opened once and reused.
	assert.Len(t, f.opened, 1)
}

func TestHandlerIsReopenedAfterForget(t *testing.T) {
	svc, _, f := newTestService(t, []serviceprocessors.Resource{{ID: "a", Name: "a"}}, nil)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterRequest{URL: "http://h/wms", Type: remote.TypeWMS})
	require.NoError(t, err)
	svc.Forget(created.ID)

	_, err = svc.Resources(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://h/wms", "http://h/wms"}, f.opened)
}

func TestHarvestAllCollectsErrors(t *testing.T) {
	resources := []serviceprocessors.Resource{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}, {ID: "c", Name: "c"}}
	svc, _, _ := newTestService(t, resources, map[string]bool{"b": true})
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterRequest{URL: "http://h/wms", Type: remote.TypeWMS})
	require.NoError(t, err)
	_, err = svc.Harvest(ctx, created.ID, "a")
	require.NoError(t, err)

	result, err := svc.HarvestAll(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, result.Layers, 1)
	assert.Equal(t, "c", result.Layers[0].Name)
	require.Len(t, result.Errors, 1)
	assert.EqualError(t, result.Errors["b"], "remote refused b")
}

func TestMonitorScan(t *testing.T) {
	resources := []serviceprocessors.Resource{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}}
	svc, _, _ := newTestService(t, resources, nil)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterRequest{URL: "http://h/wms", Type: remote.TypeWMS})
	require.NoError(t, err)
	_, err = svc.Harvest(ctx, created.ID, "a")
	require.NoError(t, err)

	m := NewMonitor(svc, "", nil)
	counts := m.Scan(ctx)
	assert.Equal(t, map[string]int{created.ID: 1}, counts)
	assert.Equal(t, counts, m.Pending())
}

func TestMonitorLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)

	bad := NewMonitor(svc, "not a schedule", nil)
	require.Error(t, bad.Start(context.Background()))

	m := NewMonitor(svc, "@every 1h", nil)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
}
