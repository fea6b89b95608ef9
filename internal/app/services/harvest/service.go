// Package harvest registers remote map services and harvests their
// resources into local layers.
package harvest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/app/metrics"
	"github.com/R3E-Network/geoharvest/internal/app/storage"
	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/serviceprocessors"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

// HandlerFactory builds the handler for a remote service.
type HandlerFactory func(ctx context.Context, typ remote.Type, rawURL string, opts serviceprocessors.Options) (serviceprocessors.Handler, error)

// RegisterRequest describes a service to register.
type RegisterRequest struct {
	URL     string
	Type    remote.Type
	Owner   string
	Headers map[string]string
}

// ResourceStatus is a remote resource and whether it already has a layer.
type ResourceStatus struct {
	serviceprocessors.Resource
	Harvested bool
}

// Result reports the outcome of harvesting every pending resource.
type Result struct {
	Layers []layer.Layer
	Errors map[string]error
}

// Service manages remote services and harvests their resources.
type Service struct {
	services storage.ServiceStore
	layers   storage.LayerStore
	links    storage.LinkStore
	deps     serviceprocessors.Deps
	open     HandlerFactory
	log      *logger.Logger

	mu       sync.Mutex
	handlers map[string]serviceprocessors.Handler
}

// New constructs a harvest service. deps supplies the collaborators shared
// by every handler; its stores are replaced by the ones passed here.
func New(services storage.ServiceStore, layers storage.LayerStore, links storage.LinkStore, deps serviceprocessors.Deps, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("harvest")
	}
	deps.Layers = layers
	deps.Links = links
	if deps.Log == nil {
		deps.Log = log
	}
	return &Service{
		services: services,
		layers:   layers,
		links:    links,
		deps:     deps,
		open:     serviceprocessors.New,
		log:      log,
		handlers: make(map[string]serviceprocessors.Handler),
	}
}

// WithHandlerFactory overrides how handlers are built.
func (s *Service) WithHandlerFactory(f HandlerFactory) {
	s.mu.Lock()
	s.open = f
	s.mu.Unlock()
}

// Register parses the remote service and persists its record.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (remote.Service, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return remote.Service{}, errors.RequiredError("url")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return remote.Service{}, errors.NewValidationError("url", "must be an absolute http(s) URL")
	}

	typ := req.Type
	if typ == "" {
		typ = serviceprocessors.Guess(rawURL)
	}
	if !typ.Valid() {
		return remote.Service{}, errors.NewValidationError("type", fmt.Sprintf("unsupported service type %q", typ))
	}

	if _, err := s.services.GetServiceByURL(ctx, rawURL); err == nil {
		return remote.Service{}, errors.NewConflictError("service", rawURL)
	} else if !errors.IsNotFound(err) {
		return remote.Service{}, err
	}

	h, err := s.build(ctx, typ, rawURL, req.Headers)
	if err != nil {
		return remote.Service{}, fmt.Errorf("could not parse %s service at %s: %w", typ, rawURL, err)
	}

	if _, err := s.services.GetServiceByURL(ctx, h.URL()); err == nil {
		return remote.Service{}, errors.NewConflictError("service", h.URL())
	} else if !errors.IsNotFound(err) {
		return remote.Service{}, err
	}

	record, err := h.CreateService(ctx, strings.TrimSpace(req.Owner))
	if err != nil {
		return remote.Service{}, err
	}
	created, err := s.services.CreateService(ctx, record)
	if err != nil {
		return remote.Service{}, err
	}

	s.mu.Lock()
	s.handlers[created.ID] = h
	s.mu.Unlock()

	s.log.WithField("service_id", created.ID).
		WithField("type", created.Type).
		WithField("method", created.Method).
		WithField("url", created.BaseURL).
		Info("remote service registered")
	return created, nil
}

func (s *Service) build(ctx context.Context, typ remote.Type, rawURL string, headers map[string]string) (serviceprocessors.Handler, error) {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	return open(ctx, typ, rawURL, serviceprocessors.Options{Headers: headers, Deps: s.deps})
}

// handlerFor returns the cached handler of svc, re-reading the remote
// description when the process has not seen it yet.
func (s *Service) handlerFor(ctx context.Context, svc remote.Service) (serviceprocessors.Handler, error) {
	s.mu.Lock()
	h, ok := s.handlers[svc.ID]
	s.mu.Unlock()
	if ok {
		return h, nil
	}

	rawURL := svc.BaseURL
	if svc.PKIURL != "" {
		rawURL = svc.PKIURL
	}
	h, err := s.build(ctx, svc.Type, rawURL, svc.Headers)
	if err != nil {
		return nil, fmt.Errorf("open service %s: %w", svc.ID, err)
	}

	s.mu.Lock()
	s.handlers[svc.ID] = h
	s.mu.Unlock()
	return h, nil
}

// Forget drops the cached handler of a service.
func (s *Service) Forget(serviceID string) {
	s.mu.Lock()
	delete(s.handlers, serviceID)
	s.mu.Unlock()
}

// Get returns a registered service.
func (s *Service) Get(ctx context.Context, id string) (remote.Service, error) {
	return s.services.GetService(ctx, id)
}

// List returns every registered service.
func (s *Service) List(ctx context.Context) ([]remote.Service, error) {
	return s.services.ListServices(ctx)
}

// Resources lists the remote resources of a service, flagging the ones
// already harvested.
func (s *Service) Resources(ctx context.Context, serviceID string) ([]ResourceStatus, error) {
	svc, err := s.services.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	h, err := s.handlerFor(ctx, svc)
	if err != nil {
		return nil, err
	}
	resources, err := h.Resources(ctx)
	if err != nil {
		return nil, err
	}

	harvested, err := s.harvestedNames(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ResourceStatus, 0, len(resources))
	for _, res := range resources {
		_, done := harvested[serviceprocessors.LayerName(svc.Type, res)]
		out = append(out, ResourceStatus{Resource: res, Harvested: done})
	}
	return out, nil
}

func (s *Service) harvestedNames(ctx context.Context, serviceID string) (map[string]struct{}, error) {
	layers, err := s.layers.ListLayers(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(layers))
	for _, l := range layers {
		names[l.Name] = struct{}{}
	}
	return names, nil
}

// Harvest creates the layer for one resource of a service.
func (s *Service) Harvest(ctx context.Context, serviceID, resourceID string) (layer.Layer, error) {
	svc, err := s.services.GetService(ctx, serviceID)
	if err != nil {
		return layer.Layer{}, err
	}
	h, err := s.handlerFor(ctx, svc)
	if err != nil {
		return layer.Layer{}, err
	}
	return s.harvestOne(ctx, h, svc, resourceID)
}

func (s *Service) harvestOne(ctx context.Context, h serviceprocessors.Handler, svc remote.Service, resourceID string) (layer.Layer, error) {
	start := time.Now()
	l, err := h.HarvestResource(ctx, resourceID, svc)
	metrics.RecordHarvest(string(svc.Type), time.Since(start), err)
	if err != nil {
		s.log.WithError(err).
			WithField("service_id", svc.ID).
			WithField("resource", resourceID).
			Warn("harvest failed")
		return layer.Layer{}, err
	}
	return l, nil
}

// HarvestAll harvests every resource of a service that has no layer yet,
// one at a time. Failures are collected per resource id.
func (s *Service) HarvestAll(ctx context.Context, serviceID string) (Result, error) {
	svc, err := s.services.GetService(ctx, serviceID)
	if err != nil {
		return Result{}, err
	}
	statuses, err := s.Resources(ctx, serviceID)
	if err != nil {
		return Result{}, err
	}
	h, err := s.handlerFor(ctx, svc)
	if err != nil {
		return Result{}, err
	}

	result := Result{Errors: make(map[string]error)}
	for _, st := range statuses {
		if st.Harvested {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Errors[st.ID] = err
			continue
		}
		l, err := s.harvestOne(ctx, h, svc, st.ID)
		if err != nil {
			result.Errors[st.ID] = err
			continue
		}
		result.Layers = append(result.Layers, l)
	}

	s.log.WithField("service_id", svc.ID).
		WithField("harvested", len(result.Layers)).
		WithField("failed", len(result.Errors)).
		Info("service harvest finished")
	return result, nil
}

// Layers lists harvested layers, optionally limited to one service.
func (s *Service) Layers(ctx context.Context, serviceID string) ([]layer.Layer, error) {
	if serviceID != "" {
		if _, err := s.services.GetService(ctx, serviceID); err != nil {
			return nil, err
		}
	}
	return s.layers.ListLayers(ctx, serviceID)
}

// Layer returns a harvested layer.
func (s *Service) Layer(ctx context.Context, id string) (layer.Layer, error) {
	return s.layers.GetLayer(ctx, id)
}

// Links returns the links of a harvested layer.
func (s *Service) Links(ctx context.Context, layerID string) ([]link.Link, error) {
	if _, err := s.layers.GetLayer(ctx, layerID); err != nil {
		return nil, err
	}
	return s.links.ListLinks(ctx, layerID)
}
