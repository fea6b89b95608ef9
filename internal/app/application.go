package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/geoharvest/internal/app/services/harvest"
	"github.com/R3E-Network/geoharvest/internal/app/services/journals"
	"github.com/R3E-Network/geoharvest/internal/app/services/thumbnails"
	"github.com/R3E-Network/geoharvest/internal/app/storage"
	"github.com/R3E-Network/geoharvest/internal/app/storage/memory"
	"github.com/R3E-Network/geoharvest/internal/app/system"
	"github.com/R3E-Network/geoharvest/internal/serviceprocessors"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Services storage.ServiceStore
	Layers   storage.LayerStore
	Links    storage.LinkStore
	Journals storage.JournalStore
}

// Options configure the harvesting side of the application.
type Options struct {
	// Handlers are the collaborators shared by every service handler. The
	// stores and thumbnail bucket are filled in by New.
	Handlers serviceprocessors.Deps
	// Thumbnails holds harvested thumbnails. Nil opens an in-memory bucket.
	Thumbnails *thumbnails.Store
	// MonitorSchedule enables the pending-resource monitor when set.
	MonitorSchedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Harvest    *harvest.Service
	Monitor    *harvest.Monitor
	Journals   *journals.Service
	Thumbnails *thumbnails.Store
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Services == nil {
		stores.Services = mem
	}
	if stores.Layers == nil {
		stores.Layers = mem
	}
	if stores.Links == nil {
		stores.Links = mem
	}
	if stores.Journals == nil {
		stores.Journals = mem
	}

	thumbs := opts.Thumbnails
	if thumbs == nil {
		var err error
		thumbs, err = thumbnails.Open(context.Background(), "mem://", "", log.Component("thumbnails"))
		if err != nil {
			return nil, err
		}
	}

	deps := opts.Handlers
	deps.Thumbnails = thumbs
	if deps.Log == nil {
		deps.Log = log
	}

	manager := system.NewManager()
	harvestService := harvest.New(stores.Services, stores.Layers, stores.Links, deps, log.Component("harvest"))
	journalService := journals.New(stores.Journals, log.Component("journals"))

	var monitor *harvest.Monitor
	if opts.MonitorSchedule != "" {
		monitor = harvest.NewMonitor(harvestService, opts.MonitorSchedule, log.Component("harvest-monitor"))
		if err := manager.Register(monitor); err != nil {
			return nil, fmt.Errorf("register %s: %w", monitor.Name(), err)
		}
	} else {
		log.Warn("harvest monitor schedule not set; monitor disabled")
	}

	return &Application{
		manager:    manager,
		log:        log,
		Harvest:    harvestService,
		Monitor:    monitor,
		Journals:   journalService,
		Thumbnails: thumbs,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
