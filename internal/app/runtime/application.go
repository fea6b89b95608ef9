// Package runtime wires configuration, storage and the HTTP server into a
// running process.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/R3E-Network/geoharvest/internal/app"
	"github.com/R3E-Network/geoharvest/internal/app/httpapi"
	"github.com/R3E-Network/geoharvest/internal/app/services/thumbnails"
	"github.com/R3E-Network/geoharvest/internal/app/storage/postgres"
	"github.com/R3E-Network/geoharvest/internal/config"
	"github.com/R3E-Network/geoharvest/internal/httputil"
	"github.com/R3E-Network/geoharvest/internal/remote/geoserver"
	"github.com/R3E-Network/geoharvest/internal/remote/pki"
	"github.com/R3E-Network/geoharvest/internal/serviceprocessors"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	thumbs     *thumbnails.Store
	db         *sql.DB
}

// NewApplication constructs a new application instance from cfg.
func NewApplication(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(LoggingConfig(cfg.Logging))
	}

	stores, db, err := buildStores(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	thumbs, err := thumbnails.Open(context.Background(), cfg.Thumbnails.BucketURL, cfg.Thumbnails.PublicURL, log.Component("thumbnails"))
	if err != nil {
		closeDB(db, log)
		return nil, err
	}

	opts := app.Options{
		Handlers:   handlerDeps(cfg, log),
		Thumbnails: thumbs,
	}
	if cfg.Monitor.Enabled {
		opts.MonitorSchedule = cfg.Monitor.Schedule
	}
	application, err := app.New(stores, opts, log)
	if err != nil {
		thumbs.Close()
		closeDB(db, log)
		return nil, err
	}

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		JWTSecret:        cfg.Auth.JWTSecret,
		AllowedOrigins:   cfg.Server.Origins(),
		RateLimit:        cfg.Server.RateLimit,
		RateBurst:        cfg.Server.RateBurst,
		RemoteContentURL: cfg.Site.RemoteContentURL,
		Log:              log.Component("http"),
	})
	if err != nil {
		thumbs.Close()
		closeDB(db, log)
		return nil, err
	}

	return &Application{
		cfg: cfg,
		log: log,
		app: application,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       120 * time.Second,
		},
		thumbs: thumbs,
		db:     db,
	}, nil
}

// LoggingConfig converts the logging section of the configuration.
func LoggingConfig(c config.LoggingConfig) logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		FilePrefix: c.FilePrefix,
		MaxSizeMB:  c.MaxSizeMB,
		MaxAgeDays: c.MaxAgeDays,
	}
}

// handlerDeps builds the collaborators shared by every service handler.
func handlerDeps(cfg *config.Config, log *logger.Logger) serviceprocessors.Deps {
	client := httputil.NewClient(httputil.ClientConfig{
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
	})

	deps := serviceprocessors.Deps{
		HTTP:             client,
		Log:              log.Component("serviceprocessors"),
		SiteURL:          cfg.Site.URL,
		DefaultMapCRS:    cfg.Site.DefaultMapCRS,
		CascadeWorkspace: cfg.GeoServer.Workspace,
		GeoServerOWSURL:  cfg.GeoServer.OWSURL(),
	}
	if cfg.PKI.Enabled {
		deps.PKI = pki.NewRouter(cfg.Site.URL)
	}
	if cfg.GeoServer.URL != "" {
		deps.GeoServer = geoserver.NewClient(cfg.GeoServer.URL, cfg.GeoServer.User, cfg.GeoServer.Password, client)
	} else {
		log.Warn("GEOSERVER_URL not set; services without the site projection cannot be cascaded")
	}
	return deps
}

// App exposes the composed application services.
func (a *Application) App() *app.Application {
	return a.app
}

// Handler exposes the HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the lifecycle services and the HTTP server, and blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server and the services.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if err := a.thumbs.Close(); err != nil {
		a.log.WithError(err).Warn("error closing thumbnail bucket")
	}
	closeDB(a.db, a.log)
	return nil
}

// buildStores returns postgres stores when a DSN is configured and
// in-memory stores otherwise.
func buildStores(cfg config.DatabaseConfig, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.DSN == "" {
		log.Warn("DATABASE_URL not set; using in-memory storage")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return app.Stores{}, nil, err
	}
	if cfg.Migrate {
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return app.Stores{}, nil, fmt.Errorf("migrate: %w", err)
		}
	}

	store := postgres.New(db)
	return app.Stores{Services: store, Layers: store, Links: store, Journals: store}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func closeDB(db *sql.DB, log *logger.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("error closing database connection")
	}
}
