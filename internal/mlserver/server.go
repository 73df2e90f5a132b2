// Package mlserver implements gordo model server used as a local
// development server and as a test fixture of the gordo client.
package mlserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/uptrace/bunrouter"

	"github.com/vkuznet/gordo-client/pkg/logger"
	"github.com/vkuznet/gordo-client/provider"
)

// version of the server reported by metadata and healthcheck APIs
var version = "dev"

// SetVersion sets server version
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Server implements gordo model server
type Server struct {
	Config   Configuration
	Store    Store
	Provider provider.DataProvider // used by GET prediction requests
	Log      logger.Logger

	limiter *stdlib.Middleware
}

// New creates server for given configuration and store
func New(cfg Configuration, store Store, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}
	lmt, err := newLimiter(cfg.LimiterPeriod)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid limiter rate %q", cfg.LimiterPeriod)
	}
	dp, err := provider.FromConfig(cfg.DataProvider)
	if err != nil {
		return nil, err
	}
	return &Server{Config: cfg, Store: store, Provider: dp, Log: log, limiter: lmt}, nil
}

// OpenStore returns store defined by configuration: MongoDB when db_uri is
// set, storage directory when storage_dir is set, otherwise in-memory store.
// In-memory and empty directory stores are seeded with fixture machines.
func OpenStore(cfg Configuration) (Store, error) {
	if cfg.DBURI != "" {
		return NewMongoStore(cfg.DBURI, cfg.DBName, cfg.DBColl)
	}
	var store Store
	if cfg.StorageDir != "" {
		ds, err := NewDirStore(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
		store = ds
	} else {
		store = NewMemoryStore()
	}
	revs, err := store.Revisions(cfg.FixtureProject)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		if err := SeedFixture(store, cfg.FixtureProject, cfg.FixtureRevisions...); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// helper function to get base path
func (s *Server) basePath(p string) string {
	base := strings.TrimSuffix(s.Config.Base, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return base + p
}

// Router returns bunrouter implementation of the compatible (with net/http)
// router handlers
func (s *Server) Router() *bunrouter.CompatRouter {
	router := bunrouter.New(
		bunrouter.Use(s.loggingMiddleware),
		bunrouter.Use(s.limitMiddleware),
	).Compat()

	router.GET(s.basePath("/"), s.DocsHandler)
	router.GET(s.basePath("/healthcheck"), s.HealthcheckHandler)
	router.Router.GET(s.basePath("/metrics"), bunrouter.HTTPHandler(promhttp.Handler()))

	project := s.basePath("/gordo/v0/:project")
	router.GET(project+"/revisions", s.RevisionsHandler)
	router.GET(project+"/models", s.ModelsHandler)
	router.GET(project+"/:machine/metadata", s.MetadataHandler)
	router.GET(project+"/:machine/download-model", s.DownloadModelHandler)
	router.GET(project+"/:machine/prediction", s.PredictionHandler(false))
	router.POST(project+"/:machine/prediction", s.PredictionHandler(false))
	router.GET(project+"/:machine/anomaly/prediction", s.PredictionHandler(true))
	router.POST(project+"/:machine/anomaly/prediction", s.PredictionHandler(true))
	return router
}

// Serve starts HTTP(s) server and stops it when context is done
func (s *Server) Serve(ctx context.Context) error {
	router := s.Router()
	var server *http.Server
	var serve func() error
	if len(s.Config.DomainNames) > 0 {
		server = LetsEncryptServer(router, RootCAs(s.Config.RootCAs, s.Log), s.Log, s.Config.DomainNames...)
		serve = func() error { return server.ListenAndServeTLS("", "") }
	} else if s.Config.ServerCrt != "" && s.Config.ServerKey != "" {
		server = &http.Server{
			Addr:      fmt.Sprintf(":%d", s.Config.Port),
			TLSConfig: &tls.Config{RootCAs: RootCAs(s.Config.RootCAs, s.Log)},
			Handler:   router,
		}
		s.Log.Info("start HTTPs server", "cert", s.Config.ServerCrt, "key", s.Config.ServerKey, "port", s.Config.Port)
		serve = func() error { return server.ListenAndServeTLS(s.Config.ServerCrt, s.Config.ServerKey) }
	} else {
		server = &http.Server{Addr: fmt.Sprintf(":%d", s.Config.Port), Handler: router}
		s.Log.Info("start HTTP server", "port", s.Config.Port)
		serve = server.ListenAndServe
	}

	errCh := make(chan error, 1)
	go func() { errCh <- serve() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Log.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	}
}
