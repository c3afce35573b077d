// Package server assembles the support desk backend from configuration.
package server

import (
	"context"
	"net/http"
	"time"

	"deskchat/deskchat/config"
	"deskchat/deskchat/controllers"
	"deskchat/deskchat/middlewares"
	"deskchat/deskchat/realtime"
	"deskchat/deskchat/routes"
	"deskchat/deskchat/sources/psql"
	"deskchat/deskchat/sources/psql/dao"
	"deskchat/deskchat/sources/storage"
	"deskchat/deskchat/utils/logging"
	"deskchat/deskchat/utils/telemetry"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	db    *psql.Database
	hub   *realtime.Hub
	http  *http.Server
	Auth  *controllers.AuthController
	flush func()
}

// New connects the database, optional transcript storage and telemetry, and
// builds the HTTP handler. Nothing listens until Run.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	s := &Server{flush: func() {}}

	var metrics *telemetry.Metrics
	if cfg.TelemetryEnabled {
		flush, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
		if err != nil {
			return nil, errors.Wrap(err, "init telemetry")
		}
		s.flush = flush
		if metrics, err = telemetry.NewMetrics(); err != nil {
			flush()
			return nil, errors.Wrap(err, "init metrics")
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := psql.NewDatabase(connectCtx, cfg)
	if err != nil {
		s.flush()
		return nil, errors.Wrap(err, "database connection")
	}
	s.db = db

	var archive storage.TranscriptArchive
	if cfg.MinIOEnabled() {
		mc, err := storage.NewMinIOClient(connectCtx, cfg)
		if err != nil {
			s.Close()
			return nil, errors.Wrap(err, "minio connection")
		}
		archive = mc
	}

	agentDAO := dao.NewAgentDAO(db.DB)
	s.Auth = controllers.NewAuthController(agentDAO, cfg)
	chatCtrl := controllers.NewChatController(dao.NewChatDAO(db.DB), dao.NewMessageDAO(db.DB), archive, metrics)
	s.hub = realtime.NewHub(chatCtrl, func(token string) (string, error) {
		return middlewares.ParseAgentToken(cfg.JWTSecret, token)
	}, metrics, cfg.CORSOrigins)

	s.http = &http.Server{
		Addr: ":" + cfg.Port,
		Handler: routes.NewRouter(routes.Deps{
			Config: cfg,
			Auth:   s.Auth,
			Chats:  chatCtrl,
			Health: controllers.NewHealthController(db),
			Live:   s.hub,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Run serves until ctx is done, then drains live rooms and shuts the
// listener down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.AppLogger.Info("server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	logging.AppLogger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// http.Shutdown stops the listener but leaves hijacked websockets open.
	err := s.http.Shutdown(shutdownCtx)
	s.hub.Shutdown()
	if err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	logging.AppLogger.Info("server shutdown complete")
	return nil
}

// Close releases the database and flushes telemetry.
func (s *Server) Close() {
	if s.db != nil {
		s.db.Close()
	}
	s.flush()
}
