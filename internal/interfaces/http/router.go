// Package http is the administrative API worker: a gin router served
// over a unix socket, authenticated with the shared API key. It runs in
// its own process so the HTTP surface cannot take the reconciler down.
package http

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"warden/internal/application/manager"
	"warden/internal/infrastructure/config"
	"warden/internal/shared/logger"
)

type Router struct {
	engine   *gin.Engine
	manager  *manager.Manager
	cfg      *config.Config
	log      logger.Interface
	fallback *fallback
}

func NewRouter(mgr *manager.Manager, cfg *config.Config, log logger.Interface) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Router{
		engine:   engine,
		manager:  mgr,
		cfg:      cfg,
		log:      log.Named("api"),
		fallback: newFallback(cfg, log.Named("api")),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.NoRoute(r.fallback.notFound)

	if r.cfg.Proxy.EnableSubscription {
		r.engine.GET("/subscription", r.publicSubscription)
	}
	if !r.cfg.API.Enable {
		return
	}

	api := r.engine.Group("/api", authenticate(r.cfg.API.Key, r.fallback))
	api.POST("/user", r.addUser)
	api.DELETE("/user/:username", r.deleteUser)
	api.POST("/user/:username/reset-total-traffic", r.resetTotalTraffic)
	api.PUT("/plan", r.updatePlan)
	api.PUT("/plan/extra-traffic", r.setPlanExtraTraffic)
	api.PUT("/reserved-plan", r.setReservedPlan)
	api.DELETE("/reserved-plan/:username", r.unsetReservedPlan)
	api.GET("/subscription/:username", r.userSubscription)
	api.POST("/database/sync", r.syncDatabase)
	api.GET("/database/dump", r.dumpDatabase)
	api.POST("/database/backup", r.backupDatabase)

	info := api.Group("/info")
	info.GET("/users", r.users)
	info.GET("/capacity", r.capacity)
	info.GET("/active-capacity", r.activeCapacity)
	info.GET("/credentials", r.credentials)
	info.GET("/plan", r.plan)
	info.GET("/reserved-plan", r.reservedPlan)
	info.GET("/plan-history", r.planHistory)
	info.GET("/total-traffic", r.totalTraffic)
	info.GET("/latest-activity", r.latestActivity)
	info.GET("/latest-activities", r.latestActivities)
	info.GET("/is-exist", r.isExist)
	info.GET("/has-active-plan", r.hasActivePlan)
	info.GET("/has-active-plan-time", r.hasActivePlanTime)
	info.GET("/has-active-plan-traffic", r.hasActivePlanTraffic)
	info.GET("/has-unlimited-time", r.hasUnlimitedTime)
	info.GET("/has-unlimited-traffic", r.hasUnlimitedTraffic)
	info.GET("/has-no-capacity", r.hasNoCapacity)
	info.GET("/has-no-active-capacity", r.hasNoActiveCapacity)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Run serves the API on the configured unix socket until the context is
// cancelled, then shuts down within the graceful timeout.
func (r *Router) Run(ctx context.Context) error {
	socketPath := r.cfg.API.SocketPath
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:     r.engine,
		IdleTimeout: 15 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()
	r.log.Infow("the api worker is started", "socket", socketPath)

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	timeout := time.Duration(r.cfg.API.GracefulTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		r.log.Warnw("the api worker is forced to shut down", "error", err)
		return err
	}
	r.log.Infow("the api worker is stopped")
	return nil
}
