package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/patrckmello/zg-planner/internal/api/middleware"
	"github.com/patrckmello/zg-planner/internal/audit"
	"github.com/patrckmello/zg-planner/internal/backup"
	"github.com/patrckmello/zg-planner/internal/config"
	"github.com/patrckmello/zg-planner/internal/domain/task"
	"github.com/patrckmello/zg-planner/internal/notification"
	"github.com/patrckmello/zg-planner/internal/outbox"
	"github.com/patrckmello/zg-planner/internal/scheduler"
	"github.com/patrckmello/zg-planner/pkg/snowflake"
)

// AuditLog is the slice of the audit logger the handlers use.
type AuditLog interface {
	Record(ctx context.Context, userID *int64, action, itemType string, itemID *int64, details datatypes.JSON)
	System(ctx context.Context, action, itemType string, itemID *int64, details datatypes.JSON)
	List(ctx context.Context, limit int) ([]audit.Entry, error)
}

// BackupManager backs the admin backup endpoints.
type BackupManager interface {
	Run(ctx context.Context, kind backup.Kind) (*backup.Backup, error)
	List(ctx context.Context, limit int) ([]backup.Backup, error)
}

type Router struct {
	engine *gin.Engine
	server *http.Server
	cfg    *config.Config

	tasks     task.Repository
	outboxes  outbox.ItemRepository
	notif     *notification.Service
	registry  *scheduler.Registry
	backupSvc BackupManager
	audit     AuditLog
	node      *snowflake.Node
	logger    *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	tasks task.Repository,
	outboxes outbox.ItemRepository,
	notif *notification.Service,
	registry *scheduler.Registry,
	backupSvc BackupManager,
	auditLog AuditLog,
	node *snowflake.Node,
	logger *zap.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Metrics())
	engine.Use(middleware.Logger(logger))

	r := &Router{
		engine:    engine,
		cfg:       cfg,
		tasks:     tasks,
		outboxes:  outboxes,
		notif:     notif,
		registry:  registry,
		backupSvc: backupSvc,
		audit:     auditLog,
		node:      node,
		logger:    logger,
	}
	r.registerRoutes()
	return r
}

func (r *Router) registerRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": r.cfg.AppName,
			"version": r.cfg.AppVersion,
		})
	})
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api")
	{
		tasks := api.Group("/tasks")
		{
			tasks.POST("", r.CreateTask)
			tasks.GET("/:id", r.GetTask)
			tasks.PATCH("/:id/status", r.ChangeTaskStatus)
			tasks.POST("/:id/submit-approval", r.SubmitForApproval)
			tasks.POST("/:id/approve", r.ApproveTask)
			tasks.POST("/:id/reject", r.RejectTask)
			tasks.POST("/:id/archive", r.ArchiveTask)
			tasks.POST("/:id/unarchive", r.UnarchiveTask)
			tasks.DELETE("/:id", r.SoftDeleteTask)
			tasks.POST("/:id/restore", r.RestoreTask)
			tasks.POST("/:id/comments", r.PostComment)
		}
		api.POST("/password-reset", r.RequestPasswordReset)
	}

	admin := r.engine.Group("/api/admin")
	admin.Use(r.adminAuth())
	{
		admin.GET("/scheduler/jobs", r.ListJobs)
		admin.POST("/scheduler/jobs/:id/run", r.RunJobNow)
		admin.POST("/archive/run-now", r.RunArchiveNow)
		admin.POST("/purge/run-now", r.RunPurgeNow)
		admin.GET("/outbox/stats", r.OutboxStats)
		admin.GET("/backups", r.ListBackups)
		admin.POST("/backups/run", r.RunBackupNow)
		admin.GET("/audit", r.ListAuditEntries)
	}
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:         ":" + r.cfg.Port,
		Handler:      r.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

// Engine exposes the gin engine for handler tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
