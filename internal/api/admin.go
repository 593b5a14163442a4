package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/internal/audit"
	"github.com/patrckmello/zg-planner/internal/backup"
	"github.com/patrckmello/zg-planner/internal/jobs"
)

func (r *Router) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": r.registry.ListJobs()})
}

func (r *Router) RunJobNow(c *gin.Context) {
	r.runMaintenanceJob(c, c.Param("id"))
}

// RunArchiveNow and RunPurgeNow are shortcuts for the two maintenance jobs
// operators reach for most; both go through the registry so max-instances
// still holds.
func (r *Router) RunArchiveNow(c *gin.Context) {
	r.runMaintenanceJob(c, jobs.JobArchiveDone)
}

func (r *Router) RunPurgeNow(c *gin.Context) {
	r.runMaintenanceJob(c, jobs.JobPurgeTrash)
}

func (r *Router) runMaintenanceJob(c *gin.Context, id string) {
	if err := r.registry.RunNow(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	r.audit.System(c.Request.Context(), audit.ActionSchedulerRunNow, "job", nil, nil)
	r.logger.Info("job_triggered_manually", zap.String("job", id))
	c.JSON(http.StatusOK, gin.H{"status": "completed", "job": id})
}

func (r *Router) OutboxStats(c *gin.Context) {
	stats, err := r.outboxes.CountByStatus(c.Request.Context())
	if err != nil {
		r.logger.Error("outbox_stats_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"by_status": stats})
}

func (r *Router) ListBackups(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	backups, err := r.backupSvc.List(c.Request.Context(), limit)
	if err != nil {
		r.logger.Error("backup_list_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups})
}

func (r *Router) RunBackupNow(c *gin.Context) {
	record, err := r.backupSvc.Run(c.Request.Context(), backup.KindManual)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (r *Router) ListAuditEntries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := r.audit.List(c.Request.Context(), limit)
	if err != nil {
		r.logger.Error("audit_list_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
