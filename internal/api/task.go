package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/internal/audit"
	"github.com/patrckmello/zg-planner/internal/domain/task"
	"github.com/patrckmello/zg-planner/internal/notification"
	"github.com/patrckmello/zg-planner/pkg/snowflake"
)

// actorID reads the authenticated user id propagated by the auth gateway.
func (r *Router) actorID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return 0, false
	}
	id, err := snowflake.ParseID(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user identity"})
		return 0, false
	}
	return id, true
}

// loadTask resolves the :id path param. Tasks in the trash resolve as not
// found; only restore sees them. On any failure it writes the response and
// returns nil.
func (r *Router) loadTask(c *gin.Context) *task.Task {
	return r.findTask(c, false)
}

func (r *Router) findTask(c *gin.Context, includeDeleted bool) *task.Task {
	id, err := snowflake.ParseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return nil
	}

	t, err := r.tasks.FindByID(c.Request.Context(), id)
	if err != nil {
		r.logger.Error("task_lookup_failed", zap.Int64("task_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil
	}
	if t == nil || (t.DeletedAt != nil && !includeDeleted) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil
	}
	return t
}

func (r *Router) saveAndRespond(c *gin.Context, t *task.Task) {
	if err := r.tasks.Save(c.Request.Context(), t); err != nil {
		r.logger.Error("task_save_failed", zap.Int64("task_id", t.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, t)
}

type createTaskRequest struct {
	Title            string         `json:"title" binding:"required"`
	Description      string         `json:"description"`
	Priority         string         `json:"priority"`
	DueDate          *time.Time     `json:"due_date"`
	Reminders        []string       `json:"reminders"`
	RequiresApproval bool           `json:"requires_approval"`
	AssignedUserIDs  []int64        `json:"assigned_user_ids"`
	CollaboratorIDs  []int64        `json:"collaborator_ids"`
	Subtasks         []task.Subtask `json:"subtasks"`
	Tags             []string       `json:"tags"`
}

func (r *Router) CreateTask(c *gin.Context) {
	actor, ok := r.actorID(c)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	t := task.New(actor, req.Title)
	t.ID = r.node.GenerateID()
	t.Description = req.Description
	if req.Priority != "" {
		t.Priority = task.Priority(req.Priority)
	}
	t.DueDate = req.DueDate
	t.Reminders = req.Reminders
	t.RequiresApproval = req.RequiresApproval
	t.AssignedUserIDs = req.AssignedUserIDs
	t.CollaboratorIDs = req.CollaboratorIDs
	t.Subtasks = req.Subtasks
	t.Tags = req.Tags

	if err := r.tasks.Save(c.Request.Context(), t); err != nil {
		r.logger.Error("task_create_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (r *Router) GetTask(c *gin.Context) {
	t := r.loadTask(c)
	if t == nil {
		return
	}
	c.JSON(http.StatusOK, t)
}

func (r *Router) ChangeTaskStatus(c *gin.Context) {
	actor, ok := r.actorID(c)
	if !ok {
		return
	}
	t := r.loadTask(c)
	if t == nil {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	// Historical spellings (PT/EN) are accepted here and normalized; only
	// canonical values are ever stored.
	status, err := task.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch status {
	case task.StatusDone:
		if err := t.MarkDone(); err != nil {
			if errors.Is(err, task.ErrApprovalPending) || errors.Is(err, task.ErrSubtasksIncomplete) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	case task.StatusArchived:
		t.MarkArchived(&actor)
	default:
		t.SetStatus(status)
	}

	r.saveAndRespond(c, t)
}

func (r *Router) SubmitForApproval(c *gin.Context) {
	if _, ok := r.actorID(c); !ok {
		return
	}
	t := r.loadTask(c)
	if t == nil {
		return
	}

	var req struct {
		RequesterName string  `json:"requester_name"`
		ApproverIDs   []int64 `json:"approver_ids"`
	}
	_ = c.ShouldBindJSON(&req)

	if !t.RequiresApproval {
		c.JSON(http.StatusConflict, gin.H{"error": "task does not require approval"})
		return
	}

	t.SubmitForApproval()
	if err := r.tasks.Save(c.Request.Context(), t); err != nil {
		r.logger.Error("task_save_failed", zap.Int64("task_id", t.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if len(req.ApproverIDs) > 0 {
		if err := r.notif.NotifyApprovalSubmitted(c.Request.Context(), t, req.RequesterName, req.ApproverIDs); err != nil {
			r.logger.Error("approval_notification_failed", zap.Int64("task_id", t.ID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, t)
}

func (r *Router) ApproveTask(c *gin.Context) {
	actor, ok := r.actorID(c)
	if !ok {
		return
	}
	t := r.loadTask(c)
	if t == nil {
		return
	}

	var req struct {
		ApproverName string `json:"approver_name"`
	}
	_ = c.ShouldBindJSON(&req)

	t.SetApproved(actor)
	if err := r.tasks.Save(c.Request.Context(), t); err != nil {
		r.logger.Error("task_save_failed", zap.Int64("task_id", t.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	r.audit.Record(c.Request.Context(), &actor, audit.ActionTaskApproved, "task", &t.ID, nil)
	if err := r.notif.NotifyApprovalDecision(c.Request.Context(), t, req.ApproverName, true, ""); err != nil {
		r.logger.Error("decision_notification_failed", zap.Int64("task_id", t.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, t)
}

func (r *Router) RejectTask(c *gin.Context) {
	actor, ok := r.actorID(c)
	if !ok {
		return
	}
	t := r.loadTask(c)
	if t == nil {
		return
	}

	var req struct {
		ApproverName string `json:"approver_name"`
		Reason       string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	healed := t.SetRejected(actor)
	if err := r.tasks.Save(c.Request.Context(), t); err != nil {
		r.logger.Error("task_save_failed", zap.Int64("task_id", t.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	r.audit.Record(c.Request.Context(), &actor, audit.ActionTaskRejected, "task", &t.ID, nil)
	if healed {
		// A rejected task had already reached done. The entity healed the
		// state; record the inconsistency so it is visible, not silent.
		r.audit.System(c.Request.Context(), audit.ActionApprovalInconsistency, "task", &t.ID, nil)
		r.logger.Warn("approval_inconsistency_healed", zap.Int64("task_id", t.ID))
	}

	if err := r.notif.NotifyApprovalDecision(c.Request.Context(), t, req.ApproverName, false, req.Reason); err != nil {
		r.logger.Error("decision_notification_failed", zap.Int64("task_id", t.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, t)
}

func (r *Router) ArchiveTask(c *gin.Context) {
	actor, ok := r.actorID(c)
	if !ok {
		return
	}
	t := r.loadTask(c)
	if t == nil {
		return
	}

	t.MarkArchived(&actor)
	r.audit.Record(c.Request.Context(), &actor, audit.ActionArchive, "task", &t.ID, nil)
	r.saveAndRespond(c, t)
}

func (r *Router) UnarchiveTask(c *gin.Context) {
	if _, ok := r.actorID(c); !ok {
		return
	}
	t := r.loadTask(c)
	if t == nil {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	_ = c.ShouldBindJSON(&req)

	newStatus := task.Status("")
	if req.Status != "" {
		parsed, err := task.ParseStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		newStatus = parsed
	}

	t.Unarchive(newStatus)
	r.saveAndRespond(c, t)
}

func (r *Router) SoftDeleteTask(c *gin.Context) {
	actor, ok := r.actorID(c)
	if !ok {
		return
	}
	t := r.loadTask(c)
	if t == nil {
		return
	}

	t.SoftDelete(&actor)
	r.saveAndRespond(c, t)
}

func (r *Router) RestoreTask(c *gin.Context) {
	if _, ok := r.actorID(c); !ok {
		return
	}
	t := r.findTask(c, true)
	if t == nil {
		return
	}

	if err := t.Restore(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	r.saveAndRespond(c, t)
}

func (r *Router) PostComment(c *gin.Context) {
	actor, ok := r.actorID(c)
	if !ok {
		return
	}
	t := r.loadTask(c)
	if t == nil {
		return
	}

	var req struct {
		AuthorName string `json:"author_name"`
		Text       string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	commentID := r.node.GenerateID()
	err := r.notif.NotifyCommentPosted(c.Request.Context(), t, notification.CommentPosted{
		CommentID:   commentID,
		AuthorID:    actor,
		AuthorName:  req.AuthorName,
		CommentText: req.Text,
	})
	if err != nil {
		r.logger.Error("comment_notification_failed", zap.Int64("task_id", t.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"comment_id": commentID})
}

func (r *Router) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	// The response never reveals whether the address exists.
	if err := r.notif.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		r.logger.Error("password_reset_failed", zap.Error(err))
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
