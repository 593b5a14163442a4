package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/patrckmello/zg-planner/internal/domain/task"
)

// TaskModel is the database DTO with Gorm tags.
type TaskModel struct {
	ID          int64  `gorm:"primaryKey"`
	Title       string `gorm:"type:varchar(255);not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"type:varchar(20);not null;index"`
	Priority    string `gorm:"type:varchar(20)"`

	UserID           int64 `gorm:"not null;index"`
	AssignedByUserID *int64
	AssignedUserIDs  datatypes.JSON
	CollaboratorIDs  datatypes.JSON

	DueDate   *time.Time `gorm:"index"`
	Reminders datatypes.JSON

	RequiresApproval bool
	ApprovalStatus   string `gorm:"type:varchar(20)"`
	ApprovedByUserID *int64
	ApprovedAt       *time.Time

	Subtasks    datatypes.JSON
	Attachments datatypes.JSON
	Tags        datatypes.JSON

	CompletedAt      *time.Time `gorm:"index"`
	ArchivedAt       *time.Time
	ArchivedByUserID *int64

	DeletedAt       *time.Time `gorm:"index"`
	DeletedByUserID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TaskModel) TableName() string {
	return "tasks"
}

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) FindByID(ctx context.Context, id int64) (*task.Task, error) {
	var model TaskModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return taskToDomain(model)
}

func (r *TaskRepository) Save(ctx context.Context, entity *task.Task) error {
	model, err := taskToModel(entity)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return err
	}
	entity.ID = model.ID
	return nil
}

func (r *TaskRepository) ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]task.Task, error) {
	var models []TaskModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(task.StatusDone)).
		Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).
		Where("archived_at IS NULL").
		Where("deleted_at IS NULL").
		Order("completed_at asc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return tasksToDomain(models)
}

func (r *TaskRepository) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]task.Task, error) {
	var models []TaskModel
	err := r.db.WithContext(ctx).
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Order("deleted_at asc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return tasksToDomain(models)
}

func (r *TaskRepository) ListWithReminders(ctx context.Context) ([]task.Task, error) {
	var models []TaskModel
	err := r.db.WithContext(ctx).
		Where("due_date IS NOT NULL").
		Where("reminders IS NOT NULL AND reminders::text NOT IN ('null', '[]')").
		Where("status NOT IN ?", []string{
			string(task.StatusDone),
			string(task.StatusArchived),
			string(task.StatusCancelled),
		}).
		Where("deleted_at IS NULL").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return tasksToDomain(models)
}

func (r *TaskRepository) HardDelete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&TaskModel{}, "id = ?", id).Error
}

// Mappers

func taskToDomain(m TaskModel) (*task.Task, error) {
	t := &task.Task{
		ID:               m.ID,
		Title:            m.Title,
		Description:      m.Description,
		Status:           task.Status(m.Status),
		Priority:         task.Priority(m.Priority),
		UserID:           m.UserID,
		AssignedByUserID: m.AssignedByUserID,
		DueDate:          m.DueDate,
		RequiresApproval: m.RequiresApproval,
		ApprovalStatus:   task.ApprovalStatus(m.ApprovalStatus),
		ApprovedByUserID: m.ApprovedByUserID,
		ApprovedAt:       m.ApprovedAt,
		CompletedAt:      m.CompletedAt,
		ArchivedAt:       m.ArchivedAt,
		ArchivedByUserID: m.ArchivedByUserID,
		DeletedAt:        m.DeletedAt,
		DeletedByUserID:  m.DeletedByUserID,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}

	for _, col := range []struct {
		raw  datatypes.JSON
		dst  any
		name string
	}{
		{m.AssignedUserIDs, &t.AssignedUserIDs, "assigned_user_ids"},
		{m.CollaboratorIDs, &t.CollaboratorIDs, "collaborator_ids"},
		{m.Reminders, &t.Reminders, "reminders"},
		{m.Subtasks, &t.Subtasks, "subtasks"},
		{m.Attachments, &t.Attachments, "attachments"},
		{m.Tags, &t.Tags, "tags"},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("decode task %d %s: %w", m.ID, col.name, err)
		}
	}
	return t, nil
}

func taskToModel(t *task.Task) (TaskModel, error) {
	m := TaskModel{
		ID:               t.ID,
		Title:            t.Title,
		Description:      t.Description,
		Status:           string(t.Status),
		Priority:         string(t.Priority),
		UserID:           t.UserID,
		AssignedByUserID: t.AssignedByUserID,
		DueDate:          t.DueDate,
		RequiresApproval: t.RequiresApproval,
		ApprovalStatus:   string(t.ApprovalStatus),
		ApprovedByUserID: t.ApprovedByUserID,
		ApprovedAt:       t.ApprovedAt,
		CompletedAt:      t.CompletedAt,
		ArchivedAt:       t.ArchivedAt,
		ArchivedByUserID: t.ArchivedByUserID,
		DeletedAt:        t.DeletedAt,
		DeletedByUserID:  t.DeletedByUserID,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}

	for _, col := range []struct {
		src  any
		dst  *datatypes.JSON
		name string
	}{
		{t.AssignedUserIDs, &m.AssignedUserIDs, "assigned_user_ids"},
		{t.CollaboratorIDs, &m.CollaboratorIDs, "collaborator_ids"},
		{t.Reminders, &m.Reminders, "reminders"},
		{t.Subtasks, &m.Subtasks, "subtasks"},
		{t.Attachments, &m.Attachments, "attachments"},
		{t.Tags, &m.Tags, "tags"},
	} {
		raw, err := json.Marshal(col.src)
		if err != nil {
			return TaskModel{}, fmt.Errorf("encode task %s: %w", col.name, err)
		}
		*col.dst = raw
	}
	return m, nil
}

func tasksToDomain(models []TaskModel) ([]task.Task, error) {
	out := make([]task.Task, 0, len(models))
	for _, m := range models {
		t, err := taskToDomain(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}
