// Package backup produces database dumps and manages their retention.
// Dumps are gzip-compressed and, when a key is configured, sealed with
// AES-GCM before touching disk.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/patrckmello/zg-planner/internal/audit"
	"github.com/patrckmello/zg-planner/internal/config"
	"github.com/patrckmello/zg-planner/internal/cryptoutils"
	"github.com/patrckmello/zg-planner/pkg/snowflake"
)

type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindManual  Kind = "manual"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Backup is one dump attempt, successful or not. Failed rows keep the error
// so operators can see why a slot produced nothing.
type Backup struct {
	ID        int64     `gorm:"primaryKey" json:"id,string"`
	Kind      Kind      `gorm:"type:varchar(20);not null;index" json:"kind"`
	Filename  string    `gorm:"type:varchar(255)" json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Encrypted bool      `json:"encrypted"`
	Status    Status    `gorm:"type:varchar(20);not null" json:"status"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Backup) TableName() string { return "backups" }

type Service struct {
	db    *gorm.DB
	cfg   *config.Config
	node  *snowflake.Node
	audit *audit.Logger
	log   *zap.Logger

	// dump is swappable so tests do not need a postgres client installed.
	dump func(ctx context.Context) ([]byte, error)
}

func NewService(db *gorm.DB, cfg *config.Config, node *snowflake.Node, auditLog *audit.Logger, logger *zap.Logger) *Service {
	s := &Service{
		db:    db,
		cfg:   cfg,
		node:  node,
		audit: auditLog,
		log:   logger.Named("backup"),
	}
	s.dump = s.pgDump
	return s
}

func (s *Service) pgDump(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", s.cfg.DBHost,
		"-p", s.cfg.DBPort,
		"-U", s.cfg.DBUser,
		"-d", s.cfg.DBName,
		"--no-owner",
		"--no-privileges",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+s.cfg.DBPassword)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pg_dump: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Run produces one backup of the given kind. The attempt is always recorded,
// even on failure.
func (s *Service) Run(ctx context.Context, kind Kind) (*Backup, error) {
	record := &Backup{
		ID:        s.node.GenerateID(),
		Kind:      kind,
		Status:    StatusCompleted,
		CreatedAt: time.Now().UTC(),
	}

	data, err := s.create(ctx, kind, record)
	if err != nil {
		record.Status = StatusFailed
		record.Error = err.Error()
		if dbErr := s.db.WithContext(ctx).Create(record).Error; dbErr != nil {
			s.log.Error("backup_record_failed", zap.Error(dbErr))
		}
		return record, err
	}

	record.SizeBytes = int64(len(data))
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("record backup: %w", err)
	}

	s.audit.System(ctx, audit.ActionBackupCreated, "backup", &record.ID, nil)
	s.log.Info("backup_created",
		zap.String("kind", string(kind)),
		zap.String("filename", record.Filename),
		zap.Int64("size_bytes", record.SizeBytes))
	return record, nil
}

func (s *Service) create(ctx context.Context, kind Kind, record *Backup) ([]byte, error) {
	raw, err := s.dump(ctx)
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress dump: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}

	data := compressed.Bytes()
	ext := ".sql.gz"
	if s.cfg.BackupEncryptionKey != "" {
		data, err = cryptoutils.SealBytes(data, s.cfg.BackupEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt dump: %w", err)
		}
		record.Encrypted = true
		ext += ".enc"
	}

	record.Filename = fmt.Sprintf("backup_%s_%s_%s%s",
		kind,
		record.CreatedAt.Format("20060102T150405"),
		uuid.NewString()[:8],
		ext)

	if err := os.MkdirAll(s.cfg.BackupDir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(s.cfg.BackupDir, record.Filename)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return nil, fmt.Errorf("write backup file: %w", err)
	}
	return data, nil
}

// Path returns the on-disk location of a backup file.
func (s *Service) Path(b *Backup) string {
	return filepath.Join(s.cfg.BackupDir, b.Filename)
}

// Cleanup deletes completed backups older than the retention window, file
// first. A row whose file is already gone is still removed.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.BackupRetentionDays)

	var expired []Backup
	if err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("list expired backups: %w", err)
	}

	removed := 0
	for i := range expired {
		b := &expired[i]
		if b.Filename != "" {
			if err := os.Remove(s.Path(b)); err != nil && !os.IsNotExist(err) {
				s.log.Warn("backup_file_remove_failed",
					zap.String("filename", b.Filename),
					zap.Error(err))
				continue
			}
		}
		if err := s.db.WithContext(ctx).Delete(b).Error; err != nil {
			s.log.Warn("backup_row_delete_failed", zap.Int64("backup_id", b.ID), zap.Error(err))
			continue
		}
		s.audit.System(ctx, audit.ActionBackupDeleted, "backup", &b.ID, nil)
		removed++
	}

	if removed > 0 {
		s.log.Info("backups_pruned", zap.Int("removed", removed))
	}
	return removed, nil
}

// LatestCompleted returns the newest successful backup, or nil when none
// exists yet.
func (s *Service) LatestCompleted(ctx context.Context) (*Backup, error) {
	var b Backup
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusCompleted).
		Order("created_at DESC").
		First(&b).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns recent backups, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Backup, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Backup
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
