package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/constructa/erp/backend/internal/models"
	"github.com/constructa/erp/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	defaultRetentionDays = 30
	cleanupLockName      = "audit_log_cleanup"
	cleanupLockTTL       = 6 * time.Hour
)

// SystemLogService keeps the audit trail of settings changes and prunes it
// on a schedule.
type SystemLogService struct {
	db      *gorm.DB
	configs *SystemConfigService

	cronScheduler *cron.Cron
	now           func() time.Time
}

func NewSystemLogService(db *gorm.DB, configs *SystemConfigService) *SystemLogService {
	return &SystemLogService{db: db, configs: configs, now: time.Now}
}

// AuditEntry is one audit record before it is persisted.
type AuditEntry struct {
	Level     string
	Module    string
	Action    string
	Message   string
	UserID    *uint
	IP        string
	UserAgent string
	Extra     any
}

// Record persists entry. Extra is stored as JSON.
func (s *SystemLogService) Record(ctx context.Context, entry AuditEntry) error {
	level := entry.Level
	if level == "" {
		level = "info"
	}

	var extra string
	if entry.Extra != nil {
		if b, err := json.Marshal(entry.Extra); err == nil {
			extra = string(b)
		}
	}

	rec := &models.SystemLog{
		Level:     level,
		Module:    entry.Module,
		Action:    entry.Action,
		Message:   entry.Message,
		UserID:    entry.UserID,
		IP:        entry.IP,
		UserAgent: entry.UserAgent,
		Extra:     extra,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

type SystemLogListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Level    string `form:"level"`
	Module   string `form:"module"`
	Action   string `form:"action"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

// List returns audit entries newest first.
func (s *SystemLogService) List(ctx context.Context, req *SystemLogListRequest) (*SystemLogListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.SystemLog{})
	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}
	if req.Action != "" {
		query = query.Where("action LIKE ?", "%"+req.Action+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	var logs []models.SystemLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	return &SystemLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

// CleanupOldLogs deletes entries older than retentionDays and returns how
// many were removed. A non-positive retention disables cleanup.
func (s *SystemLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean up audit logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RetentionDays reads system.log_retention_days, defaulting to 30.
func (s *SystemLogService) RetentionDays(ctx context.Context) int {
	return int(s.configs.GetNumber(ctx, "system", "log_retention_days", defaultRetentionDays))
}

// StartCleanupScheduler runs the retention cleanup on the given cron spec.
func (s *SystemLogService) StartCleanupScheduler(spec string) error {
	s.cronScheduler = cron.New()
	if _, err := s.cronScheduler.AddFunc(spec, func() {
		s.RunCleanup(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid audit cleanup schedule %q: %w", spec, err)
	}
	s.cronScheduler.Start()
	logger.Info().Str("cron", spec).Msg("[SystemLog] Cleanup scheduled")
	return nil
}

func (s *SystemLogService) StopScheduler() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

// RunCleanup prunes old entries once per day across all instances sharing
// the database.
func (s *SystemLogService) RunCleanup(ctx context.Context) {
	acquired, err := s.acquireLock(ctx, s.now().Format("2006-01-02"))
	if err != nil {
		logger.Warn().Err(err).Msg("[SystemLog] Failed to acquire cleanup lock")
		return
	}
	if !acquired {
		logger.Debug().Msg("[SystemLog] Cleanup already ran on another instance")
		return
	}

	retentionDays := s.RetentionDays(ctx)
	if retentionDays <= 0 {
		logger.Info().Msg("[SystemLog] Log cleanup disabled (retention_days <= 0)")
		return
	}

	deleted, err := s.CleanupOldLogs(ctx, retentionDays)
	if err != nil {
		logger.Error().Err(err).Msg("[SystemLog] Cleanup failed")
		return
	}
	if deleted > 0 {
		logger.Info().Int64("deleted", deleted).Int("retention_days", retentionDays).Msg("[SystemLog] Cleaned up old logs")
	}
}

func (s *SystemLogService) acquireLock(ctx context.Context, key string) (bool, error) {
	now := s.now()
	db := s.db.WithContext(ctx)
	if err := db.Where("expires_at < ?", now).Delete(&models.SchedulerLock{}).Error; err != nil {
		return false, err
	}

	host, _ := os.Hostname()
	lock := &models.SchedulerLock{
		LockName:  cleanupLockName,
		LockKey:   key,
		LockedBy:  host,
		LockedAt:  now,
		ExpiresAt: now.Add(cleanupLockTTL),
	}
	err := db.Create(lock).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
