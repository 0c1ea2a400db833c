package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// LogService records and queries run history.
type LogService struct {
	db *gorm.DB
}

// NewLogService uses the global database.
func NewLogService() *LogService {
	return &LogService{db: GetDB()}
}

// NewLogServiceWithDB uses db instead of the global database.
func NewLogServiceWithDB(db *gorm.DB) *LogService {
	return &LogService{db: db}
}

// CreateRunLog stores one run.
func (s *LogService) CreateRunLog(run *RunLog) error {
	return s.db.Create(run).Error
}

// CreateAchievementEvents stores the awards of one run.
func (s *LogService) CreateAchievementEvents(events []AchievementEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.Create(&events).Error
}

// GetRunLogs lists runs newest first with paging and an optional outcome filter.
func (s *LogService) GetRunLogs(page, pageSize int, success *bool, startTime, endTime *time.Time) ([]RunLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := s.db.Model(&RunLog{})
	if success != nil {
		query = query.Where("success = ?", *success)
	}
	if startTime != nil {
		query = query.Where("started_at >= ?", *startTime)
	}
	if endTime != nil {
		query = query.Where("started_at <= ?", *endTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []RunLog
	offset := (page - 1) * pageSize
	err := query.Order("started_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&runs).Error

	return runs, total, err
}

// GetAchievementEvents lists awards newest first, optionally for one user.
func (s *LogService) GetAchievementEvents(user string, limit int) ([]AchievementEvent, error) {
	query := s.db.Model(&AchievementEvent{})
	if user != "" {
		query = query.Where("user = ?", user)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var events []AchievementEvent
	err := query.Order("id DESC").Find(&events).Error
	return events, err
}

// GetRunStats summarizes all recorded runs.
func (s *LogService) GetRunStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int64
	if err := s.db.Model(&RunLog{}).Count(&total).Error; err != nil {
		return nil, err
	}
	stats["total"] = total
	if total == 0 {
		stats["success"] = 0
		stats["success_rate"] = 0
		stats["pushed"] = 0
		return stats, nil
	}

	var success, pushed int64
	if err := s.db.Model(&RunLog{}).Where("success = ?", true).Count(&success).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&RunLog{}).Where("outcome = ?", OutcomePushed).Count(&pushed).Error; err != nil {
		return nil, err
	}
	stats["success"] = success
	stats["success_rate"] = float64(success) / float64(total) * 100
	stats["pushed"] = pushed
	return stats, nil
}

// CleanOldLogs deletes history older than days.
func (s *LogService) CleanOldLogs(days int) error {
	cutoffTime := time.Now().AddDate(0, 0, -days)

	if err := s.db.Unscoped().Where("created_at < ?", cutoffTime).Delete(&RunLog{}).Error; err != nil {
		return fmt.Errorf("failed to clean run logs: %v", err)
	}
	if err := s.db.Unscoped().Where("created_at < ?", cutoffTime).Delete(&AchievementEvent{}).Error; err != nil {
		return fmt.Errorf("failed to clean achievement events: %v", err)
	}
	return nil
}
