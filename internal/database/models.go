package database

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel base model, contains common fields
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Run outcomes.
const (
	OutcomeUnchanged = "unchanged"
	OutcomePushed    = "pushed"
	OutcomeFailed    = "failed"
)

// RunLog one hub update run
type RunLog struct {
	BaseModel
	RunID           string    `json:"run_id" gorm:"size:36;uniqueIndex"` // uuid
	Trigger         string    `json:"trigger" gorm:"size:20;index"`      // cli, api
	Success         bool      `json:"success" gorm:"index"`
	Outcome         string    `json:"outcome" gorm:"size:20"`
	CommitHash      string    `json:"commit_hash" gorm:"size:64"`
	Error           string    `json:"error" gorm:"type:text"`
	Servers         int       `json:"servers"`
	FailedServers   int       `json:"failed_servers"`
	NewAchievements int       `json:"new_achievements"`
	Duration        int64     `json:"duration"` // milliseconds
	StartedAt       time.Time `json:"started_at" gorm:"index"`
}

// AchievementEvent one achievement granted during a run
type AchievementEvent struct {
	BaseModel
	RunID         string `json:"run_id" gorm:"size:36;index"`
	User          string `json:"user" gorm:"size:100;index"`
	AchievementID string `json:"achievement_id" gorm:"size:50;index"`
	Name          string `json:"name" gorm:"size:100"`
	Tier          string `json:"tier" gorm:"size:20"`
	EarnedAt      string `json:"earned_at" gorm:"size:40"`
}
