package database

import (
	"context"
	"log"
	"time"
)

var globalLogService *LogService

// InitLogService binds the global log service to the global database.
func InitLogService() {
	if DB == nil {
		globalLogService = nil
		return
	}
	globalLogService = NewLogService()
}

// LogRun records a run when a database is configured.
func LogRun(run *RunLog, events []AchievementEvent) {
	if globalLogService == nil {
		InitLogService()
	}
	if globalLogService == nil {
		return
	}
	if err := globalLogService.CreateRunLog(run); err != nil {
		log.Printf("Failed to log run %s: %v", run.RunID, err)
		return
	}
	if err := globalLogService.CreateAchievementEvents(events); err != nil {
		log.Printf("Failed to log achievements of run %s: %v", run.RunID, err)
	}
}

// ScheduleLogCleanup deletes old history once a day until ctx ends.
func ScheduleLogCleanup(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		retentionDays = 90
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if globalLogService != nil {
					err := globalLogService.CleanOldLogs(retentionDays)
					if err != nil {
						log.Printf("Failed to clean old logs: %v", err)
					} else {
						log.Printf("Successfully cleaned logs older than %d days", retentionDays)
					}
				}
			}
		}
	}()

	log.Printf("Started automatic log cleanup task (retention: %d days)", retentionDays)
}
