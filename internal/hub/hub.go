// Package hub runs one hub update: refresh the stats files, then commit and
// push them when they changed.
package hub

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mycoool/gpuhub/internal/achievements"
	"github.com/mycoool/gpuhub/internal/collector"
	"github.com/mycoool/gpuhub/internal/config"
	"github.com/mycoool/gpuhub/internal/database"
	"github.com/mycoool/gpuhub/internal/publish"
)

// Status lines printed by Update.
const (
	NoChangesMessage = "No changes to stats."
	PushedMessage    = "Stats pushed to GitHub."
)

// Report describes one update run.
type Report struct {
	RunID         string               `json:"run_id"`
	Trigger       string               `json:"trigger"`
	Outcome       string               `json:"outcome"`
	CommitHash    string               `json:"commit_hash,omitempty"`
	Servers       int                  `json:"servers"`
	FailedServers int                  `json:"failed_servers"`
	Awards        []achievements.Award `json:"awards"`
	Duration      time.Duration        `json:"duration"`
	Error         string               `json:"error,omitempty"`
}

// Hub holds everything one update needs.
type Hub struct {
	BaseDir   string
	Config    *config.Hub
	Fetch     collector.FetchStep
	Publisher publish.Publisher
	Out       io.Writer
	Now       func() time.Time
	Trigger   string
}

// New wires the fetch step and publisher named by cfg.
func New(baseDir string, cfg *config.Hub) (*Hub, error) {
	h := &Hub{BaseDir: baseDir, Config: cfg, Out: os.Stdout, Now: time.Now, Trigger: "cli"}
	if len(cfg.FetchCommand) > 0 {
		h.Fetch = collector.CommandStep{Argv: cfg.FetchCommand, Dir: baseDir}
	} else {
		h.Fetch = &Builtin{BaseDir: baseDir, Config: cfg, Runners: SSHRunners(cfg)}
	}

	pub, err := publish.New(cfg.Git.Backend, publish.Options{
		Dir:         baseDir,
		Remote:      cfg.Git.Remote,
		Branch:      cfg.Git.Branch,
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
		SSHKey:      config.Resolve(baseDir, cfg.Git.SSHKey),
		Token:       cfg.GitToken(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	h.Publisher = pub
	return h, nil
}

// Update runs the fetch step once, then commits and pushes the tracked files
// if any of them differ from HEAD. The status line is printed only for what
// actually happened.
func (h *Hub) Update(ctx context.Context) (*Report, error) {
	start := time.Now()
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	rep := &Report{RunID: uuid.NewString(), Trigger: h.Trigger, Outcome: database.OutcomeFailed}

	err := h.update(ctx, rep, now())
	rep.Duration = time.Since(start)
	if err != nil {
		rep.Error = err.Error()
		log.Printf("hub: run %s failed: %v", rep.RunID, err)
	}
	h.record(rep, start, err == nil)
	return rep, err
}

func (h *Hub) update(ctx context.Context, rep *Report, now time.Time) error {
	if _, err := h.Fetch.Fetch(ctx); err != nil {
		return fmt.Errorf("%w: %w", collector.ErrFetch, err)
	}
	if b, ok := h.Fetch.(*Builtin); ok && b.Snapshot != nil {
		rep.Servers = len(b.Snapshot.Servers)
		for _, s := range b.Snapshot.Servers {
			if s.Failed() {
				rep.FailedServers++
			}
		}
		rep.Awards = b.Awards
	}

	outcome, hash, err := publish.Publish(ctx, h.Publisher, h.Config.TrackedFiles, publish.Message(now))
	rep.CommitHash = hash
	if err != nil {
		return err
	}

	switch outcome {
	case publish.Unchanged:
		rep.Outcome = database.OutcomeUnchanged
		h.println(NoChangesMessage)
	case publish.Resent:
		rep.Outcome = database.OutcomePushed
		log.Printf("hub: stats unchanged, pushed earlier commit %s to %s/%s", hash, h.Config.Git.Remote, h.Config.Git.Branch)
		h.println(NoChangesMessage)
	case publish.Pushed:
		rep.Outcome = database.OutcomePushed
		log.Printf("hub: pushed %s to %s/%s", hash, h.Config.Git.Remote, h.Config.Git.Branch)
		h.println(PushedMessage)
	}
	return nil
}

func (h *Hub) println(msg string) {
	if h.Out != nil {
		fmt.Fprintln(h.Out, msg)
	}
}

func (h *Hub) record(rep *Report, start time.Time, success bool) {
	events := make([]database.AchievementEvent, 0, len(rep.Awards))
	for _, a := range rep.Awards {
		events = append(events, database.AchievementEvent{
			RunID:         rep.RunID,
			User:          a.User,
			AchievementID: a.AchievementID,
			Name:          a.Achievement.Name,
			Tier:          string(a.Achievement.Tier),
			EarnedAt:      a.Timestamp,
		})
	}
	database.LogRun(&database.RunLog{
		RunID:           rep.RunID,
		Trigger:         rep.Trigger,
		Success:         success,
		Outcome:         rep.Outcome,
		CommitHash:      rep.CommitHash,
		Error:           rep.Error,
		Servers:         rep.Servers,
		FailedServers:   rep.FailedServers,
		NewAchievements: len(rep.Awards),
		Duration:        rep.Duration.Milliseconds(),
		StartedAt:       start,
	}, events)
}
