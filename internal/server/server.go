// Package server serves the hub's data files as a read-only JSON API, pushes
// change events over websocket and lets authorized callers trigger an update.
package server

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/mycoool/gpuhub/internal/achievements"
	"github.com/mycoool/gpuhub/internal/aggregate"
	"github.com/mycoool/gpuhub/internal/config"
	"github.com/mycoool/gpuhub/internal/database"
	"github.com/mycoool/gpuhub/internal/hub"
	"github.com/mycoool/gpuhub/internal/pidfile"
	"github.com/mycoool/gpuhub/internal/stats"
	"github.com/mycoool/gpuhub/websocket"
)

// Updater runs one hub update.
type Updater func(ctx context.Context) (*hub.Report, error)

// Server is the dashboard API.
type Server struct {
	BaseDir string
	Config  *config.Hub
	Update  Updater
	Logs    *database.LogService
	WS      *websocket.Manager
	PIDPath string

	mu sync.Mutex
}

// New returns a server for the hub rooted at baseDir.
func New(baseDir string, cfg *config.Hub, update Updater) *Server {
	s := &Server{
		BaseDir: baseDir,
		Config:  cfg,
		Update:  update,
		WS:      websocket.NewManager(),
		PIDPath: config.Resolve(baseDir, ".gpuhub.pid"),
	}
	if db := database.GetDB(); db != nil {
		s.Logs = database.NewLogServiceWithDB(db)
	}
	return s
}

func (s *Server) path(p string) string {
	return config.Resolve(s.BaseDir, p)
}

// DataFiles lists the files the dashboard serves.
func (s *Server) DataFiles() []string {
	return []string{s.path(s.Config.StatusFile), s.path(s.Config.AggregateFile), s.path(s.Config.AchievementsFile)}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return "[GIN] " + strconv.Itoa(param.StatusCode) + " | " + param.Latency.String() + " | " +
			param.ClientIP + " | " + param.Method + " " + param.Path + "\n"
	}))
	r.Use(gin.Recovery())
	r.HandleMethodNotAllowed = true

	api := r.Group("/api", gzip.Gzip(gzip.DefaultCompression))
	api.GET("/status", s.getStatus)
	api.GET("/aggregate", s.getAggregate)
	api.GET("/achievements", s.getAchievements)
	api.GET("/achievements/summary", s.getAchievementSummary)
	api.GET("/achievements/:user", s.getUserAchievements)
	api.GET("/achievements/:user/events", s.getAchievementEvents)
	api.GET("/runs", s.getRuns)
	api.GET("/runs/stats", s.getRunStats)
	if s.Config.DefaultSecret() {
		log.Printf("server: jwt_secret is the built-in default, POST /api/update disabled")
	} else {
		api.POST("/update", AuthMiddleware(s.Config.JWTSecret), s.postUpdate)
	}

	r.GET("/ws", s.WS.Handle)
	return r
}

func (s *Server) getStatus(c *gin.Context) {
	var snap stats.Snapshot
	if err := stats.ReadJSON(s.path(s.Config.StatusFile), &snap); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no status collected yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getAggregate(c *gin.Context) {
	c.JSON(http.StatusOK, aggregate.Load(s.path(s.Config.AggregateFile)))
}

func (s *Server) store() *achievements.Store {
	return achievements.Load(s.path(s.Config.AchievementsFile))
}

func (s *Server) getAchievements(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.store().Users, "catalog": achievements.Catalog})
}

func (s *Server) getAchievementSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.store().Summarize())
}

func (s *Server) getUserAchievements(c *gin.Context) {
	user := c.Param("user")
	c.JSON(http.StatusOK, gin.H{"user": user, "achievements": s.store().UserAchievements(user)})
}

func (s *Server) getRuns(c *gin.Context) {
	if s.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	var success *bool
	if v := c.Query("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid success filter"})
			return
		}
		success = &b
	}
	runs, total, err := s.Logs.GetRunLogs(page, pageSize, success, nil, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": total, "page": page, "page_size": pageSize})
}

func (s *Server) getRunStats(c *gin.Context) {
	if s.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return
	}
	st, err := s.Logs.GetRunStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getAchievementEvents(c *gin.Context) {
	if s.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	user := c.Param("user")
	events, err := s.Logs.GetAchievementEvents(user, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "events": events})
}

func (s *Server) postUpdate(c *gin.Context) {
	if !s.mu.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "an update is already running"})
		return
	}
	defer s.mu.Unlock()

	lock, err := pidfile.New(s.PIDPath)
	if err != nil {
		if errors.Is(err, pidfile.ErrLocked) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer lock.Remove()

	rep, err := s.Update(c.Request.Context())
	msg := websocket.RunFinishedMessage{}
	if rep != nil {
		msg.RunID, msg.Outcome = rep.RunID, rep.Outcome
	}
	if err != nil {
		msg.Error = err.Error()
		s.WS.Send(websocket.TypeRunFinished, msg)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": rep})
		return
	}
	s.WS.Send(websocket.TypeRunFinished, msg)
	c.JSON(http.StatusOK, rep)
}

// Serve runs the API on ln and the data file watcher until ctx is done.
// systemd is told the service is ready once both are up.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		err := WatchData(ctx, s.DataFiles(), 500*time.Millisecond, func(name string) {
			log.Printf("server: %s changed", name)
			s.WS.Send(websocket.TypeStatsUpdated, websocket.StatsUpdatedMessage{File: name})
		})
		if err != nil {
			log.Printf("server: data watcher stopped: %v", err)
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("server: sd_notify failed: %v", err)
	} else if ok {
		log.Printf("server: notified systemd")
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
