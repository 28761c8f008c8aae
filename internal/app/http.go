package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/semmidev/strongbox/internal/domain"
	"github.com/semmidev/strongbox/internal/usecase"
)

// Server exposes backups, progress, archives, restores and schedules over
// HTTP. Callers are assumed to be authorized already.
type Server struct {
	addr      string
	svc       *Services
	logger    usecase.Logger
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	jobs      sync.WaitGroup
	startTime time.Time
}

func NewServer(addr string, svc *Services, logger usecase.Logger) *Server {
	if addr == "" {
		addr = "127.0.0.1:8085"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      addr,
		svc:       svc,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)

	r.POST("/api/backups", s.handleStartBackup)
	r.GET("/api/jobs/:id", s.handleJob)

	r.GET("/api/archives", s.handleArchives)
	r.POST("/api/archives/prune", s.handlePrune)
	r.GET("/api/archives/:name/members", s.handleMembers)
	r.DELETE("/api/archives/:name", s.handleDeleteArchive)
	r.POST("/api/archives/:name/restore/file", s.handleRestoreFile)
	r.POST("/api/archives/:name/restore/database", s.handleRestoreDatabase)

	r.GET("/api/schedules", s.handleSchedules)

	if s.svc.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.svc.Metrics.Handler()))
	}
	return r
}

// ListenAndServe blocks until Shutdown is called.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Infof("HTTP API listening on %s", listener.Addr())

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels background jobs started over
// HTTP and waits for them to record their outcome.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.server.Shutdown(ctx)
	s.jobs.Wait()
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	}
	if active, err := s.svc.Progress.Active(); err == nil && active != nil {
		body["active_job"] = active.JobID
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleStartBackup(c *gin.Context) {
	job, err := s.svc.Backup.Begin(domain.TriggerManual)
	if err != nil {
		var running *domain.JobRunningError
		if errors.As(err, &running) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "job_id": running.JobID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if _, err := job.Run(s.ctx); err != nil {
			s.logger.Errorf("[%s] Manual backup failed: %v", job.ID(), err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID()})
}

type jobView struct {
	domain.ProgressState
	Stale bool `json:"stale"`
}

func (s *Server) handleJob(c *gin.Context) {
	state, err := s.svc.Progress.Read(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobView{
		ProgressState: state,
		Stale:         state.Stale(s.svc.Progress.Now(), s.svc.Progress.StaleAfter()),
	})
}

func (s *Server) handleArchives(c *gin.Context) {
	archives, err := s.svc.Archives.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archives": archives, "count": len(archives)})
}

func (s *Server) handlePrune(c *gin.Context) {
	deleted, err := s.svc.Cleanup.Prune(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) handleMembers(c *gin.Context) {
	members, err := s.svc.Restore.ListMembers(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archive": c.Param("name"), "members": members})
}

func (s *Server) handleDeleteArchive(c *gin.Context) {
	if err := s.svc.Archives.Delete(c.Request.Context(), c.Param("name")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRestoreFile(c *gin.Context) {
	var req struct {
		Member      string `json:"member" binding:"required"`
		Destination string `json:"destination"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing member field"})
		return
	}

	result, err := s.svc.Restore.RestoreFile(c.Request.Context(), c.Param("name"), req.Member, req.Destination)
	if err != nil {
		c.JSON(statusFor(err), result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRestoreDatabase(c *gin.Context) {
	result, err := s.svc.Restore.RestoreDatabase(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(statusFor(err), result)
		return
	}
	c.JSON(http.StatusOK, result)
}

type scheduleView struct {
	domain.ScheduleDefinition
	NextRunAt time.Time `json:"next_run_at"`
	Due       bool      `json:"due"`
}

func (s *Server) handleSchedules(c *gin.Context) {
	schedules, err := s.svc.Schedules.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	views := make([]scheduleView, 0, len(schedules))
	for _, sched := range schedules {
		views = append(views, describeSchedule(s.svc.Evaluator, sched, now))
	}
	c.JSON(http.StatusOK, gin.H{"schedules": views})
}

// describeSchedule reports the pending occurrence of a schedule, which is in
// the past while the schedule is due.
func describeSchedule(e *usecase.Evaluator, s domain.ScheduleDefinition, now time.Time) scheduleView {
	anchor := s.CreatedAt
	if s.LastRunAt != nil {
		anchor = *s.LastRunAt
	}
	return scheduleView{
		ScheduleDefinition: s,
		NextRunAt:          e.NextRunTime(s, anchor),
		Due:                s.Enabled && e.IsDue(s, now),
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrArchiveNotFound),
		errors.Is(err, domain.ErrMemberNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrScheduleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidMember):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
