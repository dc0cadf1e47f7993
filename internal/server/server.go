package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/artifacts"
	"github.com/joseph-ayodele/protocol-pilot/internal/common"
	"github.com/joseph-ayodele/protocol-pilot/internal/document"
	"github.com/joseph-ayodele/protocol-pilot/internal/export"
	"github.com/joseph-ayodele/protocol-pilot/internal/pipeline"
	"github.com/joseph-ayodele/protocol-pilot/internal/repository"
)

// maxPagesBody caps an uploaded pages document.
const maxPagesBody = 16 << 20

// Server exposes the job API over HTTP. Runs are asynchronous: POST
// run returns 202 and the loop executes in the background, at most one
// run per job at a time.
type Server struct {
	echo     *echo.Echo
	store    *artifacts.Store
	jobs     *repository.JobRepository
	loop     *pipeline.Loop
	exporter *export.Service
	logger   *slog.Logger

	running sync.Map // display id -> struct{}
}

func New(store *artifacts.Store, jobs *repository.JobRepository, loop *pipeline.Loop, exporter *export.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:     e,
		store:    store,
		jobs:     jobs,
		loop:     loop,
		exporter: exporter,
		logger:   logger,
	}

	e.GET("/healthz", s.health)
	e.GET("/jobs", s.listJobs)
	e.POST("/jobs", s.createJob)
	e.POST("/jobs/:id/run", s.runJob)
	e.GET("/jobs/:id/status", s.jobStatus)
	e.GET("/jobs/:id/artifacts/:name", s.jobArtifact)
	e.GET("/jobs/:id/export.xlsx", s.exportJob)
	return s
}

// Handler exposes the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start(addr string) error {
	s.logger.Info("http.listen", "addr", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitDocument validates, registers, and stores a pages document,
// returning the new job id. Shared by the HTTP handler and the ingest
// watcher.
func (s *Server) SubmitDocument(ctx context.Context, raw []byte) (string, error) {
	doc, err := document.Parse(raw)
	if err != nil {
		return "", err
	}
	jobID := artifacts.NewJobID()
	if err := s.store.EnsureJob(jobID); err != nil {
		return "", err
	}
	if err := s.store.WriteJSON(jobID, constants.PagesArtifact, doc); err != nil {
		return "", err
	}
	if err := s.store.MergeStatus(jobID, map[string]any{
		"state": string(constants.JobStateCreated),
		"pages": len(doc.Pages),
	}); err != nil {
		return "", err
	}
	if s.jobs != nil {
		if _, err := s.jobs.Create(ctx, jobID, doc.Title); err != nil {
			return "", err
		}
	}
	s.logger.Info("http.job.created", "job_id", jobID, "pages", len(doc.Pages))
	return jobID, nil
}

// StartRun launches the control loop for a job unless a run is already
// active. Reports whether a new run started.
func (s *Server) StartRun(jobID string) bool {
	if _, loaded := s.running.LoadOrStore(jobID, struct{}{}); loaded {
		return false
	}
	go func() {
		defer s.running.Delete(jobID)
		// detached from the request; runs survive client disconnects
		if _, err := s.loop.Run(context.Background(), jobID); err != nil {
			s.logger.Error("http.run.failed", "job_id", jobID, "error", err)
		}
	}()
	return true
}

func (s *Server) createJob(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPagesBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	jobID, err := s.SubmitDocument(c.Request().Context(), raw)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"job_id": jobID})
}

func (s *Server) runJob(c echo.Context) error {
	jobID := c.Param("id")
	if !s.store.Exists(jobID, constants.PagesArtifact) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job "+jobID)
	}
	if !s.StartRun(jobID) {
		return c.JSON(http.StatusConflict, map[string]string{
			"job_id": jobID, "detail": "run already in progress",
		})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID, "state": string(constants.JobStateRunning)})
}

func (s *Server) jobStatus(c echo.Context) error {
	jobID := c.Param("id")
	if !s.store.Exists(jobID, constants.PagesArtifact) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job "+jobID)
	}
	status, err := s.store.ReadStatus(jobID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) jobArtifact(c echo.Context) error {
	jobID, name := c.Param("id"), c.Param("name")
	raw, err := s.store.ReadRaw(jobID, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "artifact "+name+" not available")
	}
	ct := echo.MIMEApplicationJSON
	if strings.HasSuffix(name, ".jsonl") {
		ct = "application/x-ndjson"
	}
	return c.Blob(http.StatusOK, ct, raw)
}

func (s *Server) exportJob(c echo.Context) error {
	jobID := c.Param("id")
	wb, err := s.exporter.Workbook(jobID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "export not available: "+err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+jobID+`.xlsx"`)
	return c.Blob(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", wb)
}

func (s *Server) listJobs(c echo.Context) error {
	if s.jobs == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	jobs, err := s.jobs.List(ctx, limit)
	if err != nil {
		return httpError(err)
	}
	if jobs == nil {
		jobs = []*repository.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
