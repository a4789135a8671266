package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/extractq/pkg/core"
	"github.com/jdziat/extractq/pkg/hub"
	"github.com/jdziat/extractq/pkg/queue"
	"github.com/jdziat/extractq/pkg/security"
)

// List limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Service is the queue surface the handlers use. *queue.Queue satisfies it.
type Service interface {
	Submit(ctx context.Context, spec core.JobSpec) (string, error)
	Delete(ctx context.Context, jobID string) error
	Update(ctx context.Context, jobID string, u core.JobUpdate) (*core.Job, error)
	Get(ctx context.Context, jobID string) (*core.Job, error)
	List(ctx context.Context, filter core.JobFilter) ([]*core.Job, error)
	Position(jobID string) (int, bool)
	Subscribe(jobID string) *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
	Artifact(ctx context.Context, ref string) (*core.Artifact, error)
	Stats() queue.Stats
}

var _ Service = (*queue.Queue)(nil)

// API wraps a queue and provides HTTP handlers.
type API struct {
	svc Service
	cfg config
}

// New creates an API for svc.
func New(svc Service, opts ...Option) *API {
	cfg := config{
		maxUpload: security.MaxUploadSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	return &API{svc: svc, cfg: cfg}
}

// Handler returns a gin engine with recovery, the configured middleware and
// every route registered.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.cfg.middleware...)
	a.SetupRoutes(router)
	return router
}

// SetupRoutes registers the API routes on router.
func (a *API) SetupRoutes(router gin.IRouter) {
	router.GET("/healthz", a.healthCheck)

	v1 := router.Group("/v1/extractions", requireUser)
	v1.POST("", a.submitJob)
	v1.GET("", a.listJobs)
	v1.GET("/:id", a.getJob)
	v1.PATCH("/:id", a.updateJob)
	v1.DELETE("/:id", a.deleteJob)
	v1.GET("/:id/stream", a.streamJob)
	v1.GET("/:id/download", a.downloadArtifact)
}

// JobView is the JSON form of a job.
type JobView struct {
	*core.Job
	// QueuePosition is the 0-based place in the owner's queue of a pending job.
	QueuePosition *int               `json:"queue_position,omitempty"`
	TimingMetrics core.TimingMetrics `json:"timing_metrics,omitempty"`
}

func (a *API) view(job *core.Job) JobView {
	v := JobView{Job: job, TimingMetrics: job.TimingMetrics()}
	if job.Status == core.StatusPending {
		if pos, ok := a.svc.Position(job.ID); ok {
			v.QueuePosition = &pos
		}
	}
	return v
}

func requireUser(c *gin.Context) {
	if c.GetHeader(UserHeader) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserHeader + " header"})
		return
	}
	c.Next()
}

// submitJob handles POST /v1/extractions
func (a *API) submitJob(c *gin.Context) {
	// Leave room for the other multipart fields around the file.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.maxUpload+64<<10)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds size limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if header.Size > a.cfg.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds size limit"})
		return
	}

	f, err := header.Open()
	if err != nil {
		a.fail(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		a.fail(c, fmt.Errorf("read upload: %w", err))
		return
	}

	multiple := false
	if v := c.PostForm("multiple_tables"); v != "" {
		if multiple, err = strconv.ParseBool(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multiple_tables must be a boolean"})
			return
		}
	}

	spec := core.JobSpec{
		UserID:         c.GetHeader(UserHeader),
		Priority:       core.Priority(strings.ToLower(c.PostForm("priority"))),
		Complexity:     core.Complexity(strings.ToLower(c.PostForm("complexity"))),
		Filename:       header.Filename,
		Input:          data,
		Columns:        formColumns(c),
		MultipleTables: multiple,
		OutputFormat:   core.OutputFormat(strings.ToLower(c.PostForm("output_format"))),
	}

	id, err := a.svc.Submit(c.Request.Context(), spec)
	if err != nil {
		a.fail(c, err)
		return
	}
	job, err := a.svc.Get(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, a.view(job))
}

// formColumns accepts repeated columns fields or one comma-separated list.
func formColumns(c *gin.Context) []string {
	values := c.PostFormArray("columns")
	if len(values) != 1 {
		return values
	}
	return strings.Split(values[0], ",")
}

// listJobs handles GET /v1/extractions
func (a *API) listJobs(c *gin.Context) {
	filter := core.JobFilter{
		UserID: c.GetHeader(UserHeader),
		Limit:  DefaultListLimit,
	}

	if s := c.Query("status"); s != "" {
		status := core.JobStatus(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(s)})
			return
		}
		filter.Status = status
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", MaxListLimit)})
			return
		}
		filter.Limit = n
	}
	if s := c.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
		filter.Offset = n
	}

	jobs, err := a.svc.List(c.Request.Context(), filter)
	if err != nil {
		a.fail(c, err)
		return
	}

	views := make([]JobView, len(jobs))
	for i, job := range jobs {
		views[i] = a.view(job)
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(views),
		"jobs":  views,
	})
}

// getJob handles GET /v1/extractions/:id
func (a *API) getJob(c *gin.Context) {
	job, ok := a.ownedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a.view(job))
}

// UpdateRequest is the body of PATCH /v1/extractions/:id. Omitted fields
// are left unchanged.
type UpdateRequest struct {
	InputFilename *string `json:"input_filename"`
	OutputFormat  *string `json:"output_format"`
}

// updateJob handles PATCH /v1/extractions/:id
func (a *API) updateJob(c *gin.Context) {
	job, ok := a.ownedJob(c)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	u := core.JobUpdate{InputFilename: req.InputFilename}
	if req.OutputFormat != nil {
		format := core.OutputFormat(*req.OutputFormat)
		u.OutputFormat = &format
	}

	job, err := a.svc.Update(c.Request.Context(), job.ID, u)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a.view(job))
}

// deleteJob handles DELETE /v1/extractions/:id. Pending jobs are cancelled,
// finished jobs are removed with their output.
func (a *API) deleteJob(c *gin.Context) {
	job, ok := a.ownedJob(c)
	if !ok {
		return
	}
	if err := a.svc.Delete(c.Request.Context(), job.ID); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// downloadArtifact handles GET /v1/extractions/:id/download
func (a *API) downloadArtifact(c *gin.Context) {
	job, ok := a.ownedJob(c)
	if !ok {
		return
	}
	if job.Status != core.StatusCompleted || job.ArtifactRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job is not completed"})
		return
	}

	artifact, err := a.svc.Artifact(c.Request.Context(), job.ArtifactRef)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

// healthCheck handles GET /healthz
func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"queue":  a.svc.Stats(),
	})
}

// ownedJob loads the :id job of the calling user. Jobs of other users are
// reported as missing.
func (a *API) ownedJob(c *gin.Context) (*core.Job, bool) {
	job, err := a.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return nil, false
	}
	if job.UserID != c.GetHeader(UserHeader) {
		a.fail(c, core.ErrJobNotFound)
		return nil, false
	}
	return job, true
}

// fail maps an error to a response status. Unexpected errors are logged and
// hidden from the client.
func (a *API) fail(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, core.ErrArtifactNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrNotCancelable), errors.Is(err, core.ErrJobBusy):
		status = http.StatusConflict
	default:
		a.cfg.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"job_id", c.Param("id"),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
