package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/extractq/pkg/core"
)

// streamJob handles GET /v1/extractions/:id/stream. Events are written as
// "data: <json>" frames until the terminal status_update, the client leaves,
// or the job's subscriptions are closed by a cancel.
func (a *API) streamJob(c *gin.Context) {
	job, ok := a.ownedJob(c)
	if !ok {
		return
	}

	// Subscribe before re-reading the status: a terminal status is persisted
	// before it is published, so either the reload sees it or the
	// subscription receives it.
	sub := a.svc.Subscribe(job.ID)
	defer a.svc.Unsubscribe(sub)

	job, err := a.svc.Get(c.Request.Context(), job.ID)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if job.Status.IsTerminal() {
		e := core.StatusUpdate(job.ID, job.Status, job.LastError)
		e.TimingMetrics = job.TimingMetrics()
		_ = writeEvent(c, e)
		return
	}

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case e, open := <-sub.C():
			if !open {
				return
			}
			if err := writeEvent(c, e); err != nil {
				a.cfg.logger.Debug("stream write failed", "job_id", job.ID, "error", err)
				return
			}
			if e.IsTerminal() {
				return
			}
		}
	}
}

func writeEvent(c *gin.Context, e core.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
