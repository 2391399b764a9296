// Package httpapi is the thin gin-gonic/gin façade spec.md §6 names: three
// endpoints plus shared-secret header auth, grounded on the teacher's
// router stack (cmd/server/main.go) and its header-check middleware shape
// (internal/middleware/auth_required.go), simplified from cookie-session
// auth to a single shared API key since this system has no end-user login.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trackimmo/internal/jobs"
	"trackimmo/internal/repositories"
)

// APIKeyRequired rejects requests missing a matching X-API-Key header.
func APIKeyRequired(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != apiKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handlers bundles the collaborators the three endpoints need.
type Handlers struct {
	Jobs *jobs.Manager
	Repo *repositories.Repository
}

// NewRouter builds the gin engine with all three spec §6 endpoints wired
// behind APIKeyRequired.
func NewRouter(h *Handlers, apiKey string) *gin.Engine {
	r := gin.Default()
	r.Use(APIKeyRequired(apiKey))

	r.POST("/process-client", h.ProcessClient)
	r.POST("/process-retry-queue", h.ProcessRetryQueue)
	r.GET("/job-status/:job_id", h.JobStatus)

	return r
}

type processClientRequest struct {
	ClientID string `json:"client_id" binding:"required"`
}

// ProcessClient handles POST /process-client.
func (h *Handlers) ProcessClient(c *gin.Context) {
	var req processClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid client_id"})
		return
	}

	jobID, err := h.Jobs.Submit(c.Request.Context(), clientID)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success":   false,
			"client_id": clientID,
			"message":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"job_id":    jobID,
		"client_id": clientID,
		"message":   "job submitted",
	})
}

// ProcessRetryQueue handles POST /process-retry-queue.
func (h *Handlers) ProcessRetryQueue(c *gin.Context) {
	processed, failed, err := h.Jobs.DrainRetryQueue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processed": processed,
		"failed":    failed,
		"message":   "retry queue drained",
	})
}

// JobStatus handles GET /job-status/:job_id.
func (h *Handlers) JobStatus(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job_id"})
		return
	}

	job, err := h.Repo.GetJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	resp := gin.H{
		"id":            job.ID,
		"client_id":     job.ClientID,
		"status":        job.Status,
		"attempt_count": job.AttemptCount,
		"error_message": job.ErrorMessage,
		"created_at":    job.CreatedAt.Format(time.RFC3339),
		"updated_at":    job.UpdatedAt.Format(time.RFC3339),
	}
	if job.LastAttempt != nil {
		resp["last_attempt"] = job.LastAttempt.Format(time.RFC3339)
	}
	if job.NextAttempt != nil {
		resp["next_attempt"] = job.NextAttempt.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}
