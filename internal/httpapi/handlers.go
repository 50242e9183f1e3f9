package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ai-call-center/internal/auth"
	"ai-call-center/internal/calls"
	"ai-call-center/internal/gateway"
	"ai-call-center/internal/rbac"
	"ai-call-center/internal/reporting"
	"ai-call-center/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Catalog is the read side of credentials, scripts and jobs.
type Catalog interface {
	Ping(ctx context.Context) error
	ListCredentials(ctx context.Context) ([]calls.Credential, error)
	ListScripts(ctx context.Context) ([]calls.Script, error)
	GetJob(ctx context.Context, id string) (calls.Job, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Operator *auth.Operator
	Gateway  *gateway.Service
	Reports  *reporting.Service
	Catalog  Catalog
}

// --- Auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login issues a JWT token pair for the configured operator account.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Operator.Check(req.Username, req.Password); err != nil {
		logger.FromGin(c).Warn("login rejected", "username", req.Username)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.issue(c, req.Username)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(time.Now(), req.RefreshToken, func(userID string) (string, bool) {
		return rbac.RoleAdmin, userID != "" && userID == h.Operator.Username()
	})
	if err != nil {
		logger.FromGin(c).Warn("refresh rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h Handlers) issue(c *gin.Context, userID string) {
	pair, err := h.Auth.IssuePair(time.Now(), userID, rbac.RoleAdmin)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Calls ---

// SubmitCall accepts a credential plus script and queues one job.
func (h Handlers) SubmitCall(c *gin.Context) {
	var req gateway.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid json"})
		return
	}
	job, err := h.Gateway.Submit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "success", "job_id": job.ID})
}

// ResubmitScript queues a fresh job for an existing script.
func (h Handlers) ResubmitScript(c *gin.Context) {
	job, err := h.Gateway.Resubmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "success", "job_id": job.ID})
}

func (h Handlers) GetJob(c *gin.Context) {
	job, err := h.Catalog.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// --- Credentials and scripts ---

func (h Handlers) CreateCredential(c *gin.Context) {
	var req gateway.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid json"})
		return
	}
	cred, err := h.Gateway.CreateCredential(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cred)
}

func (h Handlers) ListCredentials(c *gin.Context) {
	out, err := h.Catalog.ListCredentials(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

func (h Handlers) CreateScript(c *gin.Context) {
	var req gateway.ScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid json"})
		return
	}
	script, err := h.Gateway.CreateScript(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, script)
}

func (h Handlers) ListScripts(c *gin.Context) {
	out, err := h.Catalog.ListScripts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": out})
}

// --- Dashboard ---

func (h Handlers) Queue(c *gin.Context) {
	rows, err := h.Reports.Queue(c.Request.Context(), limitParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": rows})
}

func (h Handlers) Logs(c *gin.Context) {
	rows, err := h.Reports.Logs(c.Request.Context(), limitParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": rows})
}

func (h Handlers) Dashboard(c *gin.Context) {
	out, err := h.Reports.Dashboard(c.Request.Context(), limitParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if h.Catalog != nil {
		if err := h.Catalog.Ping(ctx); err != nil {
			logger.FromGin(c).Error("health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) fail(c *gin.Context, err error) {
	var verr *gateway.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "errors": verr.Fields})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"status": "error", "error": "not found"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal error"})
	}
}

// limitParam returns the ?limit= value, or 0 (store default) when absent or invalid.
func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
