package main

import (
	"ai-call-center/internal/auth"
	"ai-call-center/internal/httpapi"
	"ai-call-center/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Health)

	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		// Read-only views are open to every role.
		read := v1.Group("")
		read.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer))
		{
			read.GET("/queue", h.Queue)
			read.GET("/logs", h.Logs)
			read.GET("/dashboard", h.Dashboard)
			read.GET("/jobs/:id", h.GetJob)
		}

		write := v1.Group("")
		write.Use(rbac.RequireAnyRole(rbac.RoleOperator))
		{
			write.POST("/calls", h.SubmitCall)
			write.POST("/scripts/:id/calls", h.ResubmitScript)
			write.POST("/credentials", h.CreateCredential)
			write.GET("/credentials", h.ListCredentials)
			write.POST("/scripts", h.CreateScript)
			write.GET("/scripts", h.ListScripts)
		}
	}
}
