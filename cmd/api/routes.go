package main

import (
	"voice-lead-agent/internal/httpapi"
	"voice-lead-agent/internal/rbac"
	"voice-lead-agent/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers. No business logic lives here.
func registerRoutes(r *gin.Engine, api httpapi.Handlers, webhooks telephony.WebhookHandler, authMW gin.HandlerFunc) {
	r.GET("/health", api.Health)

	// Twilio-facing. These are not authenticated.
	r.POST("/api/voice", webhooks.HandleVoice)
	r.POST("/api/status", webhooks.HandleStatus)
	r.GET(telephony.DefaultStreamPath, webhooks.HandleMediaStream)

	operator := r.Group("/api")
	operator.Use(authMW)
	operator.Use(rbac.RequireRole(rbac.RoleViewer))
	{
		operator.GET("/leads", api.ListLeads)
		operator.GET("/leads/:id", api.GetLead)
		operator.GET("/reports/leads", api.LeadsReport)
		operator.GET("/calls/active", api.ActiveCalls)
		operator.POST("/calls", rbac.RequireRole(rbac.RoleAdmin), api.PlaceCall)
	}
}
