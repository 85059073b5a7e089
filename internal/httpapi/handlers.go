package httpapi

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voice-lead-agent/internal/agent"
	"voice-lead-agent/internal/auth"
	"voice-lead-agent/internal/lead"
	"voice-lead-agent/internal/reporting"
	"voice-lead-agent/internal/telephony"
	"voice-lead-agent/pkg/logger"
)

// CallLister lists calls in progress. *agent.Registry implements it.
type CallLister interface {
	Active() []agent.CallInfo
}

// Dialer places outbound calls. *telephony.TwilioClient implements it.
type Dialer interface {
	MakeCall(ctx context.Context, in telephony.OutboundCall) (telephony.Call, error)
}

// Handlers groups the operator API handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Leads   lead.Store
	Reports *reporting.Service
	Calls   CallLister
	// Dialer is nil when outbound calling is not configured.
	Dialer    Dialer
	PublicURL string
	Now       func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// Health reports liveness and the number of calls in progress.
func (h Handlers) Health(c *gin.Context) {
	active := 0
	if h.Calls != nil {
		active = len(h.Calls.Active())
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"timestamp":   h.now().UTC().Format(time.RFC3339),
		"activeCalls": active,
	})
}

func (h Handlers) ListLeads(c *gin.Context) {
	if h.Leads == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lead store not configured"})
		return
	}
	leads, err := h.Leads.ReadAll(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("failed to read leads", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch leads"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": leads, "count": len(leads)})
}

func (h Handlers) GetLead(c *gin.Context) {
	if h.Leads == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lead store not configured"})
		return
	}
	l, err := h.Leads.FindByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, lead.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "lead not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("failed to read lead", "lead_id", c.Param("id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch lead"})
		return
	}
	c.JSON(http.StatusOK, l)
}

// LeadsReport summarizes leads. Optional from/to query params are RFC 3339 timestamps.
func (h Handlers) LeadsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	var req reporting.LeadsSummaryRequest
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &req.Range.From}, {"to", &req.Range.To}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.name + " must be an RFC 3339 timestamp"})
			return
		}
		*p.dst = t
	}

	out, err := h.Reports.LeadsSummary(c.Request.Context(), req)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("leads report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ActiveCalls(c *gin.Context) {
	calls := []agent.CallInfo{}
	if h.Calls != nil {
		calls = h.Calls.Active()
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}

type placeCallRequest struct {
	To string `json:"to"`
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// PlaceCall dials a lead. Twilio then calls the voice webhook, which connects the media stream.
func (h Handlers) PlaceCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "outbound calling not configured"})
		return
	}
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.To = strings.TrimSpace(req.To)
	if !e164.MatchString(req.To) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be an E.164 phone number"})
		return
	}

	call, err := h.Dialer.MakeCall(c.Request.Context(), telephony.OutboundCall{
		To:             req.To,
		VoiceURL:       h.PublicURL + "/api/voice",
		StatusCallback: h.PublicURL + "/api/status",
	})
	if err != nil {
		log.Error("outbound call failed", "to", req.To, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "failed to place call"})
		return
	}

	subject, _ := auth.Subject(c.Request.Context())
	log.Info("outbound call placed", "call_sid", call.SID, "to", req.To, "by", subject)
	c.JSON(http.StatusAccepted, gin.H{"callSid": call.SID, "status": call.Status, "to": req.To})
}
