package telephony

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-lead-agent/pkg/logger"
)

// DefaultStreamPath is where Twilio connects the media stream.
const DefaultStreamPath = "/media-stream"

// WebhookHandler serves the Twilio-facing endpoints.
//
// Once a request parses, these answer 200 even if later processing fails, so Twilio
// never reads an internal error as a reason to drop the call.
type WebhookHandler struct {
	// PublicURL overrides the request host when building the stream URL.
	PublicURL  string
	StreamPath string
	Starter    SessionStarter
}

func (h WebhookHandler) streamPath() string {
	if h.StreamPath == "" {
		return DefaultStreamPath
	}
	return h.StreamPath
}

// HandleVoice answers the voice webhook with TwiML connecting the call to the media stream.
func (h WebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioVoiceWebhook(c.Request)
	if err != nil {
		log.Warn("twilio voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	params := map[string]string{}
	if phone := form.LeadPhone(); phone != "" {
		params[PhoneParam] = phone
	}
	streamURL := StreamURL(h.PublicURL, c.Request.Host, h.streamPath())

	twiml, err := RenderStreamTwiML(streamURL, params)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	log.Info("voice webhook",
		"call_sid", form.CallSid,
		"from", form.From,
		"to", form.To,
		"direction", form.Direction,
		"stream_url", streamURL,
	)
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, twiml)
}

// HandleStatus logs call status callbacks. The call's lead is driven by the media stream.
func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	log.Info("call status callback",
		"call_sid", form.CallSid,
		"call_status", form.CallStatus,
		"call_duration", form.CallDuration,
		"sequence", form.SequenceNumber,
	)
	c.Status(http.StatusOK)
}

// HandleMediaStream upgrades to a websocket and relays it until the call ends.
// A phone query parameter is used when the start frame does not carry one.
func (h WebhookHandler) HandleMediaStream(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Starter == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call sessions not configured"})
		return
	}

	conn, err := Upgrade(c.Writer, c.Request)
	if err != nil {
		// The upgrader has already written the HTTP error.
		log.Warn("media stream upgrade failed", "err", err)
		return
	}

	log.Info("media stream connected", "remote_addr", conn.RemoteAddr().String())
	s := NewMediaStream(conn, h.Starter, c.Query(PhoneParam), log)
	if err := s.Run(c.Request.Context()); err != nil {
		log.Warn("media stream ended with error", "err", err)
	}
}
