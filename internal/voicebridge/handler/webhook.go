package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/f4s4b4/elevenlabs-webhook/internal/apierrors"
	"github.com/f4s4b4/elevenlabs-webhook/internal/calllog"
	"github.com/f4s4b4/elevenlabs-webhook/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"
)

// HandleStatus reports server health and configuration presence.
func (h *Handler) HandleStatus(c *gin.Context) {
	apiKey := "missing"
	if h.apiKeyConfigured {
		apiKey = "configured"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "WebSocket bridge running",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"agent_id":          h.agentID,
		"api_key":           apiKey,
		"media_stream_path": h.mediaStreamPath,
		"active_sessions":   h.activeSessions.Load(),
	})
}

// HandleVoiceWebhook answers Twilio's call webhook with TwiML pointing the
// call's media stream at this service.
func (h *Handler) HandleVoiceWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	entry := h.callLog.Record(calllog.Entry{
		From:    c.PostForm("From"),
		To:      c.PostForm("To"),
		CallSid: c.PostForm("CallSid"),
	})
	h.logger.Info(observability.WithFields(ctx,
		observability.Field{Key: "from", Value: entry.From},
		observability.Field{Key: "call_sid", Value: entry.CallSid},
	), "Incoming call")

	streamURL := fmt.Sprintf("wss://%s%s", c.Request.Host, h.mediaStreamPath)

	stream := twiml.VoiceStream{
		Name: "media-stream",
		Url:  streamURL,
	}
	connect := twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}

	twimlResult, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, twimlResult)
}

// HandleTestWebhook returns a static TwiML document for wiring checks.
func (h *Handler) HandleTestWebhook(c *gin.Context) {
	say := &twiml.VoiceSay{
		Message: "Test successful. The system is up and running.",
	}
	hangup := &twiml.VoiceHangup{}

	twimlResult, err := twiml.Voice([]twiml.Element{say, hangup})
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, twimlResult)
}

// HandleListCalls returns the most recent call-log entries, newest first.
func (h *Handler) HandleListCalls(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			apierrors.BadRequest(c, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries := h.callLog.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"calls": entries,
		"count": len(entries),
	})
}
