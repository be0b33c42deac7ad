package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/oa2a/oa2a/internal/json"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/protocol"
	"github.com/oa2a/oa2a/internal/servertools"
	"github.com/oa2a/oa2a/internal/translator"
	"github.com/oa2a/oa2a/internal/upstream"
	"github.com/oa2a/oa2a/internal/usage"
)

func respondError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, protocol.NewErrorResponse(errType, message))
}

// respondUpstreamError maps a failed upstream call onto the client
// error taxonomy, passing upstream status codes through.
func respondUpstreamError(c *gin.Context, err error) {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		c.JSON(ue.StatusCode, ue.Response())
		return
	}
	respondError(c, http.StatusInternalServerError, protocol.ErrInternal, "internal server error")
}

// parseMessagesRequest validates the request shape before decoding so
// type mismatches surface as invalid_request_error instead of a bare
// decode failure.
func parseMessagesRequest(c *gin.Context) (*protocol.MessagesRequest, bool) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, protocol.ErrInvalidRequest, "failed to read request body")
		return nil, false
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		respondError(c, http.StatusBadRequest, protocol.ErrInvalidRequest, "request body must be a JSON object")
		return nil, false
	}
	if model := parsed.Get("model"); model.Type != gjson.String || model.Str == "" {
		respondError(c, http.StatusBadRequest, protocol.ErrInvalidRequest, "model must be a non-empty string")
		return nil, false
	}
	msgs := parsed.Get("messages")
	if !msgs.IsArray() || len(msgs.Array()) == 0 {
		respondError(c, http.StatusBadRequest, protocol.ErrInvalidRequest, "messages must be a non-empty list")
		return nil, false
	}
	if mt := parsed.Get("max_tokens"); mt.Exists() && mt.Type != gjson.Number {
		respondError(c, http.StatusBadRequest, protocol.ErrInvalidRequest, "max_tokens must be an integer")
		return nil, false
	}

	var req protocol.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(c, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid request: "+err.Error())
		return nil, false
	}
	return &req, true
}

func (s *Server) handleMessages(c *gin.Context) {
	req, ok := parseMessagesRequest(c)
	if !ok {
		return
	}
	settings := s.store.Current()

	active := s.registry.ExtractActive(req.Tools, settings)
	opts := translator.RequestOptions{}
	if len(active) > 0 {
		opts.ExcludeToolTypes = make(map[string]bool, len(active))
		for _, at := range active {
			opts.ExcludeToolTypes[at.Tool.Type()] = true
			opts.ExtraTools = append(opts.ExtraTools, at.Tool.UpstreamTool(at.Config))
		}
	}
	chatReq := translator.TranslateRequest(req, opts)

	if len(active) > 0 {
		s.runServerTools(c, req, chatReq, active)
		return
	}
	if req.Stream {
		s.streamMessages(c, req, chatReq)
		return
	}

	completion, err := s.client.CreateChatCompletion(c.Request.Context(), chatReq)
	if err != nil {
		s.recordUsage(req.Model, false, true, nil)
		respondUpstreamError(c, err)
		return
	}
	msg := translator.TranslateResponse(completion, req.Model)
	s.recordUsage(req.Model, false, false, msg.Usage)
	c.JSON(http.StatusOK, msg)
}

// runServerTools drives the orchestrator loop and renders the final
// message either as JSON or as a replayed event stream.
func (s *Server) runServerTools(c *gin.Context, req *protocol.MessagesRequest, chatReq *protocol.ChatCompletionRequest, active []servertools.ActiveTool) {
	msg, err := s.orchestrator.Run(c.Request.Context(), chatReq, active, req.Model, s.store.Current())
	if err != nil {
		s.recordUsage(req.Model, req.Stream, true, nil)
		respondUpstreamError(c, err)
		return
	}
	s.recordUsage(req.Model, req.Stream, false, msg.Usage)

	if !req.Stream {
		c.JSON(http.StatusOK, msg)
		return
	}
	setStreamHeaders(c)
	for _, ev := range translator.ReplayMessage(msg) {
		c.Writer.Write(ev.SSE())
	}
	c.Writer.Write(translator.DoneChunk)
	c.Writer.Flush()
}

func (s *Server) recordUsage(model string, stream, failed bool, u *protocol.Usage) {
	if s.recorder == nil {
		return
	}
	rec := usage.Record{Model: model, Stream: stream, Failed: failed}
	if u != nil {
		rec.InputTokens = u.InputTokens
		rec.OutputTokens = u.OutputTokens
		if u.CacheCreationInputTokens != nil {
			rec.CacheCreationInputTokens = *u.CacheCreationInputTokens
		}
		if u.CacheReadInputTokens != nil {
			rec.CacheReadInputTokens = *u.CacheReadInputTokens
		}
		if u.ServerToolUse != nil {
			rec.WebSearchRequests = u.ServerToolUse.WebSearchRequests
		}
	}
	s.recorder.Enqueue(rec)
}

func (s *Server) handleCountTokens(c *gin.Context) {
	req, ok := parseMessagesRequest(c)
	if !ok {
		return
	}
	chatReq := translator.TranslateRequest(req, translator.RequestOptions{})
	c.JSON(http.StatusOK, gin.H{"input_tokens": s.counter.EstimateRequestTokens(chatReq)})
}

func (s *Server) handleModels(c *gin.Context) {
	body, err := s.client.ListModels(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleEventLogging accepts telemetry batches some clients emit and
// discards them.
func (s *Server) handleEventLogging(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func statsSince(days string) (time.Time, error) {
	n := 30
	if days != "" {
		parsed, err := strconv.Atoi(days)
		if err != nil || parsed <= 0 {
			return time.Time{}, errors.New("invalid days")
		}
		n = parsed
	}
	return time.Now().AddDate(0, 0, -n), nil
}

func (s *Server) handleUsageStats(c *gin.Context) {
	if s.recorder == nil {
		respondError(c, http.StatusNotFound, protocol.ErrInvalidRequest, "usage recording is disabled")
		return
	}
	since, err := statsSince(c.Query("days"))
	if err != nil {
		respondError(c, http.StatusBadRequest, protocol.ErrInvalidRequest, "days must be a positive integer")
		return
	}

	ctx := c.Request.Context()
	global, err := s.recorder.QueryGlobalStats(ctx, since)
	if err != nil {
		log.Errorf("usage stats query failed: %v", err)
		respondError(c, http.StatusInternalServerError, protocol.ErrInternal, "failed to query usage")
		return
	}
	models, err := s.recorder.QueryModelStats(ctx, since)
	if err != nil {
		log.Errorf("usage stats query failed: %v", err)
		respondError(c, http.StatusInternalServerError, protocol.ErrInternal, "failed to query usage")
		return
	}
	daily, err := s.recorder.QueryDailyStats(ctx, since)
	if err != nil {
		log.Errorf("usage stats query failed: %v", err)
		respondError(c, http.StatusInternalServerError, protocol.ErrInternal, "failed to query usage")
		return
	}
	c.JSON(http.StatusOK, gin.H{"global": global, "models": models, "daily": daily})
}
