package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oa2a/oa2a/internal/json"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/protocol"
	"github.com/oa2a/oa2a/internal/translator"
	"github.com/oa2a/oa2a/internal/upstream"
)

func setStreamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

// writeStreamError emits the error inside the stream. The HTTP status
// is already committed by the time most failures surface, so errors
// travel as an `error` event followed by the DONE marker.
func writeStreamError(c *gin.Context, err error) {
	errType, message := protocol.ErrInternal, "internal server error"
	var ue *upstream.Error
	if errors.As(err, &ue) {
		errType, message = ue.Type, ue.Message
	}
	c.Writer.Write(translator.NewErrorEvent(errType, message).SSE())
	c.Writer.Write(translator.DoneChunk)
	c.Writer.Flush()
}

func (s *Server) streamMessages(c *gin.Context, req *protocol.MessagesRequest, chatReq *protocol.ChatCompletionRequest) {
	estimate := s.counter.EstimateRequestTokens(chatReq)

	setStreamHeaders(c)
	stream, err := s.client.OpenStream(c.Request.Context(), chatReq)
	if err != nil {
		s.recordUsage(req.Model, true, true, nil)
		writeStreamError(c, err)
		return
	}
	defer stream.Close()

	st := translator.NewStreamTranslator(req.Model, estimate, s.counter)
	for {
		data, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warnf("upstream stream read failed: %v", err)
			s.recordUsage(req.Model, true, true, st.Usage())
			writeStreamError(c, &upstream.Error{
				Type:       protocol.ErrConnection,
				Message:    "upstream connection interrupted",
				StatusCode: http.StatusBadGateway,
			})
			return
		}

		var chunk protocol.ChatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			log.Debugf("skipping malformed stream chunk: %v", err)
			continue
		}
		for _, ev := range st.ApplyChunk(&chunk) {
			c.Writer.Write(ev.SSE())
		}
		c.Writer.Flush()
	}

	for _, ev := range st.Finish() {
		c.Writer.Write(ev.SSE())
	}
	c.Writer.Write(translator.DoneChunk)
	c.Writer.Flush()
	s.recordUsage(req.Model, true, false, st.Usage())
}
