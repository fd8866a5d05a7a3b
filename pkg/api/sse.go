package api

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/forgeplatform/forge/pkg/runlog"
)

// StreamRunEvents implements GET /runs/:runId/events?lastSeq=N, the
// resumption protocol of spec §4.10: drain readAfter(runId, lastSeq) first,
// then subscribe, writing every event as an SSE frame with `id: <seq>` so a
// client's Last-Event-ID becomes its next lastSeq on reconnect.
func (s *Server) StreamRunEvents(c *gin.Context) {
	runID := c.Param("runId")

	lastSeq, err := parseLastSeq(c.Query("lastSeq"), c.GetHeader("Last-Event-ID"))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid lastSeq"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()

	err = s.runs.Resume(c.Request.Context(), runID, lastSeq, func(ev runlog.Event) error {
		if _, werr := fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, ev.Payload); werr != nil {
			return werr
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		slog.Warn("run event stream ended with error", "run_id", runID, "error", err)
	}
}

// parseLastSeq prefers the SSE reconnection header over the query param,
// per spec §4.10's "client presents (runId, lastSeq)" — a reconnecting
// EventSource sends Last-Event-ID automatically.
func parseLastSeq(queryVal, lastEventID string) (int64, error) {
	raw := lastEventID
	if raw == "" {
		raw = queryVal
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
