package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ssePollInterval is how often the stream checks for new and closed records.
var ssePollInterval = 3 * time.Second

// handleSSE streams "opened" and "closed" events as breakdowns are reported
// and fixed, with a periodic heartbeat.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		db := db.WithContext(ctx)

		// Only alert on records that appear after the client connected.
		lastSeenID := maxBreakdownID(db)
		lastClose := time.Now()

		ticker := time.NewTicker(ssePollInterval)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				opened, err := breakdownsSince(db, lastSeenID)
				if err == nil && len(opened) > 0 {
					lastSeenID = opened[len(opened)-1].ID
					for i := range opened {
						writeSSE(c.Writer, "opened", toRow(&opened[i]))
					}
				}
				closed, err := closedSince(db, lastClose)
				if err == nil && len(closed) > 0 {
					lastClose = *closed[len(closed)-1].FixedAt
					for i := range closed {
						writeSSE(c.Writer, "closed", toRow(&closed[i]))
					}
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
