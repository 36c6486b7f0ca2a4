package server

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/notify"
)

// ssePoll and sseHeartbeat pace the notification stream.
var (
	ssePoll      = 3 * time.Second
	sseHeartbeat = 15 * time.Second
)

// notificationEvent is sent for each new notification.
type notificationEvent struct {
	Notification models.Notification `json:"notification"`
	Unread       int                 `json:"unread"`
}

// events streams notifications created after the client connected.
// Notification IDs are time-ordered, so the newest ID seen marks progress.
func (h *handlers) events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	var lastSeen string
	if latest, err := notify.List(ctx, h.st, notify.ListOptions{Limit: 1}); err == nil && len(latest) > 0 {
		lastSeen = latest[0].ID
	}

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	ticker := time.NewTicker(ssePoll)
	heartbeat := time.NewTicker(sseHeartbeat)
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
			recent, err := notify.List(ctx, h.st, notify.ListOptions{Limit: 50})
			if err != nil {
				continue
			}
			var fresh []models.Notification
			for _, n := range recent {
				if n.ID <= lastSeen {
					break
				}
				fresh = append(fresh, n)
			}
			if len(fresh) == 0 {
				continue
			}
			lastSeen = fresh[0].ID

			unread := 0
			if stats, err := notify.GetStats(ctx, h.st); err == nil {
				unread = stats.Unread
			}
			for i := len(fresh) - 1; i >= 0; i-- {
				writeSSE(c.Writer, "notification", notificationEvent{Notification: fresh[i], Unread: unread})
			}
			c.Writer.Flush()
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
