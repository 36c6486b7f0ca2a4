package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/notify"
)

func (h *handlers) listNotifications(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}
	unread := c.Query("unread")
	list, err := notify.List(c.Request.Context(), h.st, notify.ListOptions{
		Limit:      limit,
		Offset:     offset,
		UnreadOnly: unread == "1" || unread == "true",
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) notificationStats(c *gin.Context) {
	stats, err := notify.GetStats(c.Request.Context(), h.st)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) markRead(c *gin.Context) {
	if err := notify.MarkAsRead(c.Request.Context(), h.st, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) markAllRead(c *gin.Context) {
	n, err := notify.MarkAllAsRead(c.Request.Context(), h.st)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (h *handlers) deleteNotification(c *gin.Context) {
	if err := notify.Delete(c.Request.Context(), h.st, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
