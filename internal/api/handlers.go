package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"pivotflow/internal/model"
	"pivotflow/internal/notifier"
)

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":     "ok",
			"queue_len":  s.svc.QueueLen(),
			"store_size": s.svc.Len(),
		}
		if s.health != nil {
			snap := s.health()
			body["goroutines"] = snap.Goroutines
			if snap.FirstError != "" {
				body["first_error"] = snap.FirstError
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

func (s *Server) handleSubmit() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.PendingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := s.svc.Submit(c.Request.Context(), req); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": 1, "queue_len": s.svc.QueueLen()})
	}
}

func (s *Server) handleSubmitMany() gin.HandlerFunc {
	return func(c *gin.Context) {
		var reqs []model.PendingRequest
		if err := c.ShouldBindJSON(&reqs); err != nil {
			badRequest(c, err)
			return
		}
		if err := s.svc.SubmitMany(c.Request.Context(), reqs); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": len(reqs), "queue_len": s.svc.QueueLen()})
	}
}

func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		main, ok := categoryQuery(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": s.svc.Filtered(main, c.Query("sub"))})
	}
}

func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		main, ok := categoryQuery(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": s.svc.UnreadCount(main)})
	}
}

func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, ok := s.svc.Get(c.Param("id"))
		if !ok {
			notFound(c)
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		found, err := s.svc.MarkRead(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		// Unknown ids are a no-op; found tells the caller which case it hit.
		c.JSON(http.StatusOK, gin.H{"id": id, "read": found, "found": found})
	}
}

func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.svc.MarkAllRead(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Idempotent: deleting an unknown id succeeds.
		if _, err := s.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.svc.DeleteAll(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleClear() gin.HandlerFunc {
	return func(c *gin.Context) {
		main, ok := categoryQuery(c)
		if !ok {
			return
		}
		removed, err := s.svc.Clear(c.Request.Context(), main)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

type soundBody struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGetSound() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"enabled": s.svc.SoundEnabled()})
	}
}

func (s *Server) handleSetSound() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body soundBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		if body.Enabled == nil {
			badRequest(c, errors.New("enabled is required"))
			return
		}
		if err := s.svc.SetSoundEnabled(c.Request.Context(), *body.Enabled); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": *body.Enabled})
	}
}

// handleEvents streams committed notifications as server-sent events.
func (s *Server) handleEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.bus == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
			return
		}
		events, unsubscribe := s.bus.Subscribe(32, notifier.EventCommitted)
		defer unsubscribe()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-s.quit:
				return false
			case ev, ok := <-events:
				if !ok {
					return false
				}
				if ce, ok := ev.Data.(notifier.CommittedEvent); ok {
					c.SSEvent(ev.Type, ce.Notification)
				}
				return true
			}
		})
	}
}

func categoryQuery(c *gin.Context) (model.MainCategory, bool) {
	main, err := model.ParseMainCategory(c.Query("category"))
	if err != nil {
		badRequest(c, err)
		return "", false
	}
	return main, true
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func notFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "notification not found"})
}

// writeError maps service errors. A storage failure leaves the in-memory
// change applied, so the response says so.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, model.ErrInvalidRequest) {
		badRequest(c, err)
		return
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "applied": true})
}
