package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/chat"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/adapters"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

// statusClientClosed is the de facto status for a request abandoned by the client.
const statusClientClosed = 499

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (r locationRequest) latLng() (schema.LatLng, bool) {
	if r.Lat == nil || r.Lng == nil {
		return schema.LatLng{}, false
	}
	return schema.LatLng{Lat: *r.Lat, Lng: *r.Lng}, true
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

type sessionResponse struct {
	ID       string   `json:"id"`
	Starters []string `json:"starters"`
}

type messageResponse struct {
	Prompt    string                 `json:"prompt"`
	Fragments []chat.DisplayFragment `json:"fragments"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) createSession(c *gin.Context) {
	var req locationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
			return
		}
	}

	sess, err := s.sessions.Create()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"err": err.Error()})
		return
	}
	if loc, ok := req.latLng(); ok {
		if err := sess.SetLocation(loc); err != nil {
			s.sessions.Delete(sess.ID())
			c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
			return
		}
	}

	starters := s.svc.Starters(c.Request.Context(), sess)
	s.logger.Info().Str("session", sess.ID()).Msg("session created")
	c.JSON(http.StatusCreated, sessionResponse{ID: sess.ID(), Starters: starters})
}

// session resolves :id or writes a 404.
func (s *Server) session(c *gin.Context) (*chat.Session, bool) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return nil, false
	}
	return sess, true
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	for i := range snap.Exchanges {
		snap.Exchanges[i].Fragments = s.cleanFragments(snap.Exchanges[i].Fragments)
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if !s.sessions.Delete(id) {
		c.JSON(http.StatusNotFound, gin.H{"err": chat.ErrSessionNotFound.Error()})
		return
	}
	if f, ok := s.limiter.(forgetter); ok {
		f.Forget(id)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setLocation(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	loc, ok := req.latLng()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"err": "lat and lng are required"})
		return
	}
	if err := sess.SetLocation(loc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": loc})
}

func (s *Server) postMessage(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	text := strings.TrimSpace(s.clean(req.Text))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.TurnTimeout)
	defer cancel()

	if s.limiter != nil {
		release, err := s.limiter.Acquire(ctx, sess.ID())
		if err != nil {
			var rle *adapters.RateLimitError
			if errors.As(err, &rle) {
				c.JSON(http.StatusTooManyRequests, gin.H{"err": err.Error()})
				return
			}
			s.abortContext(c, err)
			return
		}
		defer release()
	}

	frags, err := s.svc.Turn(ctx, sess, text)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
			return
		}
		s.abortContext(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Prompt: text, Fragments: s.cleanFragments(frags)})
}

func (s *Server) abortContext(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"err": "turn timed out"})
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(statusClientClosed)
	default:
		s.logger.Error().Err(err).Msg("turn failed")
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
	}
}

func (s *Server) starters(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"starters": s.svc.Starters(c.Request.Context(), sess)})
}

// stream reveals the newest unseen response over SSE, one "word" event per
// word, and marks every pending response as seen once it finishes.
func (s *Server) stream(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	pending, seq, ok := sess.Pending()
	if !ok {
		c.SSEvent("done", gin.H{"pending": 0})
		c.Writer.Flush()
		return
	}

	ctx := c.Request.Context()
	newest := s.cleanFragments(pending)
	for i, f := range newest {
		c.SSEvent("fragment", gin.H{"index": i, "photo_url": f.PhotoURL})
		c.Writer.Flush()
		err := chat.Reveal(ctx, f.Text, s.cfg.RevealInterval, func(word string) error {
			c.SSEvent("word", word)
			c.Writer.Flush()
			return ctx.Err()
		})
		if err != nil {
			// Client went away; leave the responses pending for the next stream.
			s.logger.Debug().Err(err).Str("session", sess.ID()).Msg("reveal interrupted")
			return
		}
	}

	// A turn that committed mid-reveal stays pending for the next stream.
	drained := sess.DrainPending(seq)
	c.SSEvent("done", gin.H{"pending": drained})
	c.Writer.Flush()
}

func (s *Server) nearbyPlaces(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "lat and lng must be numbers"})
		return
	}
	loc := schema.LatLng{Lat: lat, Lng: lng}
	if err := loc.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	query := strings.TrimSpace(s.clean(c.DefaultQuery("q", "coffee")))
	if query == "" {
		query = "coffee"
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.TurnTimeout)
	defer cancel()

	frags := s.svc.NearbyPlaces(ctx, loc, query)
	c.JSON(http.StatusOK, gin.H{"fragments": s.cleanFragments(frags)})
}
