package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/gstream/internal/api"
	"github.com/mantonx/gstream/internal/app"
	"github.com/mantonx/gstream/internal/events"
	"github.com/mantonx/gstream/internal/stream"
)

type probeRequest struct {
	URL string `json:"url" binding:"required"`
}

type watchRequest struct {
	URL     string `json:"url" binding:"required"`
	Quality string `json:"quality" binding:"required"`
}

type hostRequest struct {
	Address string `json:"address" binding:"required"`
	Port    int    `json:"port" binding:"required,min=1,max=65535"`
}

type playerRequest struct {
	Path string `json:"path" binding:"required"`
}

type displayRequest struct {
	ShowOffline *bool `json:"show_offline" binding:"required"`
}

// streamRow is a stream record as listed by the API
type streamRow struct {
	stream.Record
	ChatURL string `json:"chat_url"`
}

func streamRows(set stream.Set) []streamRow {
	rows := make([]streamRow, 0, len(set))
	for _, r := range set {
		rows = append(rows, streamRow{Record: r, ChatURL: app.ChatURL(r.URL)})
	}
	return rows
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"connected": s.svc.Connected(),
		"processes": len(s.svc.Processes()),
		"clients":   s.hub.Count(),
	})
}

func (s *Server) handleStreams(c *gin.Context) {
	all := c.Query("all") == "true"
	rows := streamRows(s.svc.Streams(all))
	c.JSON(http.StatusOK, gin.H{
		"streams": rows,
		"count":   len(rows),
	})
}

func (s *Server) handleProbe(c *gin.Context) {
	var req probeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "url is required", err)
		return
	}

	result, err := s.svc.Poll(c.Request.Context(), req.URL)
	if err != nil {
		api.RespondWithError(c, s.logger, err)
		return
	}

	status := "offline"
	if result.Online {
		status = "online"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"url":         result.URL,
		"online":      result.Online,
		"qualities":   result.Qualities,
		"chat_url":    result.ChatURL,
		"duration_ms": result.Duration.Milliseconds(),
	})
}

func (s *Server) handleWatch(c *gin.Context) {
	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "url and quality are required", err)
		return
	}

	result, err := s.svc.Watch(req.URL, req.Quality)
	if err != nil {
		api.RespondWithError(c, s.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

func (s *Server) handleStopWatch(c *gin.Context) {
	s.svc.StopPlayback()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Settings())
}

func (s *Server) handleSetHost(c *gin.Context) {
	var req hostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "address and a port between 1 and 65535 are required", err)
		return
	}

	if err := s.svc.ReconfigureHost(req.Address, uint16(req.Port)); err != nil {
		api.RespondWithError(c, s.logger, err)
		return
	}

	c.JSON(http.StatusOK, s.svc.Settings().Host)
}

func (s *Server) handleSetPlayer(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "path is required", err)
		return
	}

	if err := s.svc.SetPlayerPath(req.Path); err != nil {
		api.RespondWithError(c, s.logger, err)
		return
	}

	c.JSON(http.StatusOK, s.svc.Settings().Player)
}

func (s *Server) handleSetDisplay(c *gin.Context) {
	var req displayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "show_offline is required", err)
		return
	}

	visible, err := s.svc.SetShowOffline(*req.ShowOffline)
	if err != nil {
		api.RespondWithError(c, s.logger, err)
		return
	}

	rows := streamRows(visible)
	c.JSON(http.StatusOK, gin.H{
		"show_offline": *req.ShowOffline,
		"streams":      rows,
		"count":        len(rows),
	})
}

func (s *Server) history(c *gin.Context) (*app.HistorySnapshot, bool) {
	limit, ok := queryLimit(c, 0)
	if !ok {
		return nil, false
	}

	snapshot, err := s.svc.History(c.Request.Context(), limit)
	if err != nil {
		api.RespondWithError(c, s.logger, err)
		return nil, false
	}
	return snapshot, true
}

func (s *Server) handleHistoryOnline(c *gin.Context) {
	if h, ok := s.history(c); ok {
		c.JSON(http.StatusOK, gin.H{"transitions": h.Online, "count": len(h.Online)})
	}
}

func (s *Server) handleHistoryProbes(c *gin.Context) {
	if h, ok := s.history(c); ok {
		c.JSON(http.StatusOK, gin.H{"probes": h.Probes, "count": len(h.Probes)})
	}
}

func (s *Server) handleHistoryPlayback(c *gin.Context) {
	if h, ok := s.history(c); ok {
		c.JSON(http.StatusOK, gin.H{"sessions": h.Playbacks, "count": len(h.Playbacks)})
	}
}

func (s *Server) handleProcesses(c *gin.Context) {
	procs := s.svc.Processes()
	c.JSON(http.StatusOK, gin.H{"processes": procs, "count": len(procs)})
}

// handleRecentEvents returns buffered bus events, optionally filtered by
// ?types=a,b and bounded by ?limit
func (s *Server) handleRecentEvents(c *gin.Context) {
	limit, ok := queryLimit(c, 50)
	if !ok {
		return
	}
	recent := s.bus.Recent(filterFromQuery(c), limit)
	c.JSON(http.StatusOK, gin.H{"events": recent, "count": len(recent)})
}

// queryLimit reads ?limit, responding 400 when it is not a non-negative integer
func queryLimit(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		api.RespondWithValidationError(c, "limit must be a non-negative integer", err)
		return 0, false
	}
	return n, true
}

func filterFromQuery(c *gin.Context) events.EventFilter {
	var filter events.EventFilter
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, events.EventType(t))
			}
		}
	}
	return filter
}
