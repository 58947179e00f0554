package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/winter-snowfall/wookiee-unicaster/internal/registry"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	snapshots := s.slots.Snapshot()
	slots := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		slots = append(slots, slotJSON(snap))
	}

	c.JSON(http.StatusOK, gin.H{
		"role":       s.role,
		"uptime_s":   int(time.Since(s.startAt).Seconds()),
		"peer_count": len(snapshots),
		"slots":      slots,
	})
}

func (s *Server) handleSlotStatus(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot index"})
		return
	}

	snapshots := s.slots.Snapshot()
	if idx < 0 || idx >= len(snapshots) {
		c.JSON(http.StatusNotFound, gin.H{"error": "slot out of range"})
		return
	}

	c.JSON(http.StatusOK, slotJSON(snapshots[idx]))
}

func slotJSON(snap registry.Snapshot) gin.H {
	h := gin.H{
		"index":       snap.Index,
		"port":        snap.Port,
		"state":       snap.State.String(),
		"packets_in":  snap.PacketsIn,
		"packets_out": snap.PacketsOut,
		"drops":       snap.Drops,
	}
	if snap.Peer != nil {
		h["peer"] = snap.Peer.String()
	}
	if !snap.LastIngressAt.IsZero() {
		h["last_ingress_at"] = snap.LastIngressAt.Format(time.RFC3339)
	}
	if !snap.LastEgressAt.IsZero() {
		h["last_egress_at"] = snap.LastEgressAt.Format(time.RFC3339)
	}
	return h
}
