package handlers

import (
	"context"
	"net/http"

	"guestgreet/internal/utils"

	"github.com/gin-gonic/gin"
)

// HealthChecker meldet die Erreichbarkeit des Gesichtsdiensts
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// SystemHandler behandelt Health- und Statistik-Endpunkte
type SystemHandler struct {
	stats  *utils.Collector
	remote HealthChecker
}

// NewSystemHandler erstellt einen neuen SystemHandler
func NewSystemHandler(pool utils.PoolStats, remote HealthChecker) *SystemHandler {
	return &SystemHandler{stats: utils.NewCollector(pool), remote: remote}
}

// RegisterRoutes registriert die System-Routen unter /api/system
func (h *SystemHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/stats", h.Stats)
}

// Stats liefert CPU-, Speicher- und Frame-Pool-Auslastung
func (h *SystemHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Collect())
}

// Health meldet, ob der Dienst läuft. Ein nicht erreichbarer Gesichtsdienst
// macht den Dienst nicht ungesund, wird aber ausgewiesen.
func (h *SystemHandler) Health(c *gin.Context) {
	remote := "ok"
	if h.remote != nil && !h.remote.HealthCheck(c.Request.Context()) {
		remote = "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "faceService": remote})
}
