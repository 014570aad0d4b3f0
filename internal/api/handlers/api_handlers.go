package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"face-scout-go/config"
	"face-scout-go/internal/database"
	"face-scout-go/internal/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// APIHandler behandelt API-Anfragen für die Ergebnis-Durchsicht
type APIHandler struct {
	db  *gorm.DB
	cfg *config.Config
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(db *gorm.DB, cfg *config.Config) *APIHandler {
	return &APIHandler{
		db:  db,
		cfg: cfg,
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// System-Endpunkte
	router.GET("/status", h.GetStatus)

	// Ergebnis-Endpunkte
	router.GET("/results", h.ListResults)
	router.GET("/results/:video_id", h.GetResult)
	router.GET("/matches/:file", h.GetMatchFrame)
}

// GetStatus gibt den Systemstatus mit Datenbank-Zählern zurück
func (h *APIHandler) GetStatus(c *gin.Context) {
	sysStats := utils.GetSystemStats()

	status := gin.H{
		"status": "ok",
		"system": sysStats,
	}

	dbStats, err := database.GetStatistics(h.db)
	if err != nil {
		status["database_error"] = err.Error()
	} else {
		status["database"] = gin.H{
			"videos":         dbStats.TotalVideos,
			"channels":       dbStats.TotalChannels,
			"scans":          dbStats.TotalScans,
			"matched_videos": dbStats.MatchedVideos,
			"latest_scan":    dbStats.LatestScan,
		}
	}

	c.JSON(http.StatusOK, status)
}

// ListResults gibt eine Seite der Scan-Ergebnisse zurück.
// Query-Parameter: page, per_page, matched=true für nur Treffer.
func (h *APIHandler) ListResults(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	matchedOnly := c.Query("matched") == "true"

	results, total, err := database.ListScanResults(h.db, page, perPage, matchedOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch results: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetResult gibt das Scan-Ergebnis eines einzelnen Videos zurück
func (h *APIHandler) GetResult(c *gin.Context) {
	videoID := c.Param("video_id")

	result, err := database.GetScanResult(h.db, videoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch result: %v", err)})
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetMatchFrame liefert einen gespeicherten Treffer-Frame aus dem
// Matches-Verzeichnis aus. Pfadbestandteile außerhalb des Verzeichnisses
// werden abgewiesen.
func (h *APIHandler) GetMatchFrame(c *gin.Context) {
	name := c.Param("file")
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file name"})
		return
	}

	path := filepath.Join(h.cfg.Storage.MatchesDir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Match frame not found"})
		return
	}

	c.File(path)
}
