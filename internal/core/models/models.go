package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Channel repräsentiert einen YouTube-Kanal mit zwischengespeicherten Statistiken
type Channel struct {
	gorm.Model
	ChannelID         string    `gorm:"uniqueIndex;not null"` // YouTube-Kanal-ID
	Title             string    `gorm:"index"`
	Subscribers       int64     // 0, wenn der Kanal die Zahl verbirgt
	AvatarURL         string    // Profilbild des Kanals
	Active            bool      // mindestens ein Video im Aktivitätsfenster
	ActivityCheckedAt time.Time // Zeitpunkt der letzten Aktivitätsprüfung
	CheckedAt         time.Time `gorm:"index"` // Zeitpunkt des letzten Statistik-Abrufs
}

// Video repräsentiert ein gefundenes YouTube-Video mit Metadaten
type Video struct {
	gorm.Model
	VideoID         string    `gorm:"uniqueIndex;not null"` // YouTube-Video-ID
	ChannelID       string    `gorm:"index"`
	ChannelTitle    string
	Title           string
	Description     string
	PublishedAt     time.Time `gorm:"index"`
	ThumbnailURL    string
	DurationSeconds int    // 0 = noch nicht abgerufen
	Language        string // erkannte Sprache (ISO 639-3), leer = nicht geprüft
}

// URL liefert die Watch-URL des Videos
func (v *Video) URL() string {
	return WatchURL(v.VideoID)
}

// WatchURL bildet die Watch-URL zu einer Video-ID
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// ScanResult repräsentiert das Erkennungsergebnis für ein Video
type ScanResult struct {
	gorm.Model
	VideoID        string `gorm:"uniqueIndex;not null"`
	VideoURL       string
	ChannelID      string `gorm:"index"`
	Title          string
	ThumbnailMatch bool
	AvatarMatch    bool
	FrameMatch     bool
	MatchedNames   datatypes.JSON `gorm:"type:json"` // Liste von FaceMatch-Objekten
	FramesScanned  int
	MatchFramePath string // gespeicherter Treffer-Frame, leer wenn keiner
	ScannedAt      time.Time `gorm:"index"`
	Error          string // letzter Fehler bei der Verarbeitung, leer bei Erfolg
}

// Matched gibt an, ob irgendeine Quelle einen Treffer ergab
func (r *ScanResult) Matched() bool {
	return r.ThumbnailMatch || r.AvatarMatch || r.FrameMatch
}

// FaceMatch beschreibt einen einzelnen Treffer innerhalb eines ScanResults
type FaceMatch struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`               // "thumbnail", "avatar" oder "frame"
	FrameTime  float64 `json:"frame_time,omitempty"` // Sekunden im Video, nur bei Frames
}

// Statistics repräsentiert aggregierte Zahlen für die Status-API
type Statistics struct {
	TotalVideos    int64     // Anzahl bekannter Videos
	TotalChannels  int64     // Anzahl bekannter Kanäle
	TotalScans     int64     // Anzahl gescannter Videos
	MatchedVideos  int64     // Videos mit mindestens einem Treffer
	LatestScan     time.Time // Zeitstempel des neuesten Scans
}

// VideoRecord ist das JSON-Austauschformat zwischen den Pipeline-Stufen.
// Die Sammel-Stufe schreibt es, Filter- und Scan-Stufe lesen und ergänzen es.
type VideoRecord struct {
	VideoID         string    `json:"video_id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	ChannelID       string    `json:"channel_id"`
	ChannelTitle    string    `json:"channel_title"`
	Subscribers     int64     `json:"subscribers,omitempty"`
	PublishedAt     time.Time `json:"published_at"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	AvatarURL       string    `json:"avatar_url,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	Language        string    `json:"language,omitempty"`
}
