package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// TrioInfo holds the general description of the ensemble. A single row is
// expected; the admin editor updates it in place.
type TrioInfo struct {
	gorm.Model
	Name          string `gorm:"not null;default:'Polyphonica Recorder Trio'" json:"name"`
	Tagline       string `json:"tagline,omitempty"`
	Description   string `gorm:"not null" json:"description"`
	History       string `json:"history,omitempty"`
	HeroImagePath string `json:"heroImagePath,omitempty"`
}

type PlayerBio struct {
	gorm.Model
	Name         string `gorm:"not null" json:"name"`
	Role         string `json:"role,omitempty"` // e.g. "Soprano & Alto Recorders"
	Bio          string `gorm:"not null" json:"bio"`
	PhotoPath    string `json:"photoPath,omitempty"`
	Website      string `json:"website,omitempty"`
	DisplayOrder int    `gorm:"not null;default:0" json:"displayOrder"`
	IsActive     bool   `gorm:"not null;default:true" json:"isActive"`
}

// Media types.
const (
	MediaTypeVideo = "video"
	MediaTypeAudio = "audio"
	MediaTypeImage = "image"
)

type MediaItem struct {
	gorm.Model
	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description,omitempty"`
	MediaType   string `gorm:"not null;index" json:"mediaType"`

	// Videos: YouTube/Vimeo URL or custom embed code.
	VideoURL       string `json:"videoUrl,omitempty"`
	VideoEmbedCode string `json:"videoEmbedCode,omitempty"`

	// Audio: uploaded file or external URL (SoundCloud etc).
	AudioFilePath string `json:"audioFilePath,omitempty"`
	AudioURL      string `json:"audioUrl,omitempty"`

	ThumbnailPath string `json:"thumbnailPath,omitempty"`

	Category        string     `json:"category,omitempty"` // e.g. "Live Performance"
	PerformanceDate *time.Time `gorm:"type:date" json:"performanceDate,omitempty"`

	IsFeatured   bool `gorm:"not null;default:false;index" json:"isFeatured"`
	IsPublished  bool `gorm:"not null;default:true;index" json:"isPublished"`
	DisplayOrder int  `gorm:"not null;default:0" json:"displayOrder"`
}

// YouTubeVideoID extracts the video ID from youtube.com/watch?v=... and
// youtu.be/... URLs. Empty when the URL is not a YouTube link.
func (m *MediaItem) YouTubeVideoID() string {
	if strings.Contains(m.VideoURL, "youtube.com") {
		if _, after, found := strings.Cut(m.VideoURL, "v="); found {
			id, _, _ := strings.Cut(after, "&")
			return id
		}
		return ""
	}
	if strings.Contains(m.VideoURL, "youtu.be") {
		parts := strings.Split(m.VideoURL, "/")
		id, _, _ := strings.Cut(parts[len(parts)-1], "?")
		return id
	}
	return ""
}

// VimeoVideoID extracts the video ID from a vimeo.com URL.
func (m *MediaItem) VimeoVideoID() string {
	if !strings.Contains(m.VideoURL, "vimeo.com") {
		return ""
	}
	parts := strings.Split(m.VideoURL, "/")
	id, _, _ := strings.Cut(parts[len(parts)-1], "?")
	return id
}
