package media

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/polyphonica/polyphonica/internal/storage"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	store  *storage.Local
	config *config.Config
	logger zerolog.Logger
}

func NewService(db *gorm.DB, store *storage.Local, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		store:  store,
		config: cfg,
		logger: logger,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	r.GET("/media", s.ListMedia)

	staff := r.Group("/staff/media", auth.RequireAuth(s.config), auth.RequireStaff())
	staff.GET("", s.StaffListMedia)
	staff.POST("", s.CreateMediaItem)
	staff.PUT("/:id", s.UpdateMediaItem)
	staff.DELETE("/:id", s.DeleteMediaItem)
	staff.POST("/:id/audio", s.UploadAudio)
	staff.POST("/:id/thumbnail", s.UploadThumbnail)
}

// ListMedia returns published items grouped by type. Videos carry the
// extracted embed IDs so the frontend does not parse URLs.
func (s *Service) ListMedia(c *gin.Context) {
	query := s.db.Where("is_published = ?", true)
	if mediaType := c.Query("type"); mediaType != "" {
		query = query.Where("media_type = ?", mediaType)
	}
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}

	var items []models.MediaItem
	if err := query.Order("is_featured DESC, display_order ASC, created_at DESC").
		Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch media",
		})
		return
	}

	views := make([]gin.H, 0, len(items))
	for i := range items {
		views = append(views, publicView(&items[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"items": views,
		"count": len(views),
	})
}

func publicView(item *models.MediaItem) gin.H {
	view := gin.H{
		"id":            item.ID,
		"title":         item.Title,
		"description":   item.Description,
		"mediaType":     item.MediaType,
		"category":      item.Category,
		"thumbnailPath": item.ThumbnailPath,
		"isFeatured":    item.IsFeatured,
	}
	if item.PerformanceDate != nil {
		view["performanceDate"] = item.PerformanceDate.Format("2006-01-02")
	}

	switch item.MediaType {
	case models.MediaTypeVideo:
		view["videoUrl"] = item.VideoURL
		view["videoEmbedCode"] = item.VideoEmbedCode
		if id := item.YouTubeVideoID(); id != "" {
			view["youtubeId"] = id
		} else if id := item.VimeoVideoID(); id != "" {
			view["vimeoId"] = id
		}
	case models.MediaTypeAudio:
		view["audioFilePath"] = item.AudioFilePath
		view["audioUrl"] = item.AudioURL
	}

	return view
}

func (s *Service) StaffListMedia(c *gin.Context) {
	var items []models.MediaItem
	if err := s.db.Order("display_order ASC, created_at DESC").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch media",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

type mediaRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	MediaType   string `json:"mediaType" binding:"required,oneof=video audio image"`

	VideoURL       string `json:"videoUrl"`
	VideoEmbedCode string `json:"videoEmbedCode"`
	AudioURL       string `json:"audioUrl"`

	Category        string `json:"category"`
	PerformanceDate string `json:"performanceDate"` // "2006-01-02", optional

	IsFeatured   bool  `json:"isFeatured"`
	IsPublished  *bool `json:"isPublished"`
	DisplayOrder int   `json:"displayOrder"`
}

func (r *mediaRequest) apply(item *models.MediaItem) (int, string) {
	if r.PerformanceDate != "" {
		date, err := time.Parse("2006-01-02", r.PerformanceDate)
		if err != nil {
			return http.StatusBadRequest, "performanceDate must be YYYY-MM-DD"
		}
		item.PerformanceDate = &date
	} else {
		item.PerformanceDate = nil
	}
	if r.MediaType == models.MediaTypeVideo && r.VideoURL == "" && r.VideoEmbedCode == "" {
		return http.StatusBadRequest, "videos need a videoUrl or videoEmbedCode"
	}

	item.Title = r.Title
	item.Description = r.Description
	item.MediaType = r.MediaType
	item.VideoURL = r.VideoURL
	item.VideoEmbedCode = r.VideoEmbedCode
	item.AudioURL = r.AudioURL
	item.Category = r.Category
	item.IsFeatured = r.IsFeatured
	if r.IsPublished != nil {
		item.IsPublished = *r.IsPublished
	}
	item.DisplayOrder = r.DisplayOrder
	return 0, ""
}

func (s *Service) CreateMediaItem(c *gin.Context) {
	var req mediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	item := models.MediaItem{IsPublished: true}
	if status, msg := req.apply(&item); status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	if err := s.db.Create(&item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create media item",
		})
		return
	}

	c.JSON(http.StatusCreated, item)
}

func (s *Service) itemByID(c *gin.Context) (*models.MediaItem, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid media ID",
		})
		return nil, false
	}

	var item models.MediaItem
	if err := s.db.First(&item, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Media item not found",
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch media item",
		})
		return nil, false
	}
	return &item, true
}

func (s *Service) UpdateMediaItem(c *gin.Context) {
	item, ok := s.itemByID(c)
	if !ok {
		return
	}

	var req mediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if status, msg := req.apply(item); status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	if err := s.db.Save(item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update media item",
		})
		return
	}

	c.JSON(http.StatusOK, item)
}

func (s *Service) DeleteMediaItem(c *gin.Context) {
	item, ok := s.itemByID(c)
	if !ok {
		return
	}

	if err := s.db.Delete(item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete media item",
		})
		return
	}
	if item.AudioFilePath != "" {
		s.store.Delete(item.AudioFilePath)
	}
	if item.ThumbnailPath != "" {
		s.store.Delete(item.ThumbnailPath)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Media item deleted",
	})
}

func (s *Service) UploadAudio(c *gin.Context) {
	item, ok := s.itemByID(c)
	if !ok {
		return
	}
	if item.MediaType != models.MediaTypeAudio {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Audio can only be attached to audio items",
		})
		return
	}

	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "audio file is required",
		})
		return
	}

	path, err := s.store.SaveUpload(file, "audio")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store audio",
		})
		return
	}

	if item.AudioFilePath != "" {
		s.store.Delete(item.AudioFilePath)
	}
	if err := s.db.Model(item).Update("audio_file_path", path).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save audio path",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"audioFilePath": path,
	})
}

func (s *Service) UploadThumbnail(c *gin.Context) {
	item, ok := s.itemByID(c)
	if !ok {
		return
	}

	file, err := c.FormFile("thumbnail")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "thumbnail file is required",
		})
		return
	}

	path, err := s.store.SaveUpload(file, "thumbnails")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store thumbnail",
		})
		return
	}

	if item.ThumbnailPath != "" {
		s.store.Delete(item.ThumbnailPath)
	}
	if err := s.db.Model(item).Update("thumbnail_path", path).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save thumbnail path",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thumbnailPath": path,
	})
}
