package about

import (
	"errors"
	"net/http"
	"strconv"

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
	r.GET("/about", s.GetAbout)

	staff := r.Group("/staff/about", auth.RequireAuth(s.config), auth.RequireStaff())
	staff.PUT("/trio", s.UpdateTrioInfo)
	staff.POST("/trio/image", s.UploadHeroImage)
	staff.GET("/players", s.ListAllPlayers)
	staff.POST("/players", s.CreatePlayer)
	staff.PUT("/players/:id", s.UpdatePlayer)
	staff.DELETE("/players/:id", s.DeletePlayer)
	staff.POST("/players/:id/photo", s.UploadPlayerPhoto)
}

// GetAbout returns the ensemble description and the active player bios.
func (s *Service) GetAbout(c *gin.Context) {
	var info models.TrioInfo
	if err := s.db.First(&info).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch ensemble info",
		})
		return
	}

	var players []models.PlayerBio
	if err := s.db.Where("is_active = ?", true).
		Order("display_order ASC, name ASC").Find(&players).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch players",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trio":    info,
		"players": players,
	})
}

type trioInfoRequest struct {
	Name        string `json:"name" binding:"required"`
	Tagline     string `json:"tagline"`
	Description string `json:"description" binding:"required"`
	History     string `json:"history"`
}

// UpdateTrioInfo edits the single ensemble record, creating it on first use.
func (s *Service) UpdateTrioInfo(c *gin.Context) {
	var req trioInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var info models.TrioInfo
	err := s.db.First(&info).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch ensemble info",
		})
		return
	}

	info.Name = req.Name
	info.Tagline = req.Tagline
	info.Description = req.Description
	info.History = req.History

	if err := s.db.Save(&info).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save ensemble info",
		})
		return
	}

	c.JSON(http.StatusOK, info)
}

func (s *Service) UploadHeroImage(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "image file is required",
		})
		return
	}

	var info models.TrioInfo
	if err := s.db.First(&info).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Ensemble info not set up yet",
		})
		return
	}

	path, err := s.store.SaveUpload(file, "about")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store image",
		})
		return
	}

	if info.HeroImagePath != "" {
		s.store.Delete(info.HeroImagePath)
	}
	if err := s.db.Model(&info).Update("hero_image_path", path).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save image path",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"heroImagePath": path,
	})
}

func (s *Service) ListAllPlayers(c *gin.Context) {
	var players []models.PlayerBio
	if err := s.db.Order("display_order ASC, name ASC").Find(&players).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch players",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"count":   len(players),
	})
}

type playerRequest struct {
	Name         string `json:"name" binding:"required"`
	Role         string `json:"role"`
	Bio          string `json:"bio" binding:"required"`
	Website      string `json:"website"`
	DisplayOrder int    `json:"displayOrder"`
	IsActive     *bool  `json:"isActive"`
}

func (r *playerRequest) apply(player *models.PlayerBio) {
	player.Name = r.Name
	player.Role = r.Role
	player.Bio = r.Bio
	player.Website = r.Website
	player.DisplayOrder = r.DisplayOrder
	if r.IsActive != nil {
		player.IsActive = *r.IsActive
	}
}

func (s *Service) CreatePlayer(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	player := models.PlayerBio{IsActive: true}
	req.apply(&player)

	if err := s.db.Create(&player).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create player",
		})
		return
	}

	c.JSON(http.StatusCreated, player)
}

func (s *Service) playerByID(c *gin.Context) (*models.PlayerBio, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid player ID",
		})
		return nil, false
	}

	var player models.PlayerBio
	if err := s.db.First(&player, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Player not found",
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch player",
		})
		return nil, false
	}
	return &player, true
}

func (s *Service) UpdatePlayer(c *gin.Context) {
	player, ok := s.playerByID(c)
	if !ok {
		return
	}

	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	req.apply(player)
	if err := s.db.Save(player).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update player",
		})
		return
	}

	c.JSON(http.StatusOK, player)
}

func (s *Service) DeletePlayer(c *gin.Context) {
	player, ok := s.playerByID(c)
	if !ok {
		return
	}

	if err := s.db.Delete(player).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete player",
		})
		return
	}
	if player.PhotoPath != "" {
		s.store.Delete(player.PhotoPath)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Player deleted",
	})
}

func (s *Service) UploadPlayerPhoto(c *gin.Context) {
	player, ok := s.playerByID(c)
	if !ok {
		return
	}

	file, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "photo file is required",
		})
		return
	}

	path, err := s.store.SaveUpload(file, "players")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store photo",
		})
		return
	}

	if player.PhotoPath != "" {
		s.store.Delete(player.PhotoPath)
	}
	if err := s.db.Model(player).Update("photo_path", path).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save photo path",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"photoPath": path,
	})
}
