package repertoire

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	config *config.Config
	logger zerolog.Logger
}

func NewService(db *gorm.DB, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	r.GET("/repertoire", s.ListRepertoire)

	staff := r.Group("/staff/repertoire", auth.RequireAuth(s.config), auth.RequireStaff())
	staff.GET("/composers", s.ListComposers)
	staff.POST("/composers", s.CreateComposer)
	staff.PUT("/composers/:id", s.UpdateComposer)
	staff.DELETE("/composers/:id", s.DeleteComposer)

	staff.GET("/pieces", s.ListPieces)
	staff.POST("/pieces", s.CreatePiece)
	staff.PUT("/pieces/:id", s.UpdatePiece)
	staff.DELETE("/pieces/:id", s.DeletePiece)

	staff.GET("/programmes", s.ListProgrammes)
	staff.POST("/programmes", s.CreateProgramme)
	staff.GET("/programmes/:id", s.GetProgramme)
	staff.PUT("/programmes/:id", s.UpdateProgramme)
	staff.DELETE("/programmes/:id", s.DeleteProgramme)
	staff.PUT("/programmes/:id/items", s.ReplaceProgrammeItems)
}

// ListRepertoire is the public repertoire page: pieces grouped by composer.
func (s *Service) ListRepertoire(c *gin.Context) {
	var composers []models.Composer
	if err := s.db.Preload("Pieces", func(db *gorm.DB) *gorm.DB {
		return db.Order("pieces.title ASC")
	}).Preload("Pieces.Movements", func(db *gorm.DB) *gorm.DB {
		return db.Order(`movements."order" ASC`)
	}).Order("name ASC").Find(&composers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch repertoire",
		})
		return
	}

	views := make([]gin.H, 0, len(composers))
	for i := range composers {
		composer := &composers[i]
		if len(composer.Pieces) == 0 {
			continue
		}
		pieces := make([]gin.H, 0, len(composer.Pieces))
		for j := range composer.Pieces {
			piece := &composer.Pieces[j]
			pieces = append(pieces, gin.H{
				"title":           piece.Title,
				"catalogueNumber": piece.CatalogueNumber,
				"instrumentation": piece.Instrumentation,
				"duration":        piece.DurationDisplay(),
				"movements":       piece.Movements,
			})
		}
		views = append(views, gin.H{
			"composer": composer.DisplayName(),
			"dates":    composer.DatesRange(),
			"pieces":   pieces,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"repertoire": views,
	})
}

type composerRequest struct {
	Name               string `json:"name" binding:"required"`
	BirthYearQualifier string `json:"birthYearQualifier"`
	BirthYear          *int   `json:"birthYear"`
	DeathYearQualifier string `json:"deathYearQualifier"`
	DeathYear          *int   `json:"deathYear"`
	Nationality        string `json:"nationality"`
	Bio                string `json:"bio"`
}

func (r *composerRequest) apply(composer *models.Composer) {
	composer.Name = r.Name
	composer.BirthYearQualifier = r.BirthYearQualifier
	composer.BirthYear = r.BirthYear
	composer.DeathYearQualifier = r.DeathYearQualifier
	composer.DeathYear = r.DeathYear
	composer.Nationality = r.Nationality
	composer.Bio = r.Bio
}

func (s *Service) ListComposers(c *gin.Context) {
	var composers []models.Composer
	if err := s.db.Order("name ASC").Find(&composers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch composers",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"composers": composers,
		"count":     len(composers),
	})
}

func (s *Service) CreateComposer(c *gin.Context) {
	var req composerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var composer models.Composer
	req.apply(&composer)
	if err := s.db.Create(&composer).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create composer",
		})
		return
	}
	c.JSON(http.StatusCreated, composer)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid ID",
		})
		return 0, false
	}
	return uint(id), true
}

func (s *Service) UpdateComposer(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var composer models.Composer
	if err := s.db.First(&composer, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Composer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch composer"})
		return
	}

	var req composerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	req.apply(&composer)
	if err := s.db.Save(&composer).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update composer"})
		return
	}
	c.JSON(http.StatusOK, composer)
}

func (s *Service) DeleteComposer(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var pieces int64
	if err := s.db.Model(&models.Piece{}).Where("composer_id = ?", id).Count(&pieces).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check pieces"})
		return
	}
	if pieces > 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Composer has pieces; delete or reassign them first",
		})
		return
	}

	if err := s.db.Delete(&models.Composer{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete composer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Composer deleted"})
}

type pieceRequest struct {
	Title           string   `json:"title" binding:"required"`
	ComposerID      uint     `json:"composerId" binding:"required"`
	DurationMinutes int      `json:"durationMinutes" binding:"required,min=1"`
	CatalogueNumber string   `json:"catalogueNumber"`
	Instrumentation string   `json:"instrumentation"`
	Notes           string   `json:"notes"`
	Movements       []string `json:"movements"`
}

func (s *Service) ListPieces(c *gin.Context) {
	var pieces []models.Piece
	if err := s.db.Preload("Composer").Preload("Movements", func(db *gorm.DB) *gorm.DB {
		return db.Order(`movements."order" ASC`)
	}).Order("title ASC").Find(&pieces).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch pieces"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pieces": pieces,
		"count":  len(pieces),
	})
}

func (s *Service) CreatePiece(c *gin.Context) {
	var req pieceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var composerCount int64
	if err := s.db.Model(&models.Composer{}).Where("id = ?", req.ComposerID).Count(&composerCount).Error; err != nil || composerCount == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown composer"})
		return
	}

	piece := models.Piece{
		Title:           req.Title,
		ComposerID:      req.ComposerID,
		DurationMinutes: req.DurationMinutes,
		CatalogueNumber: req.CatalogueNumber,
		Instrumentation: req.Instrumentation,
		Notes:           req.Notes,
	}
	for i, name := range req.Movements {
		piece.Movements = append(piece.Movements, models.Movement{Order: i, Name: name})
	}

	if err := s.db.Create(&piece).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create piece"})
		return
	}
	c.JSON(http.StatusCreated, piece)
}

func (s *Service) UpdatePiece(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var piece models.Piece
	if err := s.db.First(&piece, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Piece not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch piece"})
		return
	}

	var req pieceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		piece.Title = req.Title
		piece.ComposerID = req.ComposerID
		piece.DurationMinutes = req.DurationMinutes
		piece.CatalogueNumber = req.CatalogueNumber
		piece.Instrumentation = req.Instrumentation
		piece.Notes = req.Notes
		if err := tx.Save(&piece).Error; err != nil {
			return err
		}

		// Movements are replaced wholesale.
		if err := tx.Unscoped().Where("piece_id = ?", piece.ID).Delete(&models.Movement{}).Error; err != nil {
			return err
		}
		for i, name := range req.Movements {
			movement := models.Movement{PieceID: piece.ID, Order: i, Name: name}
			if err := tx.Create(&movement).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update piece"})
		return
	}

	s.db.Preload("Movements").First(&piece, piece.ID)
	c.JSON(http.StatusOK, piece)
}

func (s *Service) DeletePiece(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var used int64
	if err := s.db.Model(&models.ProgrammeItem{}).Where("piece_id = ?", id).Count(&used).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check programmes"})
		return
	}
	if used > 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Piece is used in a programme; remove it there first",
		})
		return
	}

	if err := s.db.Delete(&models.Piece{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete piece"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Piece deleted"})
}
