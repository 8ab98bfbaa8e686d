package repertoire

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/models"
	"gorm.io/gorm"
)

type programmeRequest struct {
	Title  string `json:"title" binding:"required"`
	Status string `json:"status" binding:"required,oneof=draft final"`
	Notes  string `json:"notes"`
}

func (s *Service) ListProgrammes(c *gin.Context) {
	var programmes []models.Programme
	if err := s.db.Preload("Items").Preload("Items.Piece").
		Order("created_at DESC").Find(&programmes).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch programmes"})
		return
	}

	views := make([]gin.H, 0, len(programmes))
	for i := range programmes {
		p := &programmes[i]
		views = append(views, gin.H{
			"id":            p.ID,
			"title":         p.Title,
			"status":        p.Status,
			"pieceCount":    p.PieceCount(),
			"totalDuration": p.TotalDurationDisplay(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"programmes": views,
		"count":      len(views),
	})
}

func (s *Service) CreateProgramme(c *gin.Context) {
	var req programmeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	programme := models.Programme{
		Title:  req.Title,
		Status: req.Status,
		Notes:  req.Notes,
	}
	if err := s.db.Create(&programme).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create programme"})
		return
	}
	c.JSON(http.StatusCreated, programme)
}

func (s *Service) programmeByID(c *gin.Context) (*models.Programme, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	var programme models.Programme
	err := s.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order(`programme_items."order" ASC`)
	}).Preload("Items.Piece").Preload("Items.Piece.Composer").First(&programme, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Programme not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch programme"})
		return nil, false
	}
	return &programme, true
}

func (s *Service) GetProgramme(c *gin.Context) {
	programme, ok := s.programmeByID(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"programme":     programme,
		"totalDuration": programme.TotalDurationDisplay(),
		"pieceCount":    programme.PieceCount(),
	})
}

func (s *Service) UpdateProgramme(c *gin.Context) {
	programme, ok := s.programmeByID(c)
	if !ok {
		return
	}

	var req programmeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	programme.Title = req.Title
	programme.Status = req.Status
	programme.Notes = req.Notes
	if err := s.db.Save(programme).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update programme"})
		return
	}
	c.JSON(http.StatusOK, programme)
}

func (s *Service) DeleteProgramme(c *gin.Context) {
	programme, ok := s.programmeByID(c)
	if !ok {
		return
	}

	var concerts int64
	if err := s.db.Model(&models.Concert{}).Where("programme_id = ?", programme.ID).Count(&concerts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check concerts"})
		return
	}
	if concerts > 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Programme is attached to a concert; detach it first",
		})
		return
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("programme_id = ?", programme.ID).Delete(&models.ProgrammeItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(programme).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete programme"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Programme deleted"})
}

type programmeItemRequest struct {
	ItemType       string `json:"itemType" binding:"required,oneof=piece talk interval"`
	PieceID        *uint  `json:"pieceId"`
	Title          string `json:"title"`
	Speaker        string `json:"speaker"`
	TalkText       string `json:"talkText"`
	CustomDuration *int   `json:"customDuration"`
	Notes          string `json:"notes"`
}

type replaceItemsRequest struct {
	Items []programmeItemRequest `json:"items" binding:"required"`
}

// ReplaceProgrammeItems sets the running order in one shot. Piece items
// reference the repertoire; talks and intervals carry their own duration.
func (s *Service) ReplaceProgrammeItems(c *gin.Context) {
	programme, ok := s.programmeByID(c)
	if !ok {
		return
	}

	var req replaceItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	for i, item := range req.Items {
		switch item.ItemType {
		case models.ItemTypePiece:
			if item.PieceID == nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("item %d: piece items need a pieceId", i),
				})
				return
			}
		case models.ItemTypeTalk, models.ItemTypeInterval:
			if item.CustomDuration == nil || *item.CustomDuration <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("item %d: talks and intervals need a customDuration", i),
				})
				return
			}
		}
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("programme_id = ?", programme.ID).Delete(&models.ProgrammeItem{}).Error; err != nil {
			return err
		}
		for i, item := range req.Items {
			record := models.ProgrammeItem{
				ProgrammeID:    programme.ID,
				Order:          i,
				ItemType:       item.ItemType,
				PieceID:        item.PieceID,
				Title:          item.Title,
				Speaker:        item.Speaker,
				TalkText:       item.TalkText,
				CustomDuration: item.CustomDuration,
				Notes:          item.Notes,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save programme items"})
		return
	}

	programme, _ = s.programmeByID(c)
	if programme == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"programme":     programme,
		"totalDuration": programme.TotalDurationDisplay(),
	})
}
