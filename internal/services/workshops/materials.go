package workshops

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/models"
	"gorm.io/gorm"
)

// participantWorkshop loads the workshop and checks the caller may access
// its materials: staff always, otherwise an active registration is required.
func (s *Service) participantWorkshop(c *gin.Context) (*models.Workshop, bool) {
	claims := auth.ClaimsFromContext(c)

	var workshop models.Workshop
	err := s.db.First(&workshop, "slug = ? AND status <> ?", c.Param("slug"), models.StatusDraft).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Workshop not found",
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch workshop",
		})
		return nil, false
	}

	if claims.IsStaff {
		return &workshop, true
	}

	var count int64
	err = s.db.Model(&models.Registration{}).
		Where("workshop_id = ? AND user_id = ? AND status IN ?", workshop.ID, claims.UserID, models.ActiveRegistrationStatuses).
		Count(&count).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check registration",
		})
		return nil, false
	}
	if count == 0 {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Materials are only available to registered participants",
		})
		return nil, false
	}

	return &workshop, true
}

func (s *Service) ListMaterials(c *gin.Context) {
	workshop, ok := s.participantWorkshop(c)
	if !ok {
		return
	}

	var materials []models.WorkshopMaterial
	if err := s.db.Where("workshop_id = ?", workshop.ID).
		Order("created_at ASC").Find(&materials).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch materials",
		})
		return
	}

	now := time.Now()
	views := make([]gin.H, 0, len(materials))
	for i := range materials {
		m := &materials[i]
		views = append(views, gin.H{
			"id":          m.ID,
			"title":       m.Title,
			"description": m.Description,
			"available":   m.AvailableOn(now, workshop.Date),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"materials": views,
		"count":     len(views),
	})
}

func (s *Service) DownloadMaterial(c *gin.Context) {
	workshop, ok := s.participantWorkshop(c)
	if !ok {
		return
	}

	materialID, err := strconv.ParseUint(c.Param("materialId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid material ID",
		})
		return
	}

	var material models.WorkshopMaterial
	if err := s.db.First(&material, "id = ? AND workshop_id = ?", uint(materialID), workshop.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Material not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch material",
		})
		return
	}

	claims := auth.ClaimsFromContext(c)
	if !claims.IsStaff && !material.AvailableOn(time.Now(), workshop.Date) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "This material is not available at the moment",
		})
		return
	}

	fullPath, err := s.store.FullPath(material.FilePath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to locate file",
		})
		return
	}

	c.FileAttachment(fullPath, path.Base(material.FilePath))
}
