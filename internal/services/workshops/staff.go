package workshops

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type workshopRequest struct {
	Title            string `json:"title" binding:"required"`
	Slug             string `json:"slug"`
	Description      string `json:"description"`
	ShortDescription string `json:"shortDescription"`

	Date      string `json:"date" binding:"required"` // "2006-01-02"
	StartTime string `json:"startTime" binding:"required"`
	EndTime   string `json:"endTime" binding:"required"`

	DeliveryMethod string `json:"deliveryMethod" binding:"required,oneof=online in_person hybrid"`

	VenueName     string `json:"venueName"`
	VenueAddress  string `json:"venueAddress"`
	VenuePostcode string `json:"venuePostcode"`
	VenueMapLink  string `json:"venueMapLink"`

	MeetingLink     string `json:"meetingLink"`
	MeetingPassword string `json:"meetingPassword"`

	Prerequisites   string `json:"prerequisites"`
	MaterialsNeeded string `json:"materialsNeeded"`

	Price decimal.Decimal `json:"price"`

	MaxParticipants  int  `json:"maxParticipants" binding:"required,min=1"`
	LegacyBookings   int  `json:"legacyBookings"`
	HideAvailability bool `json:"hideAvailability"`

	Status string `json:"status" binding:"required,oneof=draft published cancelled"`
}

func (r *workshopRequest) apply(workshop *models.Workshop) (int, string) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return http.StatusBadRequest, "date must be YYYY-MM-DD"
	}
	if _, err := time.Parse("15:04", r.StartTime); err != nil {
		return http.StatusBadRequest, "startTime must be HH:MM"
	}
	if _, err := time.Parse("15:04", r.EndTime); err != nil {
		return http.StatusBadRequest, "endTime must be HH:MM"
	}
	if r.Price.IsNegative() {
		return http.StatusBadRequest, "price cannot be negative"
	}
	if r.LegacyBookings < 0 {
		return http.StatusBadRequest, "legacyBookings cannot be negative"
	}

	workshop.Title = r.Title
	workshop.Slug = r.Slug
	workshop.Description = r.Description
	workshop.ShortDescription = r.ShortDescription
	workshop.Date = date
	workshop.StartTime = r.StartTime
	workshop.EndTime = r.EndTime
	workshop.DeliveryMethod = r.DeliveryMethod
	workshop.VenueName = r.VenueName
	workshop.VenueAddress = r.VenueAddress
	workshop.VenuePostcode = r.VenuePostcode
	workshop.VenueMapLink = r.VenueMapLink
	workshop.MeetingLink = r.MeetingLink
	workshop.MeetingPassword = r.MeetingPassword
	workshop.Prerequisites = r.Prerequisites
	workshop.MaterialsNeeded = r.MaterialsNeeded
	workshop.Price = r.Price
	workshop.MaxParticipants = r.MaxParticipants
	workshop.LegacyBookings = r.LegacyBookings
	workshop.HideAvailability = r.HideAvailability
	workshop.Status = r.Status
	workshop.ComputeDuration()
	return 0, ""
}

func (s *Service) StaffListWorkshops(c *gin.Context) {
	var workshops []models.Workshop
	if err := s.db.Order("date DESC").Find(&workshops).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch workshops",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workshops": workshops,
		"count":     len(workshops),
	})
}

func (s *Service) CreateWorkshop(c *gin.Context) {
	var req workshopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var workshop models.Workshop
	if status, msg := req.apply(&workshop); status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	slug, err := models.EnsureSlug(s.db, &models.Workshop{}, workshop.Slug, workshop.Title, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate slug",
		})
		return
	}
	workshop.Slug = slug

	if err := s.db.Create(&workshop).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create workshop",
		})
		return
	}

	c.JSON(http.StatusCreated, workshop)
}

func (s *Service) staffByID(c *gin.Context) (*models.Workshop, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid workshop ID",
		})
		return nil, false
	}

	var workshop models.Workshop
	if err := s.db.Preload("Materials").First(&workshop, uint(id)).Error; err != nil {
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
	return &workshop, true
}

func (s *Service) StaffGetWorkshop(c *gin.Context) {
	workshop, ok := s.staffByID(c)
	if !ok {
		return
	}

	// Staff view includes the joining details the public view hides.
	c.JSON(http.StatusOK, gin.H{
		"workshop":        workshop,
		"meetingLink":     workshop.MeetingLink,
		"meetingPassword": workshop.MeetingPassword,
	})
}

func (s *Service) UpdateWorkshop(c *gin.Context) {
	workshop, ok := s.staffByID(c)
	if !ok {
		return
	}

	var req workshopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if status, msg := req.apply(workshop); status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}
	if req.MaxParticipants < workshop.TotalBookings() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "maxParticipants cannot be below the current number of bookings",
		})
		return
	}

	slug, err := models.EnsureSlug(s.db, &models.Workshop{}, workshop.Slug, workshop.Title, workshop.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate slug",
		})
		return
	}
	workshop.Slug = slug

	if err := s.db.Save(workshop).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update workshop",
		})
		return
	}

	c.JSON(http.StatusOK, workshop)
}

func (s *Service) DeleteWorkshop(c *gin.Context) {
	workshop, ok := s.staffByID(c)
	if !ok {
		return
	}

	var active int64
	if err := s.db.Model(&models.Registration{}).
		Where("workshop_id = ? AND status IN ?", workshop.ID, models.ActiveRegistrationStatuses).
		Count(&active).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check registrations",
		})
		return
	}
	if active > 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Workshop has registered participants; cancel it instead of deleting",
		})
		return
	}

	if err := s.db.Delete(workshop).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete workshop",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Workshop deleted",
	})
}

func (s *Service) UploadImage(c *gin.Context) {
	workshop, ok := s.staffByID(c)
	if !ok {
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "image file is required",
		})
		return
	}

	path, err := s.store.SaveUpload(file, "workshops")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store image",
		})
		return
	}

	if workshop.ImagePath != "" {
		s.store.Delete(workshop.ImagePath)
	}
	if err := s.db.Model(workshop).Update("image_path", path).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save image path",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imagePath": path,
	})
}

// ListRegistrations is the attendee sheet for a workshop.
func (s *Service) ListRegistrations(c *gin.Context) {
	workshop, ok := s.staffByID(c)
	if !ok {
		return
	}

	var registrations []models.Registration
	if err := s.db.Preload("User").
		Where("workshop_id = ?", workshop.ID).
		Order("created_at ASC").Find(&registrations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch registrations",
		})
		return
	}

	active := 0
	for i := range registrations {
		for _, status := range models.ActiveRegistrationStatuses {
			if registrations[i].Status == status {
				active++
				break
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"registrations":   registrations,
		"count":           len(registrations),
		"activeCount":     active,
		"legacyBookings":  workshop.LegacyBookings,
		"placesRemaining": workshop.PlacesRemaining(),
	})
}

func (s *Service) MarkAttended(c *gin.Context) {
	workshop, ok := s.staffByID(c)
	if !ok {
		return
	}

	registrationID, err := strconv.ParseUint(c.Param("registrationId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid registration ID",
		})
		return
	}

	var registration models.Registration
	if err := s.db.First(&registration, "id = ? AND workshop_id = ?", uint(registrationID), workshop.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Registration not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch registration",
		})
		return
	}

	if registration.Status != models.PaymentPaid {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Only paid registrations can be marked attended",
		})
		return
	}

	if err := s.db.Model(&registration).Update("status", models.PaymentAttended).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update registration",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference": registration.Reference,
		"status":    models.PaymentAttended,
	})
}

func (s *Service) UploadMaterial(c *gin.Context) {
	workshop, ok := s.staffByID(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file is required",
		})
		return
	}
	title := c.PostForm("title")
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "title is required",
		})
		return
	}

	path, err := s.store.SaveUpload(file, "materials")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store file",
		})
		return
	}

	material := models.WorkshopMaterial{
		WorkshopID:      workshop.ID,
		Title:           title,
		Description:     c.PostForm("description"),
		FilePath:        path,
		AvailableBefore: c.DefaultPostForm("availableBefore", "true") == "true",
		AvailableAfter:  c.DefaultPostForm("availableAfter", "true") == "true",
	}
	if err := s.db.Create(&material).Error; err != nil {
		s.store.Delete(path)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save material",
		})
		return
	}

	c.JSON(http.StatusCreated, material)
}

func (s *Service) DeleteMaterial(c *gin.Context) {
	workshop, ok := s.staffByID(c)
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

	if err := s.db.Delete(&material).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete material",
		})
		return
	}
	s.store.Delete(material.FilePath)

	c.JSON(http.StatusOK, gin.H{
		"message": "Material deleted",
	})
}

func (s *Service) ListTerms(c *gin.Context) {
	var terms []models.TermsVersion
	if err := s.db.Order("version DESC").Find(&terms).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch terms",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"terms": terms,
		"count": len(terms),
	})
}

type termsRequest struct {
	Content       string `json:"content" binding:"required"`
	EffectiveDate string `json:"effectiveDate" binding:"required"` // "2006-01-02"
}

// CreateTerms publishes a new current terms version. Registrations made
// against earlier versions keep the version they accepted.
func (s *Service) CreateTerms(c *gin.Context) {
	var req termsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	effectiveDate, err := time.Parse("2006-01-02", req.EffectiveDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "effectiveDate must be YYYY-MM-DD",
		})
		return
	}

	var terms models.TermsVersion
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var maxVersion int64
		row := tx.Model(&models.TermsVersion{}).Select("COALESCE(MAX(version), 0)").Row()
		if err := row.Scan(&maxVersion); err != nil {
			return err
		}

		if err := tx.Model(&models.TermsVersion{}).Where("is_current = ?", true).
			Update("is_current", false).Error; err != nil {
			return err
		}

		terms = models.TermsVersion{
			Version:       int(maxVersion) + 1,
			Content:       req.Content,
			EffectiveDate: effectiveDate,
			IsCurrent:     true,
		}
		return tx.Create(&terms).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create terms version",
		})
		return
	}

	c.JSON(http.StatusCreated, terms)
}
