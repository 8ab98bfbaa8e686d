package concerts

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

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

type concertRequest struct {
	Title       string `json:"title" binding:"required"`
	Slug        string `json:"slug"`
	Description string `json:"description"`

	Date      string `json:"date" binding:"required"` // "2006-01-02"
	StartTime string `json:"startTime" binding:"required"`
	DoorsOpen string `json:"doorsOpen"`

	VenueName     string `json:"venueName"`
	VenueAddress  string `json:"venueAddress"`
	VenuePostcode string `json:"venuePostcode"`
	VenueMapLink  string `json:"venueMapLink"`

	ProgrammeID *uint `json:"programmeId"`

	TicketSource      string `json:"ticketSource" binding:"required,oneof=internal external door none"`
	ExternalTicketURL string `json:"externalTicketUrl"`

	FullPrice     decimal.Decimal `json:"fullPrice"`
	DiscountPrice decimal.Decimal `json:"discountPrice"`
	DiscountLabel string          `json:"discountLabel"`

	Capacity *int `json:"capacity"`

	Status string `json:"status" binding:"required,oneof=draft published cancelled"`
}

func (r *concertRequest) apply(concert *models.Concert) (int, string) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return http.StatusBadRequest, "date must be YYYY-MM-DD"
	}
	if _, err := time.Parse("15:04", r.StartTime); err != nil {
		return http.StatusBadRequest, "startTime must be HH:MM"
	}
	if r.TicketSource == models.TicketSourceInternal && r.FullPrice.LessThanOrEqual(decimal.Zero) {
		return http.StatusBadRequest, "fullPrice is required for internal ticketing"
	}
	if r.TicketSource == models.TicketSourceExternal && r.ExternalTicketURL == "" {
		return http.StatusBadRequest, "externalTicketUrl is required for external ticketing"
	}

	concert.Title = r.Title
	concert.Slug = r.Slug
	concert.Description = r.Description
	concert.Date = date
	concert.StartTime = r.StartTime
	concert.DoorsOpen = r.DoorsOpen
	concert.VenueName = r.VenueName
	concert.VenueAddress = r.VenueAddress
	concert.VenuePostcode = r.VenuePostcode
	concert.VenueMapLink = r.VenueMapLink
	concert.ProgrammeID = r.ProgrammeID
	concert.TicketSource = r.TicketSource
	concert.ExternalTicketURL = r.ExternalTicketURL
	concert.FullPrice = r.FullPrice
	concert.DiscountPrice = r.DiscountPrice
	if r.DiscountLabel != "" {
		concert.DiscountLabel = r.DiscountLabel
	}
	concert.Capacity = r.Capacity
	concert.Status = r.Status
	return 0, ""
}

func (s *Service) StaffListConcerts(c *gin.Context) {
	var concerts []models.Concert
	if err := s.db.Order("date DESC").Find(&concerts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch concerts",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"concerts": concerts,
		"count":    len(concerts),
	})
}

func (s *Service) CreateConcert(c *gin.Context) {
	var req concertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var concert models.Concert
	if status, msg := req.apply(&concert); status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	slug, err := models.EnsureSlug(s.db, &models.Concert{}, concert.Slug, concert.Title, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate slug",
		})
		return
	}
	concert.Slug = slug

	if err := s.db.Create(&concert).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create concert",
		})
		return
	}

	c.JSON(http.StatusCreated, concert)
}

func (s *Service) staffByID(c *gin.Context) (*models.Concert, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid concert ID",
		})
		return nil, false
	}

	var concert models.Concert
	if err := s.db.Preload("Programme").First(&concert, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Concert not found",
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch concert",
		})
		return nil, false
	}
	return &concert, true
}

func (s *Service) StaffGetConcert(c *gin.Context) {
	concert, ok := s.staffByID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, concert)
}

func (s *Service) UpdateConcert(c *gin.Context) {
	concert, ok := s.staffByID(c)
	if !ok {
		return
	}

	var req concertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if status, msg := req.apply(concert); status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	slug, err := models.EnsureSlug(s.db, &models.Concert{}, concert.Slug, concert.Title, concert.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate slug",
		})
		return
	}
	concert.Slug = slug

	if err := s.db.Save(concert).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update concert",
		})
		return
	}

	c.JSON(http.StatusOK, concert)
}

// DeleteConcert refuses once tickets have been sold; cancel instead so
// purchasers keep their orders.
func (s *Service) DeleteConcert(c *gin.Context) {
	concert, ok := s.staffByID(c)
	if !ok {
		return
	}

	var sold int64
	if err := s.db.Model(&models.TicketOrder{}).
		Where("concert_id = ? AND status IN ?", concert.ID, []string{models.PaymentPaid, models.PaymentRefunded}).
		Count(&sold).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check orders",
		})
		return
	}
	if sold > 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Concert has orders; cancel it instead of deleting",
		})
		return
	}

	if err := s.db.Delete(concert).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete concert",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Concert deleted",
	})
}

func (s *Service) UploadImage(c *gin.Context) {
	concert, ok := s.staffByID(c)
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

	path, err := s.store.SaveUpload(file, "concerts")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store image",
		})
		return
	}

	if concert.ImagePath != "" {
		s.store.Delete(concert.ImagePath)
	}
	if err := s.db.Model(concert).Update("image_path", path).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save image path",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imagePath": path,
	})
}

func (s *Service) ListOrders(c *gin.Context) {
	concert, ok := s.staffByID(c)
	if !ok {
		return
	}

	var orders []models.TicketOrder
	if err := s.db.Where("concert_id = ?", concert.ID).
		Order("created_at DESC").Find(&orders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch orders",
		})
		return
	}

	ticketsPaid := 0
	for i := range orders {
		if orders[i].Status == models.PaymentPaid {
			ticketsPaid += orders[i].Quantity
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"orders":      orders,
		"count":       len(orders),
		"ticketsPaid": ticketsPaid,
	})
}
