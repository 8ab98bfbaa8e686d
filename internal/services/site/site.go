package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/mailer"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/polyphonica/polyphonica/internal/monitoring"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const turnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

type Service struct {
	db     *gorm.DB
	mail   mailer.Mailer
	config *config.Config
	logger zerolog.Logger
	client *http.Client
}

func NewService(db *gorm.DB, mail mailer.Mailer, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		mail:   mail,
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	r.GET("/", s.Home)
	r.POST("/contact", s.Contact)
	r.GET("/robots.txt", s.Robots)
	r.GET("/sitemap.xml", s.Sitemap)
	r.GET("/health", s.HealthCheck)

	staff := r.Group("/staff", auth.RequireAuth(s.config), auth.RequireStaff())
	staff.GET("/dashboard", s.Dashboard)
}

// Home aggregates the landing page: the next concerts, upcoming workshops
// and featured media.
func (s *Service) Home(c *gin.Context) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var info models.TrioInfo
	s.db.First(&info)

	var concerts []models.Concert
	if err := s.db.Where("status = ? AND date >= ?", models.StatusPublished, today).
		Order("date ASC").Limit(3).Find(&concerts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load home page"})
		return
	}

	var workshops []models.Workshop
	if err := s.db.Where("status = ? AND date >= ?", models.StatusPublished, today).
		Order("date ASC").Limit(3).Find(&workshops).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load home page"})
		return
	}

	var featured []models.MediaItem
	if err := s.db.Where("is_published = ? AND is_featured = ?", true, true).
		Order("display_order ASC").Limit(4).Find(&featured).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load home page"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trio":              info,
		"upcomingConcerts":  concerts,
		"upcomingWorkshops": workshops,
		"featuredMedia":     featured,
	})
}

type contactRequest struct {
	Name           string `json:"name" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	Subject        string `json:"subject" binding:"required"`
	Message        string `json:"message" binding:"required"`
	TurnstileToken string `json:"turnstileToken"`
}

// Contact forwards the contact form to the ensemble inbox, behind a
// Turnstile challenge when one is configured.
func (s *Service) Contact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if s.config.TurnstileSecretKey != "" {
		ok, err := s.verifyTurnstile(c.Request.Context(), req.TurnstileToken, c.ClientIP())
		if err != nil {
			s.logger.Error().Err(err).Msg("turnstile verification failed")
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "Could not verify the challenge, please try again",
			})
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Challenge verification failed",
			})
			return
		}
	}

	msg := mailer.ContactMessage(s.config.ContactEmail, req.Name, req.Email, req.Subject, req.Message)
	if err := s.mail.Send(msg); err != nil {
		s.logger.Error().Err(err).Msg("failed to send contact email")
		monitoring.EmailsSent.WithLabelValues("contact", "error").Inc()
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to send your message, please try again later",
		})
		return
	}
	monitoring.EmailsSent.WithLabelValues("contact", "ok").Inc()

	c.JSON(http.StatusOK, gin.H{
		"message": "Thank you, we will be in touch",
	})
}

func (s *Service) verifyTurnstile(ctx context.Context, token, remoteIP string) (bool, error) {
	form := url.Values{
		"secret":   {s.config.TurnstileSecretKey},
		"response": {token},
		"remoteip": {remoteIP},
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, turnstileVerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := s.client.Do(request)
	if err != nil {
		return false, err
	}
	defer response.Body.Close()

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return false, err
	}
	return result.Success, nil
}

func (s *Service) Robots(c *gin.Context) {
	c.String(http.StatusOK, "User-agent: *\nDisallow: /staff/\nDisallow: /accounts/\nSitemap: %s/sitemap.xml\n", s.config.BaseURL)
}

// Sitemap lists the static pages plus every published concert and workshop.
func (s *Service) Sitemap(c *gin.Context) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` + "\n")

	writeURL := func(path string) {
		fmt.Fprintf(&b, "  <url><loc>%s%s</loc></url>\n", s.config.BaseURL, path)
	}

	for _, path := range []string{"", "/about", "/concerts", "/workshops", "/media", "/repertoire"} {
		writeURL(path)
	}

	var concerts []models.Concert
	s.db.Select("slug").Where("status = ?", models.StatusPublished).Find(&concerts)
	for i := range concerts {
		writeURL("/concerts/" + concerts[i].Slug)
	}

	var workshops []models.Workshop
	s.db.Select("slug").Where("status = ?", models.StatusPublished).Find(&workshops)
	for i := range workshops {
		writeURL("/workshops/" + workshops[i].Slug)
	}

	b.WriteString("</urlset>\n")
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(b.String()))
}

// Dashboard is the staff landing view: headline numbers across the site.
func (s *Service) Dashboard(c *gin.Context) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var upcomingConcerts, upcomingWorkshops, pendingOrders, users int64
	s.db.Model(&models.Concert{}).Where("status = ? AND date >= ?", models.StatusPublished, today).Count(&upcomingConcerts)
	s.db.Model(&models.Workshop{}).Where("status = ? AND date >= ?", models.StatusPublished, today).Count(&upcomingWorkshops)
	s.db.Model(&models.TicketOrder{}).Where("status = ?", models.PaymentPending).Count(&pendingOrders)
	s.db.Model(&models.User{}).Count(&users)

	var recentOrders []models.TicketOrder
	s.db.Preload("Concert").Where("status = ?", models.PaymentPaid).
		Order("created_at DESC").Limit(10).Find(&recentOrders)

	var recentRegistrations []models.Registration
	s.db.Preload("Workshop").Preload("User").
		Where("status IN ?", []string{models.PaymentPaid, models.PaymentAttended}).
		Order("created_at DESC").Limit(10).Find(&recentRegistrations)

	c.JSON(http.StatusOK, gin.H{
		"upcomingConcerts":    upcomingConcerts,
		"upcomingWorkshops":   upcomingWorkshops,
		"pendingOrders":       pendingOrders,
		"accounts":            users,
		"recentOrders":        recentOrders,
		"recentRegistrations": recentRegistrations,
	})
}

func (s *Service) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "polyphonica",
	})
}
