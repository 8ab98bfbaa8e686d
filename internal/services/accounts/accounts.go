package accounts

import (
	"errors"
	"net/http"
	"strings"

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
	r.POST("/accounts/register", s.Register)
	r.POST("/accounts/login", s.Login)

	authed := r.Group("/accounts", auth.RequireAuth(s.config))
	authed.GET("/me", s.Me)
	authed.PUT("/me", s.UpdateProfile)
	authed.PUT("/password", s.ChangePassword)
}

type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Username  string `json:"username" binding:"required,min=3"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (s *Service) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)

	var count int64
	if err := s.db.Model(&models.User{}).
		Where("email = ? OR username = ?", email, username).
		Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check account",
		})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error": "An account with that email or username already exists",
		})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create account",
		})
		return
	}

	user := models.User{
		Email:        email,
		Username:     username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
	}
	if err := s.db.Create(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create account",
		})
		return
	}

	token, err := auth.GenerateToken(s.config, user.ID, user.Email, user.IsStaff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	s.logger.Info().Str("email", user.Email).Msg("account created")
	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"user":  user,
	})
}

type loginRequest struct {
	// Email address or username.
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

func (s *Service) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	var user models.User
	err := s.db.First(&user, "email = ? OR username = ?", strings.ToLower(identifier), identifier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch account",
		})
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
		return
	}

	token, err := auth.GenerateToken(s.config, user.ID, user.Email, user.IsStaff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

func (s *Service) currentUser(c *gin.Context) (*models.User, bool) {
	claims := auth.ClaimsFromContext(c)

	var user models.User
	if err := s.db.First(&user, claims.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Account not found",
		})
		return nil, false
	}
	return &user, true
}

func (s *Service) Me(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

type profileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (s *Service) UpdateProfile(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if err := s.db.Model(user).Updates(map[string]interface{}{
		"first_name": req.FirstName,
		"last_name":  req.LastName,
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update profile",
		})
		return
	}

	c.JSON(http.StatusOK, user)
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8"`
}

func (s *Service) ChangePassword(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Current password is incorrect",
		})
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update password",
		})
		return
	}

	if err := s.db.Model(user).Update("password_hash", hash).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update password",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Password updated",
	})
}
