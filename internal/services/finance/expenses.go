package finance

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type expenseRequest struct {
	Category    string          `json:"category" binding:"required,oneof=venue_hire refreshments other"`
	Description string          `json:"description" binding:"required"`
	Notes       string          `json:"notes"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	ExpenseDate string          `json:"expenseDate" binding:"required"` // "2006-01-02"
	WorkshopID  *uint           `json:"workshopId"`
	ConcertID   *uint           `json:"concertId"`
}

func (r *expenseRequest) apply(expense *models.Expense) (int, string) {
	date, err := time.Parse("2006-01-02", r.ExpenseDate)
	if err != nil {
		return http.StatusBadRequest, "expenseDate must be YYYY-MM-DD"
	}
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		return http.StatusBadRequest, "amount must be positive"
	}

	expense.Category = r.Category
	expense.Description = r.Description
	expense.Notes = r.Notes
	expense.Amount = r.Amount
	expense.ExpenseDate = date
	expense.WorkshopID = r.WorkshopID
	expense.ConcertID = r.ConcertID

	if err := expense.Validate(); err != nil {
		return http.StatusBadRequest, err.Error()
	}
	return 0, ""
}

func (s *Service) ListExpenses(c *gin.Context) {
	query := s.db.Model(&models.Expense{})
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if workshopID := c.Query("workshopId"); workshopID != "" {
		query = query.Where("workshop_id = ?", workshopID)
	}
	if concertID := c.Query("concertId"); concertID != "" {
		query = query.Where("concert_id = ?", concertID)
	}
	if taxYear := c.Query("taxYear"); taxYear != "" {
		year, err := strconv.Atoi(taxYear)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "taxYear must be a year, e.g. 2025"})
			return
		}
		from, to := taxYearBounds(year)
		query = query.Where("expense_date BETWEEN ? AND ?", from, to)
	}

	var expenses []models.Expense
	if err := query.Order("expense_date DESC").Find(&expenses).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch expenses"})
		return
	}

	total := decimal.Zero
	for i := range expenses {
		total = total.Add(expenses[i].Amount)
	}

	c.JSON(http.StatusOK, gin.H{
		"expenses": expenses,
		"count":    len(expenses),
		"total":    total,
	})
}

func (s *Service) CreateExpense(c *gin.Context) {
	var req expenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var expense models.Expense
	if status, msg := req.apply(&expense); status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	claims := auth.ClaimsFromContext(c)
	expense.CreatedByID = &claims.UserID

	if err := s.db.Create(&expense).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create expense"})
		return
	}

	c.JSON(http.StatusCreated, expense)
}

func (s *Service) expenseByID(c *gin.Context) (*models.Expense, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expense ID"})
		return nil, false
	}

	var expense models.Expense
	if err := s.db.First(&expense, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Expense not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch expense"})
		return nil, false
	}
	return &expense, true
}

func (s *Service) UpdateExpense(c *gin.Context) {
	expense, ok := s.expenseByID(c)
	if !ok {
		return
	}

	var req expenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if status, msg := req.apply(expense); status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	if err := s.db.Save(expense).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update expense"})
		return
	}

	c.JSON(http.StatusOK, expense)
}

func (s *Service) DeleteExpense(c *gin.Context) {
	expense, ok := s.expenseByID(c)
	if !ok {
		return
	}

	if err := s.db.Delete(expense).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete expense"})
		return
	}
	if expense.ReceiptPath != "" {
		s.store.Delete(expense.ReceiptPath)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Expense deleted"})
}

func (s *Service) UploadReceipt(c *gin.Context) {
	expense, ok := s.expenseByID(c)
	if !ok {
		return
	}

	file, err := c.FormFile("receipt")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receipt file is required"})
		return
	}

	path, err := s.store.SaveUpload(file, "receipts")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store receipt"})
		return
	}

	if expense.ReceiptPath != "" {
		s.store.Delete(expense.ReceiptPath)
	}
	if err := s.db.Model(expense).Update("receipt_path", path).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save receipt path"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receiptPath": path,
	})
}
