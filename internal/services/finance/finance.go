package finance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/polyphonica/polyphonica/internal/payment"
	"github.com/polyphonica/polyphonica/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	gateway payment.Gateway
	store   *storage.Local
	config  *config.Config
	logger  zerolog.Logger
}

func NewService(db *gorm.DB, gateway payment.Gateway, store *storage.Local, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		db:      db,
		gateway: gateway,
		store:   store,
		config:  cfg,
		logger:  logger,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	staff := r.Group("/staff/finance", auth.RequireAuth(s.config), auth.RequireStaff())
	staff.GET("/summary", s.TaxYearSummary)
	staff.GET("/concerts/:id", s.ConcertSummary)
	staff.GET("/workshops/:id", s.WorkshopSummary)
	staff.GET("/fees", s.ListFees)
	staff.POST("/fees/sync", s.TriggerFeeSync)

	staff.GET("/expenses", s.ListExpenses)
	staff.POST("/expenses", s.CreateExpense)
	staff.PUT("/expenses/:id", s.UpdateExpense)
	staff.DELETE("/expenses/:id", s.DeleteExpense)
	staff.POST("/expenses/:id/receipt", s.UploadReceipt)
}

// taxYearBounds returns the UK tax year: 6 April of startYear to 5 April of
// the following year, inclusive.
func taxYearBounds(startYear int) (time.Time, time.Time) {
	from := time.Date(startYear, time.April, 6, 0, 0, 0, 0, time.UTC)
	to := time.Date(startYear+1, time.April, 5, 23, 59, 59, 0, time.UTC)
	return from, to
}

// taxYearFor returns the start year of the tax year containing the date.
func taxYearFor(date time.Time) int {
	year := date.Year()
	cutover := time.Date(year, time.April, 6, 0, 0, 0, 0, date.Location())
	if date.Before(cutover) {
		return year - 1
	}
	return year
}

// TaxYearSummary aggregates income, processor fees and expenses for a UK
// tax year. Income is what purchasers paid; fees come from the settled
// balance transactions.
func (s *Service) TaxYearSummary(c *gin.Context) {
	taxYear := taxYearFor(time.Now())
	if param := c.Query("taxYear"); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "taxYear must be a year, e.g. 2025",
			})
			return
		}
		taxYear = parsed
	}
	from, to := taxYearBounds(taxYear)

	var ticketIncome decimal.NullDecimal
	if err := s.db.Model(&models.TicketOrder{}).
		Where("status = ? AND paid_at BETWEEN ? AND ?", models.PaymentPaid, from, to).
		Select("SUM(total_price)").Scan(&ticketIncome).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum ticket income"})
		return
	}

	var workshopIncome decimal.NullDecimal
	if err := s.db.Model(&models.Registration{}).
		Where("status IN ? AND paid_at BETWEEN ? AND ?",
			[]string{models.PaymentPaid, models.PaymentAttended}, from, to).
		Select("SUM(amount_paid)").Scan(&workshopIncome).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum workshop income"})
		return
	}

	var feesPence int64
	if err := s.db.Model(&models.FeeTransaction{}).
		Where("transaction_date BETWEEN ? AND ?", from, to).
		Select("COALESCE(SUM(fee), 0)").Scan(&feesPence).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum fees"})
		return
	}

	type categoryTotal struct {
		Category string
		Total    decimal.Decimal
	}
	var expenseTotals []categoryTotal
	if err := s.db.Model(&models.Expense{}).
		Where("expense_date BETWEEN ? AND ?", from, to).
		Select("category, SUM(amount) AS total").
		Group("category").Scan(&expenseTotals).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum expenses"})
		return
	}

	income := nullDecimal(ticketIncome).Add(nullDecimal(workshopIncome))
	fees := decimal.NewFromInt(feesPence).Div(decimal.NewFromInt(100))

	expensesByCategory := gin.H{}
	totalExpenses := decimal.Zero
	for _, entry := range expenseTotals {
		expensesByCategory[entry.Category] = entry.Total
		totalExpenses = totalExpenses.Add(entry.Total)
	}

	c.JSON(http.StatusOK, gin.H{
		"taxYear":            fmt.Sprintf("%d/%d", taxYear, (taxYear+1)%100),
		"from":               from.Format("2006-01-02"),
		"to":                 to.Format("2006-01-02"),
		"ticketIncome":       nullDecimal(ticketIncome),
		"workshopIncome":     nullDecimal(workshopIncome),
		"totalIncome":        income,
		"processorFees":      fees,
		"expensesByCategory": expensesByCategory,
		"totalExpenses":      totalExpenses,
		"netProfit":          income.Sub(fees).Sub(totalExpenses),
	})
}

func nullDecimal(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

// ConcertSummary is the per-concert profit and loss.
func (s *Service) ConcertSummary(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid concert ID"})
		return
	}

	var concert models.Concert
	if err := s.db.First(&concert, uint(id)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Concert not found"})
		return
	}

	var income decimal.NullDecimal
	if err := s.db.Model(&models.TicketOrder{}).
		Where("concert_id = ? AND status = ?", concert.ID, models.PaymentPaid).
		Select("SUM(total_price)").Scan(&income).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum income"})
		return
	}

	var feesPence int64
	if err := s.db.Model(&models.FeeTransaction{}).
		Joins("JOIN ticket_orders ON ticket_orders.id = fee_transactions.ticket_order_id").
		Where("ticket_orders.concert_id = ?", concert.ID).
		Select("COALESCE(SUM(fee_transactions.fee), 0)").Scan(&feesPence).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum fees"})
		return
	}

	var expenses decimal.NullDecimal
	if err := s.db.Model(&models.Expense{}).
		Where("concert_id = ?", concert.ID).
		Select("SUM(amount)").Scan(&expenses).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum expenses"})
		return
	}

	fees := decimal.NewFromInt(feesPence).Div(decimal.NewFromInt(100))
	c.JSON(http.StatusOK, gin.H{
		"concert":       gin.H{"id": concert.ID, "title": concert.Title, "date": concert.Date.Format("2006-01-02")},
		"ticketsSold":   concert.TicketsSold,
		"income":        nullDecimal(income),
		"processorFees": fees,
		"expenses":      nullDecimal(expenses),
		"net":           nullDecimal(income).Sub(fees).Sub(nullDecimal(expenses)),
	})
}

// WorkshopSummary is the per-workshop profit and loss.
func (s *Service) WorkshopSummary(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workshop ID"})
		return
	}

	var workshop models.Workshop
	if err := s.db.First(&workshop, uint(id)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workshop not found"})
		return
	}

	var income decimal.NullDecimal
	if err := s.db.Model(&models.Registration{}).
		Where("workshop_id = ? AND status IN ?", workshop.ID,
			[]string{models.PaymentPaid, models.PaymentAttended}).
		Select("SUM(amount_paid)").Scan(&income).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum income"})
		return
	}

	var feesPence int64
	if err := s.db.Model(&models.FeeTransaction{}).
		Joins("JOIN registrations ON registrations.id = fee_transactions.registration_id").
		Where("registrations.workshop_id = ?", workshop.ID).
		Select("COALESCE(SUM(fee_transactions.fee), 0)").Scan(&feesPence).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum fees"})
		return
	}

	var expenses decimal.NullDecimal
	if err := s.db.Model(&models.Expense{}).
		Where("workshop_id = ?", workshop.ID).
		Select("SUM(amount)").Scan(&expenses).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum expenses"})
		return
	}

	fees := decimal.NewFromInt(feesPence).Div(decimal.NewFromInt(100))
	c.JSON(http.StatusOK, gin.H{
		"workshop":      gin.H{"id": workshop.ID, "title": workshop.Title, "date": workshop.Date.Format("2006-01-02")},
		"bookings":      workshop.TotalBookings(),
		"income":        nullDecimal(income),
		"processorFees": fees,
		"expenses":      nullDecimal(expenses),
		"net":           nullDecimal(income).Sub(fees).Sub(nullDecimal(expenses)),
	})
}

func (s *Service) ListFees(c *gin.Context) {
	query := s.db.Model(&models.FeeTransaction{})
	if txnType := c.Query("type"); txnType != "" {
		query = query.Where("transaction_type = ?", txnType)
	}
	if from := c.Query("from"); from != "" {
		date, err := time.Parse("2006-01-02", from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
			return
		}
		query = query.Where("transaction_date >= ?", date)
	}
	if to := c.Query("to"); to != "" {
		date, err := time.Parse("2006-01-02", to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
			return
		}
		query = query.Where("transaction_date <= ?", date.Add(24*time.Hour))
	}

	var transactions []models.FeeTransaction
	if err := query.Order("transaction_date DESC").Find(&transactions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch fee transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// TriggerFeeSync runs the fee sync on demand instead of waiting for the
// scheduler tick.
func (s *Service) TriggerFeeSync(c *gin.Context) {
	recorded, err := s.SyncFees(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Fee sync failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recorded": recorded,
	})
}

// SyncFees records a FeeTransaction for every settled payment that lacks
// one. Balance transactions settle a little after payment, so misses just
// retry on the next run.
func (s *Service) SyncFees(ctx context.Context) (int, error) {
	recorded := 0

	var orders []models.TicketOrder
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND stripe_payment_intent_id <> ''", []string{models.PaymentPaid, models.PaymentRefunded}).
		Where("id NOT IN (?)", s.db.Model(&models.FeeTransaction{}).Select("ticket_order_id").Where("ticket_order_id IS NOT NULL")).
		Find(&orders).Error; err != nil {
		return recorded, err
	}
	for i := range orders {
		order := &orders[i]
		breakdown, err := s.gateway.GetFeeBreakdown(ctx, order.StripePaymentIntentID)
		if err != nil {
			s.logger.Warn().Err(err).Str("reference", order.Reference).Msg("fee breakdown not available yet")
			continue
		}
		txn := models.FeeTransaction{
			TransactionType:      models.TransactionConcert,
			TicketOrderID:        &order.ID,
			PaymentIntentID:      order.StripePaymentIntentID,
			ChargeID:             breakdown.ChargeID,
			BalanceTransactionID: breakdown.BalanceTransactionID,
			GrossAmount:          breakdown.Gross,
			Fee:                  breakdown.Fee,
			NetAmount:            breakdown.Net,
			TransactionDate:      breakdown.Date,
		}
		if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
			s.logger.Error().Err(err).Str("reference", order.Reference).Msg("failed to record fee transaction")
			continue
		}
		recorded++
	}

	var registrations []models.Registration
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND stripe_payment_intent_id <> ''",
			[]string{models.PaymentPaid, models.PaymentAttended, models.PaymentRefunded}).
		Where("id NOT IN (?)", s.db.Model(&models.FeeTransaction{}).Select("registration_id").Where("registration_id IS NOT NULL")).
		Find(&registrations).Error; err != nil {
		return recorded, err
	}
	for i := range registrations {
		registration := &registrations[i]
		breakdown, err := s.gateway.GetFeeBreakdown(ctx, registration.StripePaymentIntentID)
		if err != nil {
			s.logger.Warn().Err(err).Str("reference", registration.Reference).Msg("fee breakdown not available yet")
			continue
		}
		txn := models.FeeTransaction{
			TransactionType:      models.TransactionWorkshop,
			RegistrationID:       &registration.ID,
			PaymentIntentID:      registration.StripePaymentIntentID,
			ChargeID:             breakdown.ChargeID,
			BalanceTransactionID: breakdown.BalanceTransactionID,
			GrossAmount:          breakdown.Gross,
			Fee:                  breakdown.Fee,
			NetAmount:            breakdown.Net,
			TransactionDate:      breakdown.Date,
		}
		if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
			s.logger.Error().Err(err).Str("reference", registration.Reference).Msg("failed to record fee transaction")
			continue
		}
		recorded++
	}

	return recorded, nil
}
