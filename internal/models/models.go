package models

import (
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Statuses shared by concerts and workshops.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusCancelled = "cancelled"
)

// Ticket sources for concerts.
const (
	TicketSourceInternal = "internal" // sold through this site's checkout
	TicketSourceExternal = "external" // third-party ticket link
	TicketSourceDoor     = "door"     // available on the door
	TicketSourceNone     = "none"     // free entry or private
)

// Order / registration payment statuses.
const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentAttended  = "attended" // workshop registrations only
	PaymentCancelled = "cancelled"
	PaymentRefunded  = "refunded"
	PaymentExpired   = "expired" // checkout window elapsed without payment
)

// Ticket types for concert orders.
const (
	TicketTypeFull     = "full"
	TicketTypeDiscount = "discount"
)

// Workshop delivery methods.
const (
	DeliveryOnline   = "online"
	DeliveryInPerson = "in_person"
	DeliveryHybrid   = "hybrid"
)

type User struct {
	gorm.Model
	Email        string `gorm:"not null;uniqueIndex" json:"email"`
	Username     string `gorm:"not null;uniqueIndex" json:"username"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	PasswordHash string `gorm:"not null" json:"-"`
	IsStaff      bool   `gorm:"not null;default:false" json:"isStaff"`
}

func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Username
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Concert struct {
	gorm.Model
	Title       string `gorm:"not null" json:"title"`
	Slug        string `gorm:"not null;uniqueIndex" json:"slug"`
	Description string `json:"description"`

	Date      time.Time `gorm:"type:date;not null;index" json:"date"`
	StartTime string    `gorm:"not null" json:"startTime"` // "19:30"
	DoorsOpen string    `json:"doorsOpen,omitempty"`

	VenueName     string `json:"venueName"`
	VenueAddress  string `json:"venueAddress"`
	VenuePostcode string `json:"venuePostcode"`
	VenueMapLink  string `json:"venueMapLink"`

	ImagePath string `json:"imagePath,omitempty"`

	ProgrammeID *uint      `json:"programmeId,omitempty"`
	Programme   *Programme `gorm:"foreignKey:ProgrammeID" json:"programme,omitempty"`

	TicketSource      string `gorm:"not null;default:'external'" json:"ticketSource"`
	ExternalTicketURL string `json:"externalTicketUrl,omitempty"`

	FullPrice     decimal.Decimal `gorm:"type:numeric(8,2);not null" json:"fullPrice"`
	DiscountPrice decimal.Decimal `gorm:"type:numeric(8,2);not null" json:"discountPrice"`
	DiscountLabel string          `gorm:"default:'Concessions (seniors, students, disabled)'" json:"discountLabel"`

	Capacity    *int `json:"capacity,omitempty"` // nil means unlimited
	TicketsSold int  `gorm:"not null;default:0" json:"ticketsSold"`

	Status string `gorm:"not null;default:'draft';index" json:"status"`
}

// IsPast reports whether the concert date is before today.
func (c *Concert) IsPast(now time.Time) bool {
	return c.Date.Before(startOfDay(now))
}

// IsSoldOut is only meaningful for internal ticket sales with a capacity.
func (c *Concert) IsSoldOut() bool {
	if c.TicketSource != TicketSourceInternal || c.Capacity == nil {
		return false
	}
	return c.TicketsSold >= *c.Capacity
}

// TicketsRemaining returns nil when unlimited or not sold internally.
func (c *Concert) TicketsRemaining() *int {
	if c.TicketSource != TicketSourceInternal || c.Capacity == nil {
		return nil
	}
	remaining := *c.Capacity - c.TicketsSold
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// UnitPrice returns the price for the given ticket type.
func (c *Concert) UnitPrice(ticketType string) decimal.Decimal {
	if ticketType == TicketTypeDiscount {
		return c.DiscountPrice
	}
	return c.FullPrice
}

// TicketOrder is a guest ticket order for a concert. No account is required;
// the purchaser is identified by email.
type TicketOrder struct {
	gorm.Model
	ConcertID uint     `gorm:"not null;index" json:"concertId"`
	Concert   *Concert `gorm:"foreignKey:ConcertID" json:"concert,omitempty"`

	Reference string `gorm:"not null;uniqueIndex" json:"reference"`

	Email string `gorm:"not null" json:"email"`
	Name  string `gorm:"not null" json:"name"`
	Phone string `json:"phone,omitempty"`

	TicketType string          `gorm:"not null" json:"ticketType"`
	Quantity   int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:numeric(8,2);not null" json:"unitPrice"`
	TotalPrice decimal.Decimal `gorm:"type:numeric(8,2);not null" json:"totalPrice"`

	Status                  string     `gorm:"not null;default:'pending';index" json:"status"`
	StripeCheckoutSessionID string     `gorm:"index" json:"-"`
	StripePaymentIntentID   string     `json:"-"`
	PaidAt                  *time.Time `json:"paidAt,omitempty"`

	ConfirmationSent bool `gorm:"not null;default:false" json:"confirmationSent"`
}

type Workshop struct {
	gorm.Model
	Title            string `gorm:"not null" json:"title"`
	Slug             string `gorm:"not null;uniqueIndex" json:"slug"`
	Description      string `json:"description"`
	ShortDescription string `json:"shortDescription,omitempty"`

	Date      time.Time `gorm:"type:date;not null;index" json:"date"`
	StartTime string    `gorm:"not null" json:"startTime"` // "10:00"
	EndTime   string    `gorm:"not null" json:"endTime"`

	DurationHours decimal.Decimal `gorm:"type:numeric(4,1)" json:"durationHours"`

	DeliveryMethod string `gorm:"not null;default:'in_person'" json:"deliveryMethod"`

	VenueName     string `json:"venueName,omitempty"`
	VenueAddress  string `json:"venueAddress,omitempty"`
	VenuePostcode string `json:"venuePostcode,omitempty"`
	VenueMapLink  string `json:"venueMapLink,omitempty"`

	// Only shown to registered participants.
	MeetingLink     string `json:"-"`
	MeetingPassword string `json:"-"`

	Prerequisites   string `json:"prerequisites,omitempty"`
	MaterialsNeeded string `json:"materialsNeeded,omitempty"`

	ImagePath string `json:"imagePath,omitempty"`

	Price decimal.Decimal `gorm:"type:numeric(8,2);not null" json:"price"`

	MaxParticipants      int  `gorm:"not null;default:20" json:"maxParticipants"`
	CurrentRegistrations int  `gorm:"not null;default:0" json:"currentRegistrations"`
	LegacyBookings       int  `gorm:"not null;default:0" json:"legacyBookings"`
	HideAvailability     bool `gorm:"not null;default:false" json:"hideAvailability"`

	Status string `gorm:"not null;default:'draft';index" json:"status"`

	Materials []WorkshopMaterial `gorm:"foreignKey:WorkshopID" json:"materials,omitempty"`
}

func (w *Workshop) TotalBookings() int {
	return w.CurrentRegistrations + w.LegacyBookings
}

func (w *Workshop) IsFull() bool {
	return w.TotalBookings() >= w.MaxParticipants
}

func (w *Workshop) PlacesRemaining() int {
	remaining := w.MaxParticipants - w.TotalBookings()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (w *Workshop) IsOnline() bool {
	return w.DeliveryMethod == DeliveryOnline || w.DeliveryMethod == DeliveryHybrid
}

func (w *Workshop) IsInPerson() bool {
	return w.DeliveryMethod == DeliveryInPerson || w.DeliveryMethod == DeliveryHybrid
}

func (w *Workshop) IsPast(now time.Time) bool {
	return w.Date.Before(startOfDay(now))
}

// ComputeDuration derives DurationHours from the start and end times,
// rounded to the nearest half hour. Workshops crossing midnight wrap.
func (w *Workshop) ComputeDuration() {
	start, err1 := time.Parse("15:04", w.StartTime)
	end, err2 := time.Parse("15:04", w.EndTime)
	if err1 != nil || err2 != nil {
		return
	}
	if end.Before(start) {
		end = end.Add(24 * time.Hour)
	}
	hours := end.Sub(start).Hours()
	halves := decimal.NewFromFloat(hours).Mul(decimal.NewFromInt(2)).Round(0)
	w.DurationHours = halves.Div(decimal.NewFromInt(2))
}

// Registration is a workshop registration. Unlike concert orders it is tied
// to a user account.
type Registration struct {
	gorm.Model
	WorkshopID uint      `gorm:"not null;index:idx_workshop_user,unique" json:"workshopId"`
	Workshop   *Workshop `gorm:"foreignKey:WorkshopID" json:"workshop,omitempty"`
	UserID     uint      `gorm:"not null;index:idx_workshop_user,unique" json:"userId"`
	User       *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Reference string `gorm:"not null;uniqueIndex" json:"reference"`

	Status string `gorm:"not null;default:'pending';index" json:"status"`

	Phone               string `json:"phone,omitempty"`
	SpecialRequirements string `json:"specialRequirements,omitempty"`
	EmergencyContact    string `json:"emergencyContact,omitempty"`
	Instruments         string `json:"instruments,omitempty"`

	AmountPaid              decimal.Decimal `gorm:"type:numeric(8,2);not null;default:0" json:"amountPaid"`
	StripeCheckoutSessionID string          `gorm:"index" json:"-"`
	StripePaymentIntentID   string          `json:"-"`
	PaidAt                  *time.Time      `json:"paidAt,omitempty"`

	TermsVersion    int        `gorm:"not null" json:"termsVersion"`
	TermsAcceptedAt *time.Time `json:"termsAcceptedAt,omitempty"`

	ConfirmationSent bool `gorm:"not null;default:false" json:"confirmationSent"`
}

// ActiveRegistrationStatuses occupy a workshop place.
var ActiveRegistrationStatuses = []string{PaymentPaid, PaymentAttended}

// TermsVersion is a versioned set of workshop terms and conditions.
// Exactly one version is current at a time.
type TermsVersion struct {
	gorm.Model
	Version       int       `gorm:"not null;uniqueIndex" json:"version"`
	Content       string    `gorm:"not null" json:"content"`
	EffectiveDate time.Time `gorm:"type:date;not null" json:"effectiveDate"`
	IsCurrent     bool      `gorm:"not null;default:false;index" json:"isCurrent"`
}

// WorkshopMaterial is a downloadable file for workshop participants,
// access-gated by registration status and the before/after window.
type WorkshopMaterial struct {
	gorm.Model
	WorkshopID  uint   `gorm:"not null;index" json:"workshopId"`
	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description,omitempty"`
	FilePath    string `gorm:"not null" json:"-"`

	AvailableBefore bool `gorm:"not null;default:true" json:"availableBefore"`
	AvailableAfter  bool `gorm:"not null;default:true" json:"availableAfter"`
}

// AvailableOn reports whether the material may be downloaded on the given
// day relative to the workshop date.
func (m *WorkshopMaterial) AvailableOn(now, workshopDate time.Time) bool {
	if startOfDay(now).Before(startOfDay(workshopDate)) {
		return m.AvailableBefore
	}
	return m.AvailableAfter
}

// EnsureSlug fills in a unique slug derived from title, appending a counter
// on collision. Existing slugs are kept.
func EnsureSlug(db *gorm.DB, model interface{}, currentSlug, title string, id uint) (string, error) {
	if currentSlug != "" {
		return currentSlug, nil
	}
	base := slug.Make(title)
	candidate := base
	for counter := 1; ; counter++ {
		var count int64
		query := db.Model(model).Where("slug = ?", candidate)
		if id != 0 {
			query = query.Where("id <> ?", id)
		}
		if err := query.Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysUntil returns whole days from today until the given date.
func DaysUntil(now, date time.Time) int {
	return int(startOfDay(date).Sub(startOfDay(now)).Hours() / 24)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Concert{},
		&TicketOrder{},
		&Workshop{},
		&Registration{},
		&TermsVersion{},
		&WorkshopMaterial{},
		&TrioInfo{},
		&PlayerBio{},
		&MediaItem{},
		&Composer{},
		&Piece{},
		&Movement{},
		&Programme{},
		&ProgrammeItem{},
		&FeeTransaction{},
		&Expense{},
	)
}
