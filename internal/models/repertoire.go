package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Year qualifiers for composer dates ("c.", "after", "before").
const (
	YearQualifierCirca  = "c."
	YearQualifierAfter  = "after"
	YearQualifierBefore = "before"
)

type Composer struct {
	gorm.Model
	Name                string `gorm:"not null" json:"name"`
	BirthYearQualifier  string `json:"birthYearQualifier,omitempty"`
	BirthYear           *int   `json:"birthYear,omitempty"`
	DeathYearQualifier  string `json:"deathYearQualifier,omitempty"`
	DeathYear           *int   `json:"deathYear,omitempty"`
	Nationality         string `json:"nationality,omitempty"`
	Bio                 string `json:"bio,omitempty"` // for programme notes

	Pieces []Piece `gorm:"foreignKey:ComposerID" json:"pieces,omitempty"`
}

func formatYear(qualifier string, year *int) string {
	if year == nil {
		return ""
	}
	switch qualifier {
	case "":
		return fmt.Sprintf("%d", *year)
	case YearQualifierCirca: // "c." binds to the year without a space
		return fmt.Sprintf("%s%d", qualifier, *year)
	default:
		return fmt.Sprintf("%s %d", qualifier, *year)
	}
}

// DisplayName is the composer's name with dates, e.g. "J. S. Bach (1685–1750)".
func (c *Composer) DisplayName() string {
	birth := formatYear(c.BirthYearQualifier, c.BirthYear)
	death := formatYear(c.DeathYearQualifier, c.DeathYear)
	switch {
	case birth != "" && death != "":
		return fmt.Sprintf("%s (%s–%s)", c.Name, birth, death)
	case birth != "":
		return fmt.Sprintf("%s (b. %s)", c.Name, birth)
	default:
		return c.Name
	}
}

// DatesRange is the bare date range for list display.
func (c *Composer) DatesRange() string {
	birth := formatYear(c.BirthYearQualifier, c.BirthYear)
	death := formatYear(c.DeathYearQualifier, c.DeathYear)
	switch {
	case birth != "" && death != "":
		return fmt.Sprintf("%s–%s", birth, death)
	default:
		return birth
	}
}

type Piece struct {
	gorm.Model
	Title      string   `gorm:"not null" json:"title"`
	ComposerID uint     `gorm:"not null;index" json:"composerId"`
	Composer   *Composer `gorm:"foreignKey:ComposerID" json:"composer,omitempty"`

	DurationMinutes int    `gorm:"not null" json:"durationMinutes"`
	CatalogueNumber string `json:"catalogueNumber,omitempty"` // e.g. "BWV 1079"
	Instrumentation string `json:"instrumentation,omitempty"` // e.g. "Alto, Tenor, Bass"
	Notes           string `json:"notes,omitempty"`

	Movements []Movement `gorm:"foreignKey:PieceID" json:"movements,omitempty"`
}

// DurationDisplay formats minutes as "1h 5m" / "45m".
func (p *Piece) DurationDisplay() string {
	return formatMinutes(p.DurationMinutes)
}

type Movement struct {
	gorm.Model
	PieceID uint   `gorm:"not null;index" json:"pieceId"`
	Order   int    `gorm:"not null;default:0" json:"order"`
	Name    string `gorm:"not null" json:"name"` // e.g. "I. Allegro"
}

// Programme statuses.
const (
	ProgrammeDraft = "draft"
	ProgrammeFinal = "final"
)

// Programme is a concert programme: an ordered collection of pieces, talks
// and intervals.
type Programme struct {
	gorm.Model
	Title  string `gorm:"not null" json:"title"`
	Status string `gorm:"not null;default:'draft'" json:"status"`
	Notes  string `json:"notes,omitempty"`

	Items []ProgrammeItem `gorm:"foreignKey:ProgrammeID" json:"items,omitempty"`
}

// TotalDuration sums piece durations and custom durations across loaded items.
func (p *Programme) TotalDuration() int {
	total := 0
	for _, item := range p.Items {
		total += item.Duration()
	}
	return total
}

func (p *Programme) TotalDurationDisplay() string {
	return formatMinutes(p.TotalDuration())
}

// PieceCount counts piece items, excluding talks and intervals.
func (p *Programme) PieceCount() int {
	count := 0
	for _, item := range p.Items {
		if item.ItemType == ItemTypePiece {
			count++
		}
	}
	return count
}

// Programme item types.
const (
	ItemTypePiece    = "piece"
	ItemTypeTalk     = "talk"
	ItemTypeInterval = "interval"
)

type ProgrammeItem struct {
	gorm.Model
	ProgrammeID uint   `gorm:"not null;index" json:"programmeId"`
	Order       int    `gorm:"not null;default:0" json:"order"`
	ItemType    string `gorm:"not null;default:'piece'" json:"itemType"`

	// Piece items.
	PieceID *uint  `json:"pieceId,omitempty"`
	Piece   *Piece `gorm:"foreignKey:PieceID" json:"piece,omitempty"`

	// Talk / interval items.
	Title    string `json:"title,omitempty"`
	Speaker  string `json:"speaker,omitempty"`
	TalkText string `json:"talkText,omitempty"`

	// Pieces use their own duration; talks and intervals set this.
	CustomDuration *int `json:"customDuration,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// Duration in minutes for this item.
func (i *ProgrammeItem) Duration() int {
	if i.ItemType == ItemTypePiece && i.Piece != nil {
		return i.Piece.DurationMinutes
	}
	if i.CustomDuration != nil {
		return *i.CustomDuration
	}
	return 0
}

func formatMinutes(total int) string {
	if total >= 60 {
		hours := total / 60
		mins := total % 60
		if mins != 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", total)
}
