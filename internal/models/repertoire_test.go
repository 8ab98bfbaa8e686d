package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestComposerDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		composer Composer
		want     string
	}{
		{
			"both years",
			Composer{Name: "Johann Sebastian Bach", BirthYear: intPtr(1685), DeathYear: intPtr(1750)},
			"Johann Sebastian Bach (1685–1750)",
		},
		{
			"circa birth",
			Composer{Name: "John Dunstable", BirthYearQualifier: YearQualifierCirca, BirthYear: intPtr(1390), DeathYear: intPtr(1453)},
			"John Dunstable (c.1390–1453)",
		},
		{
			"death qualifier",
			Composer{Name: "Thomas Preston", BirthYear: intPtr(1500), DeathYearQualifier: YearQualifierAfter, DeathYear: intPtr(1559)},
			"Thomas Preston (1500–after 1559)",
		},
		{
			"living composer",
			Composer{Name: "Sally Beamish", BirthYear: intPtr(1956)},
			"Sally Beamish (b. 1956)",
		},
		{
			"no dates",
			Composer{Name: "Anonymous"},
			"Anonymous",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.composer.DisplayName())
		})
	}
}

func TestComposerDatesRange(t *testing.T) {
	assert.Equal(t, "1685–1750",
		(&Composer{BirthYear: intPtr(1685), DeathYear: intPtr(1750)}).DatesRange())
	assert.Equal(t, "1956",
		(&Composer{BirthYear: intPtr(1956)}).DatesRange())
	assert.Equal(t, "",
		(&Composer{}).DatesRange())
}

func TestFormatMinutes(t *testing.T) {
	assert.Equal(t, "45m", formatMinutes(45))
	assert.Equal(t, "1h", formatMinutes(60))
	assert.Equal(t, "1h 5m", formatMinutes(65))
	assert.Equal(t, "2h 30m", formatMinutes(150))
	assert.Equal(t, "0m", formatMinutes(0))
}

func TestProgrammeItemDuration(t *testing.T) {
	piece := &Piece{DurationMinutes: 12}

	pieceItem := ProgrammeItem{ItemType: ItemTypePiece, Piece: piece}
	assert.Equal(t, 12, pieceItem.Duration())

	interval := ProgrammeItem{ItemType: ItemTypeInterval, CustomDuration: intPtr(20)}
	assert.Equal(t, 20, interval.Duration())

	// A piece item without its piece loaded contributes nothing.
	unloaded := ProgrammeItem{ItemType: ItemTypePiece, PieceID: intPtrUint(1)}
	assert.Equal(t, 0, unloaded.Duration())
}

func intPtrUint(v uint) *uint { return &v }

func TestProgrammeTotals(t *testing.T) {
	programme := Programme{
		Title: "An Evening of Fantasias",
		Items: []ProgrammeItem{
			{ItemType: ItemTypePiece, Piece: &Piece{DurationMinutes: 25}},
			{ItemType: ItemTypeTalk, CustomDuration: intPtr(10)},
			{ItemType: ItemTypeInterval, CustomDuration: intPtr(20)},
			{ItemType: ItemTypePiece, Piece: &Piece{DurationMinutes: 30}},
		},
	}

	assert.Equal(t, 85, programme.TotalDuration())
	assert.Equal(t, "1h 25m", programme.TotalDurationDisplay())
	assert.Equal(t, 2, programme.PieceCount())
}

func TestPieceDurationDisplay(t *testing.T) {
	assert.Equal(t, "1h 10m", (&Piece{DurationMinutes: 70}).DurationDisplay())
	assert.Equal(t, "8m", (&Piece{DurationMinutes: 8}).DurationDisplay())
}
