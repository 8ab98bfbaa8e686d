package database

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/models"
	"gorm.io/gorm"
)

// SeedData migrates the schema and inserts the records the site cannot run
// without: a staff account, an initial terms version and the ensemble info.
// Safe to run repeatedly.
func SeedData(db *gorm.DB) error {
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := seedStaffUser(db); err != nil {
		return err
	}
	if err := seedTerms(db); err != nil {
		return err
	}
	return seedTrioInfo(db)
}

func seedStaffUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Where("is_staff = ?", true).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return errors.New("set ADMIN_EMAIL and ADMIN_PASSWORD to seed the first staff account")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	return db.Create(&models.User{
		Email:        email,
		Username:     "admin",
		PasswordHash: hash,
		IsStaff:      true,
	}).Error
}

func seedTerms(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.TermsVersion{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return db.Create(&models.TermsVersion{
		Version:       1,
		Content:       "Workshop places are confirmed on payment. Cancellations made at least seven days before the workshop receive a full refund; later cancellations are not refundable. Places are not transferable.",
		EffectiveDate: time.Now(),
		IsCurrent:     true,
	}).Error
}

func seedTrioInfo(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.TrioInfo{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return db.Create(&models.TrioInfo{
		Name:        "Polyphonica Recorder Trio",
		Description: "A recorder trio performing early and contemporary music.",
	}).Error
}
