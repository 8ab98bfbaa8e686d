package main

import (
	"log"

	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := database.SeedData(db); err != nil {
		log.Fatal("Failed to seed data:", err)
	}

	log.Println("Database migration and seeding completed successfully")
}
