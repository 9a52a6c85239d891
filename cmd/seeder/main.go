package main

import (
	"os"

	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/db"
	"github.com/unclebandit/wacampaign-backend/internal/logging"
)

func main() {
	logger := logging.New("wacampaign-seeder")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	seedFiles := []string{
		"seed/schema.sql",
		"seed/contacts.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Fatal().Err(err).Str("file", file).Msg("failed to read seed file")
		}
		if _, err := conn.Exec(string(content)); err != nil {
			logger.Fatal().Err(err).Str("file", file).Msg("failed to execute seed file")
		}
		logger.Info().Str("file", file).Msg("seeded")
	}

	logger.Info().Msg("database seeding completed")
}
