package config

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config interface {
	EnvConfig
	BotConfig
	CRMConfig
	PollConfig
}

type mainConfig struct {
	EnvVars
	Bot
	CRM
	Poll
}

func New() Config {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using environment variables")
	}
	return mainConfig{}
}
