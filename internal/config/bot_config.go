package config

type BotConfig interface {
	GetBotAPIURL() string
	GetBotAPIKey() string
	GetBotID() string
}

type Bot struct{}

var _ BotConfig = Bot{}

func (Bot) GetBotAPIURL() string {
	return GetEnv("BOT_API_URL", "https://getcody.ai/api/v1")
}

func (Bot) GetBotAPIKey() string {
	return GetEnv("BOT_API_KEY", "")
}

func (Bot) GetBotID() string {
	return GetEnv("BOT_ID", "")
}
