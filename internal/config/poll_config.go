package config

import "time"

type PollConfig interface {
	GetPollInterval() time.Duration
}

type Poll struct{}

var _ PollConfig = Poll{}

func (Poll) GetPollInterval() time.Duration {
	return GetEnvDuration("POLL_INTERVAL_SECONDS", 30*time.Second)
}
