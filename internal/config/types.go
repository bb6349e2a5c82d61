package config

import "time"

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	VK        VKConfig        `json:"vk,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dialog    DialogConfig    `json:"dialog,omitempty"`
}

// Env carries secrets and deployment overrides that should not live in the
// config file. Applied on top of the parsed file by Load().
type Env struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	VKToken       string `env:"VK_TOKEN"`
	VKGroupID     int64  `env:"VK_GROUP_ID"`
	DBPath        string `env:"DB_PATH"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendRatePerSec caps outbound messages; 0 uses the default (20/s).
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

// VKConfig configures the VK wall-posting platform.
// If Token is empty the VK platform is disabled and only Telegram
// destinations are offered.
type VKConfig struct {
	Token   string `json:"token,omitempty"`
	GroupID int64  `json:"group_id,omitempty"`
	// APIBase overrides the VK API endpoint (tests only).
	APIBase string `json:"api_base,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the publish loop.
//
// All durations are Go duration strings (e.g. "30s", "1m").
type SchedulerConfig struct {
	// Tick is the fixed polling interval for due entries. Default "30s".
	Tick string `json:"tick,omitempty"`
}

// DialogConfig controls the conversation state machine.
type DialogConfig struct {
	// DefaultTZOffset is a signed HH:MM offset applied to users who never
	// ran /tz. Default "+00:00".
	DefaultTZOffset string `json:"default_tz_offset,omitempty"`
	// SessionTTL expires abandoned sessions. Default "30m", "0s" disables.
	SessionTTL string `json:"session_ttl,omitempty"`
}

// Defaults used when the corresponding config fields are omitted.
const (
	DefaultTick        = 30 * time.Second
	DefaultSessionTTL  = 30 * time.Minute
	DefaultPollTimeout = 10 * time.Second
	DefaultTZOffset    = "+00:00"
)
