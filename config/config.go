package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DB       DBConfig
	Mail     MailConfig
	Schedule ScheduleConfig
	Alert    AlertConfig
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// MailConfig holds both SMTP credential sets. There are no built-in
// fallbacks: Validate rejects a config without credentials.
type MailConfig struct {
	Host string
	Port int

	Username string // meal-style variants
	Password string

	InvoiceUsername string
	InvoicePassword string

	InlineImagePath string // attached inline to meal reminders; optional
}

type ScheduleConfig struct {
	Timezone      string
	LeadTimeHours int    // default lead offset before pickup
	ClampPolicy   string // "send_now" or "defer"
	SweepMinutes  int    // pending sweep interval; 0 disables
	DedupSeconds  int    // duplicate-dispatch window; 0 disables
	StrictParse   bool   // fail rows on unparseable pickup text instead of sentinel
}

type AlertConfig struct {
	Token  string // Telegram bot token for ops alerts; empty disables
	ChatID int64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "pickup"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Mail: MailConfig{
			Host:            getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:            getEnvInt("SMTP_PORT", 587),
			Username:        getEnv("SENDER_EMAIL", ""),
			Password:        getEnv("SENDER_PASSWORD", ""),
			InvoiceUsername: getEnv("INVOICE_SENDER_EMAIL", ""),
			InvoicePassword: getEnv("INVOICE_SENDER_PASSWORD", ""),
			InlineImagePath: getEnv("INLINE_IMAGE_PATH", ""),
		},
		Schedule: ScheduleConfig{
			Timezone:      getEnv("TIMEZONE", "America/Los_Angeles"),
			LeadTimeHours: getEnvInt("LEAD_TIME_HOURS", 4),
			ClampPolicy:   getEnv("CLAMP_POLICY", "send_now"),
			SweepMinutes:  getEnvInt("SWEEP_MINUTES", 0),
			DedupSeconds:  getEnvInt("DEDUP_SECONDS", 30),
			StrictParse:   getEnv("STRICT_PARSE", "") == "1",
		},
		Alert: AlertConfig{
			Token:  getEnv("ALERT_BOT_TOKEN", ""),
			ChatID: int64(getEnvInt("ALERT_CHAT_ID", 0)),
		},
	}, nil
}

// Validate rejects configurations that would otherwise need hardcoded secret
// fallbacks at send time.
func (c *Config) Validate() error {
	if c.Mail.Username == "" || c.Mail.Password == "" {
		return fmt.Errorf("SENDER_EMAIL and SENDER_PASSWORD are required")
	}
	if c.Mail.InvoiceUsername == "" || c.Mail.InvoicePassword == "" {
		return fmt.Errorf("INVOICE_SENDER_EMAIL and INVOICE_SENDER_PASSWORD are required")
	}
	if c.Schedule.LeadTimeHours < 0 {
		return fmt.Errorf("LEAD_TIME_HOURS must not be negative")
	}
	switch c.Schedule.ClampPolicy {
	case "send_now", "defer":
	default:
		return fmt.Errorf("CLAMP_POLICY must be send_now or defer, got %q", c.Schedule.ClampPolicy)
	}
	if c.Alert.Token != "" && c.Alert.ChatID == 0 {
		return fmt.Errorf("ALERT_CHAT_ID is required when ALERT_BOT_TOKEN is set")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
