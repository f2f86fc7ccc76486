package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nyaruka/phonenumbers"
	"github.com/spf13/viper"
)

// FeatureToggles are the environment-level defaults for moderation and
// automation switches. Per-room values live in GroupSettings.
type FeatureToggles struct {
	Anticall    bool
	Antidelete  bool
	Antilink    bool
	Antispam    bool
	Antimention bool
	Antitag     bool
	Antidemote  bool
	Antipromote bool
	AutoStatus  bool
	AutoReact   bool
	AutoWrite   bool
}

type BotConfig struct {
	Prefix    string
	Owner     string
	OwnerName string
	BotName   string

	SessionDir  string
	DatabaseURL string

	SettingsBackend string
	SettingsFile    string
	RedisURL        string
	MongoURL        string

	Port string

	Features          FeatureToggles
	AntilinkThreshold int
	AntispamThreshold int

	ReconnectDelay       time.Duration
	ReconnectMaxAttempts int
	PairingDelay         time.Duration
	PairingTimeout       time.Duration
	PairingBrand         string

	SendInterval   time.Duration
	SendRetryAfter time.Duration

	PermissionFailClosed bool

	LogLevel   string
	WALogLevel string
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("bot_prefix", "!")
	v.SetDefault("bot_owner", "")
	v.SetDefault("bot_owner_name", "User")
	v.SetDefault("bot_name", "Verse Bot")
	v.SetDefault("session_dir", "session")
	v.SetDefault("database_url", "")
	v.SetDefault("settings_backend", "auto")
	v.SetDefault("settings_file", "data/db.json")
	v.SetDefault("redis_url", "")
	v.SetDefault("mongo_url", "")
	v.SetDefault("port", "3000")

	for _, k := range []string{"anticall", "antidelete", "antilink", "antispam", "antimention", "antitag", "antidemote", "antipromote"} {
		v.SetDefault(k, true)
	}
	for _, k := range []string{"autostatus", "autoreact", "autowrite"} {
		v.SetDefault(k, false)
	}
	v.SetDefault("antilink_threshold", 3)
	v.SetDefault("antispam_threshold", 3)

	v.SetDefault("reconnect_delay", 3*time.Second)
	v.SetDefault("reconnect_max_attempts", 0)
	v.SetDefault("pairing_delay", 3*time.Second)
	v.SetDefault("pairing_timeout", 60*time.Second)
	v.SetDefault("pairing_brand", "Chrome (Linux)")
	v.SetDefault("send_interval", 2*time.Second)
	v.SetDefault("send_retry_after", 10*time.Second)
	v.SetDefault("permission_fail_closed", false)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("wa_log_level", "ERROR")
}

// loadConfig reads envFile (if it exists) into the process environment and
// then resolves every setting from the environment.
func loadConfig(envFile string) (*BotConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setConfigDefaults(v)

	cfg := &BotConfig{
		Prefix:          v.GetString("bot_prefix"),
		OwnerName:       v.GetString("bot_owner_name"),
		BotName:         v.GetString("bot_name"),
		SessionDir:      v.GetString("session_dir"),
		DatabaseURL:     v.GetString("database_url"),
		SettingsBackend: strings.ToLower(v.GetString("settings_backend")),
		SettingsFile:    v.GetString("settings_file"),
		RedisURL:        v.GetString("redis_url"),
		MongoURL:        v.GetString("mongo_url"),
		Port:            v.GetString("port"),
		Features: FeatureToggles{
			Anticall:    v.GetBool("anticall"),
			Antidelete:  v.GetBool("antidelete"),
			Antilink:    v.GetBool("antilink"),
			Antispam:    v.GetBool("antispam"),
			Antimention: v.GetBool("antimention"),
			Antitag:     v.GetBool("antitag"),
			Antidemote:  v.GetBool("antidemote"),
			Antipromote: v.GetBool("antipromote"),
			AutoStatus:  v.GetBool("autostatus"),
			AutoReact:   v.GetBool("autoreact"),
			AutoWrite:   v.GetBool("autowrite"),
		},
		AntilinkThreshold:    v.GetInt("antilink_threshold"),
		AntispamThreshold:    v.GetInt("antispam_threshold"),
		ReconnectDelay:       v.GetDuration("reconnect_delay"),
		ReconnectMaxAttempts: v.GetInt("reconnect_max_attempts"),
		PairingDelay:         v.GetDuration("pairing_delay"),
		PairingTimeout:       v.GetDuration("pairing_timeout"),
		PairingBrand:         v.GetString("pairing_brand"),
		SendInterval:         v.GetDuration("send_interval"),
		SendRetryAfter:       v.GetDuration("send_retry_after"),
		PermissionFailClosed: v.GetBool("permission_fail_closed"),
		LogLevel:             strings.ToUpper(v.GetString("log_level")),
		WALogLevel:           strings.ToUpper(v.GetString("wa_log_level")),
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if cfg.AntilinkThreshold <= 0 {
		cfg.AntilinkThreshold = 3
	}
	if cfg.AntispamThreshold <= 0 {
		cfg.AntispamThreshold = 3
	}

	owner, err := normalizeOwnerNumber(v.GetString("bot_owner"))
	if err != nil {
		return nil, err
	}
	cfg.Owner = owner

	if cfg.SettingsBackend == "auto" {
		switch {
		case cfg.RedisURL != "":
			cfg.SettingsBackend = "redis"
		case cfg.MongoURL != "":
			cfg.SettingsBackend = "mongo"
		default:
			cfg.SettingsBackend = "file"
		}
	}
	return cfg, nil
}

// normalizeOwnerNumber turns "+1 (650) 253-0000" into "16502530000".
// An empty number is allowed; the session then falls back to QR login.
func normalizeOwnerNumber(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if !strings.HasPrefix(raw, "+") {
		raw = "+" + raw
	}
	num, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", fmt.Errorf("invalid BOT_OWNER %q: %w", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid BOT_OWNER %q: not a dialable number", raw)
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+"), nil
}
