package main

import (
	"fmt"
	"time"
)

// --- 💾 DATA STRUCTURES ---

// Mode controls who may run commands at all.
type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
)

// UserSettings is the bot-wide settings document.
type UserSettings struct {
	Prefix     string `bson:"prefix" json:"prefix"`
	BotName    string `bson:"bot_name" json:"bot_name"`
	Mode       Mode   `bson:"bot_mode" json:"bot_mode"`
	AntiDelete bool   `bson:"antidelete" json:"antidelete"`
	AutoReact  bool   `bson:"autoreact" json:"autoreact"`
	AutoStatus bool   `bson:"autostatus" json:"autostatus"`
	AutoWrite  bool   `bson:"autowrite" json:"autowrite"`
	AntiCall   bool   `bson:"anticall" json:"anticall"`
}

// GroupSettings holds the per-room moderation and greeting switches.
type GroupSettings struct {
	ChatID            string `bson:"chat_id" json:"chat_id"`
	Welcome           bool   `bson:"welcome" json:"welcome"`
	Goodbye           bool   `bson:"goodbye" json:"goodbye"`
	WelcomeMessage    string `bson:"welcome_message,omitempty" json:"welcome_message,omitempty"`
	GoodbyeMessage    string `bson:"goodbye_message,omitempty" json:"goodbye_message,omitempty"`
	Antilink          bool   `bson:"antilink" json:"antilink"`
	Antispam          bool   `bson:"antispam" json:"antispam"`
	Antitag           bool   `bson:"antitag" json:"antitag"`
	Antimention       bool   `bson:"antimention" json:"antimention"`
	Antidemote        bool   `bson:"antidemote" json:"antidemote"`
	Antipromote       bool   `bson:"antipromote" json:"antipromote"`
	AntilinkThreshold int    `bson:"antilink_threshold" json:"antilink_threshold"`
	AntispamThreshold int    `bson:"antispam_threshold" json:"antispam_threshold"`
}

// DefaultGroupSettings builds the document a room gets before anyone touches its settings.
func (c *BotConfig) DefaultGroupSettings(chatID string) GroupSettings {
	return GroupSettings{
		ChatID:            chatID,
		Antilink:          c.Features.Antilink,
		Antispam:          c.Features.Antispam,
		Antitag:           c.Features.Antitag,
		Antimention:       c.Features.Antimention,
		Antidemote:        c.Features.Antidemote,
		Antipromote:       c.Features.Antipromote,
		AntilinkThreshold: c.AntilinkThreshold,
		AntispamThreshold: c.AntispamThreshold,
	}
}

// DefaultUserSettings is what a fresh settings store hands out.
func (c *BotConfig) DefaultUserSettings() UserSettings {
	return UserSettings{
		Prefix:     c.Prefix,
		BotName:    c.BotName,
		Mode:       ModePublic,
		AntiDelete: c.Features.Antidelete,
		AutoReact:  c.Features.AutoReact,
		AutoStatus: c.Features.AutoStatus,
		AutoWrite:  c.Features.AutoWrite,
		AntiCall:   c.Features.Anticall,
	}
}

// --- 🌍 GLOBAL VARIABLES ---
var startTime = time.Now()

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
