package main

import (
	"context"
	"fmt"
	"slices"
)

// SettingsStore persists bot settings, per-room settings and the sudo and
// premium lists. Users are identified by their bare phone number.
type SettingsStore interface {
	UserSettings(ctx context.Context) (UserSettings, error)
	UpdateUserSettings(ctx context.Context, mutate func(*UserSettings)) (UserSettings, error)

	GroupSettings(ctx context.Context, room string) (GroupSettings, error)
	UpdateGroupSettings(ctx context.Context, room string, mutate func(*GroupSettings)) (GroupSettings, error)

	SudoUsers(ctx context.Context) ([]string, error)
	AddSudo(ctx context.Context, user string) (bool, error)
	RemoveSudo(ctx context.Context, user string) (bool, error)

	PremiumUsers(ctx context.Context) ([]string, error)
	AddPremium(ctx context.Context, user string) (bool, error)
	RemovePremium(ctx context.Context, user string) (bool, error)

	Close(ctx context.Context) error
}

// openSettingsStore picks the backend named in cfg.
func openSettingsStore(ctx context.Context, cfg *BotConfig) (SettingsStore, error) {
	switch cfg.SettingsBackend {
	case "redis":
		return newRedisStore(ctx, cfg.RedisURL, cfg)
	case "mongo":
		return newMongoStore(ctx, cfg.MongoURL, cfg)
	case "file", "":
		return newFileStore(cfg.SettingsFile, cfg)
	default:
		return nil, fmt.Errorf("unknown settings backend %q", cfg.SettingsBackend)
	}
}

// containsUser reports whether any of the user's identifiers (phone number,
// LID) is on list.
func containsUser(list []string, ids ...string) bool {
	for _, id := range ids {
		if id != "" && slices.Contains(list, getCleanID(id)) {
			return true
		}
	}
	return false
}

func isSudo(ctx context.Context, s SettingsStore, ids ...string) (bool, error) {
	list, err := s.SudoUsers(ctx)
	if err != nil {
		return false, err
	}
	return containsUser(list, ids...), nil
}

func isPremium(ctx context.Context, s SettingsStore, ids ...string) (bool, error) {
	list, err := s.PremiumUsers(ctx)
	if err != nil {
		return false, err
	}
	return containsUser(list, ids...), nil
}

// normalizeUserSettings fills fields an older document may lack.
func normalizeUserSettings(s *UserSettings, defaults UserSettings) {
	if s.Prefix == "" {
		s.Prefix = defaults.Prefix
	}
	if s.BotName == "" {
		s.BotName = defaults.BotName
	}
	if s.Mode == "" {
		s.Mode = defaults.Mode
	}
}

func normalizeGroupSettings(s *GroupSettings, defaults GroupSettings) {
	if s.ChatID == "" {
		s.ChatID = defaults.ChatID
	}
	if s.AntilinkThreshold <= 0 {
		s.AntilinkThreshold = defaults.AntilinkThreshold
	}
	if s.AntispamThreshold <= 0 {
		s.AntispamThreshold = defaults.AntispamThreshold
	}
}
