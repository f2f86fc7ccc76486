package main

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func testBotConfig() *BotConfig {
	return &BotConfig{
		Prefix:            "!",
		Owner:             "923001234567",
		OwnerName:         "Owner",
		BotName:           "Verse Bot",
		AntilinkThreshold: 3,
		AntispamThreshold: 3,
		Features: FeatureToggles{
			Antilink:    true,
			Antispam:    true,
			Antimention: true,
			Antitag:     true,
			Antidemote:  true,
			Antipromote: true,
		},
	}
}

// exerciseSettingsStore runs the same scenario against any backend.
func exerciseSettingsStore(t *testing.T, s SettingsStore) {
	t.Helper()
	ctx := context.Background()

	us, err := s.UserSettings(ctx)
	if err != nil {
		t.Fatalf("UserSettings() error = %v", err)
	}
	if us.Prefix != "!" || us.Mode != ModePublic {
		t.Fatalf("default UserSettings = %+v", us)
	}

	if _, err := s.UpdateUserSettings(ctx, func(u *UserSettings) {
		u.Prefix = "."
		u.Mode = ModePrivate
	}); err != nil {
		t.Fatalf("UpdateUserSettings() error = %v", err)
	}
	us, _ = s.UserSettings(ctx)
	if us.Prefix != "." || us.Mode != ModePrivate {
		t.Fatalf("UserSettings after update = %+v", us)
	}

	const room = "1203@g.us"
	gs, err := s.GroupSettings(ctx, room)
	if err != nil {
		t.Fatalf("GroupSettings() error = %v", err)
	}
	if !gs.Antilink || gs.Welcome || gs.AntilinkThreshold != 3 || gs.ChatID != room {
		t.Fatalf("default GroupSettings = %+v", gs)
	}
	if _, err := s.UpdateGroupSettings(ctx, room, func(g *GroupSettings) {
		g.Antilink = false
		g.Welcome = true
		g.WelcomeMessage = "hi @user"
	}); err != nil {
		t.Fatalf("UpdateGroupSettings() error = %v", err)
	}
	gs, _ = s.GroupSettings(ctx, room)
	if gs.Antilink || !gs.Welcome || gs.WelcomeMessage != "hi @user" || gs.AntilinkThreshold != 3 {
		t.Fatalf("GroupSettings after update = %+v", gs)
	}
	other, _ := s.GroupSettings(ctx, "other@g.us")
	if !other.Antilink {
		t.Fatalf("update leaked into another room: %+v", other)
	}

	added, err := s.AddSudo(ctx, "111:2@s.whatsapp.net")
	if err != nil || !added {
		t.Fatalf("AddSudo() = %v, %v", added, err)
	}
	if added, _ := s.AddSudo(ctx, "111"); added {
		t.Fatalf("AddSudo() twice reported added")
	}
	if ok, _ := isSudo(ctx, s, "111@s.whatsapp.net"); !ok {
		t.Fatalf("isSudo() false after AddSudo")
	}
	if removed, _ := s.RemoveSudo(ctx, "111"); !removed {
		t.Fatalf("RemoveSudo() reported nothing removed")
	}
	if removed, _ := s.RemoveSudo(ctx, "111"); removed {
		t.Fatalf("RemoveSudo() of missing user reported removed")
	}
	if list, _ := s.SudoUsers(ctx); len(list) != 0 {
		t.Fatalf("SudoUsers() = %v, want empty", list)
	}

	s.AddPremium(ctx, "222")
	s.AddPremium(ctx, "333")
	list, _ := s.PremiumUsers(ctx)
	slices.Sort(list)
	if !slices.Equal(list, []string{"222", "333"}) {
		t.Fatalf("PremiumUsers() = %v", list)
	}
	if ok, _ := isPremium(ctx, s, "333@s.whatsapp.net"); !ok {
		t.Fatalf("isPremium() false for premium user")
	}
	s.RemovePremium(ctx, "222")
	if ok, _ := isPremium(ctx, s, "222"); ok {
		t.Fatalf("isPremium() true after RemovePremium")
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "db.json")
	s, err := newFileStore(path, testBotConfig())
	if err != nil {
		t.Fatal(err)
	}
	exerciseSettingsStore(t, s)

	// a second store over the same file sees the persisted state
	again, _ := newFileStore(path, testBotConfig())
	us, err := again.UserSettings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if us.Prefix != "." {
		t.Fatalf("reopened store Prefix = %q", us.Prefix)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := newRedisStore(context.Background(), "redis://"+mr.Addr(), testBotConfig())
	if err != nil {
		t.Fatalf("newRedisStore() error = %v", err)
	}
	defer s.Close(context.Background())

	exerciseSettingsStore(t, s)

	if !mr.Exists(redisGroupPrefix + "1203@g.us") {
		t.Fatalf("group settings not stored under %s", redisGroupPrefix)
	}
	if ok, _ := mr.SIsMember(redisPremiumKey, "333"); !ok {
		t.Fatalf("premium set missing member")
	}
}

func TestOpenSettingsStoreRejectsUnknownBackend(t *testing.T) {
	cfg := testBotConfig()
	cfg.SettingsBackend = "etcd"
	if _, err := openSettingsStore(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
