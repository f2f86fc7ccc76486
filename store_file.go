package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

type settingsDocument struct {
	Settings     *UserSettings            `json:"settings,omitempty"`
	Groups       map[string]GroupSettings `json:"groups"`
	SudoUsers    []string                 `json:"sudoUsers"`
	PremiumUsers []string                 `json:"premiumUsers"`
}

// fileStore keeps everything in one JSON document. Every call reads the file
// and every mutation rewrites it; the last writer wins.
type fileStore struct {
	path string
	cfg  *BotConfig
	mu   sync.Mutex
}

func newFileStore(path string, cfg *BotConfig) (*fileStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("settings dir: %w", err)
		}
	}
	return &fileStore{path: path, cfg: cfg}, nil
}

func (s *fileStore) load() (*settingsDocument, error) {
	doc := &settingsDocument{}
	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	case len(raw) > 0:
		if err := json.Unmarshal(raw, doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path, err)
		}
	}
	if doc.Groups == nil {
		doc.Groups = make(map[string]GroupSettings)
	}
	defaults := s.cfg.DefaultUserSettings()
	if doc.Settings == nil {
		doc.Settings = &defaults
	}
	normalizeUserSettings(doc.Settings, defaults)
	return doc, nil
}

func (s *fileStore) save(doc *settingsDocument) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) view(fn func(*settingsDocument)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	fn(doc)
	return nil
}

func (s *fileStore) update(fn func(*settingsDocument) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if !fn(doc) {
		return nil
	}
	return s.save(doc)
}

func (s *fileStore) groupOf(doc *settingsDocument, room string) GroupSettings {
	defaults := s.cfg.DefaultGroupSettings(room)
	g, ok := doc.Groups[room]
	if !ok {
		return defaults
	}
	normalizeGroupSettings(&g, defaults)
	return g
}

func (s *fileStore) UserSettings(ctx context.Context) (out UserSettings, err error) {
	err = s.view(func(doc *settingsDocument) { out = *doc.Settings })
	return
}

func (s *fileStore) UpdateUserSettings(ctx context.Context, mutate func(*UserSettings)) (out UserSettings, err error) {
	err = s.update(func(doc *settingsDocument) bool {
		mutate(doc.Settings)
		out = *doc.Settings
		return true
	})
	return
}

func (s *fileStore) GroupSettings(ctx context.Context, room string) (out GroupSettings, err error) {
	err = s.view(func(doc *settingsDocument) { out = s.groupOf(doc, room) })
	return
}

func (s *fileStore) UpdateGroupSettings(ctx context.Context, room string, mutate func(*GroupSettings)) (out GroupSettings, err error) {
	err = s.update(func(doc *settingsDocument) bool {
		g := s.groupOf(doc, room)
		mutate(&g)
		doc.Groups[room] = g
		out = g
		return true
	})
	return
}

func (s *fileStore) SudoUsers(ctx context.Context) (out []string, err error) {
	err = s.view(func(doc *settingsDocument) { out = slices.Clone(doc.SudoUsers) })
	return
}

func (s *fileStore) AddSudo(ctx context.Context, user string) (bool, error) {
	return s.addTo(func(d *settingsDocument) *[]string { return &d.SudoUsers }, user)
}

func (s *fileStore) RemoveSudo(ctx context.Context, user string) (bool, error) {
	return s.removeFrom(func(d *settingsDocument) *[]string { return &d.SudoUsers }, user)
}

func (s *fileStore) PremiumUsers(ctx context.Context) (out []string, err error) {
	err = s.view(func(doc *settingsDocument) { out = slices.Clone(doc.PremiumUsers) })
	return
}

func (s *fileStore) AddPremium(ctx context.Context, user string) (bool, error) {
	return s.addTo(func(d *settingsDocument) *[]string { return &d.PremiumUsers }, user)
}

func (s *fileStore) RemovePremium(ctx context.Context, user string) (bool, error) {
	return s.removeFrom(func(d *settingsDocument) *[]string { return &d.PremiumUsers }, user)
}

func (s *fileStore) addTo(list func(*settingsDocument) *[]string, user string) (added bool, err error) {
	user = getCleanID(user)
	err = s.update(func(doc *settingsDocument) bool {
		l := list(doc)
		if slices.Contains(*l, user) {
			return false
		}
		*l = append(*l, user)
		added = true
		return true
	})
	return
}

func (s *fileStore) removeFrom(list func(*settingsDocument) *[]string, user string) (removed bool, err error) {
	user = getCleanID(user)
	err = s.update(func(doc *settingsDocument) bool {
		l := list(doc)
		i := slices.Index(*l, user)
		if i < 0 {
			return false
		}
		*l = slices.Delete(*l, i, i+1)
		removed = true
		return true
	})
	return
}

func (s *fileStore) Close(context.Context) error { return nil }
