package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisUserSettingsKey = "bot_settings"
	redisGroupPrefix     = "group_settings:"
	redisSudoKey         = "sudo_users"
	redisPremiumKey      = "premium_users"
	redisTxRetries       = 5
)

type redisStore struct {
	rdb *redis.Client
	cfg *BotConfig
}

func newRedisStore(ctx context.Context, url string, cfg *BotConfig) (*redisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{rdb: rdb, cfg: cfg}, nil
}

func (s *redisStore) getJSON(ctx context.Context, key string, out any) (bool, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// updateJSON runs a WATCH/MULTI read-modify-write on key.
func (s *redisStore) updateJSON(ctx context.Context, key string, load func(*redis.Tx) (any, error)) error {
	txf := func(tx *redis.Tx) error {
		v, err := load(tx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}
	for i := 0; i < redisTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too much contention", key)
}

func (s *redisStore) UserSettings(ctx context.Context) (UserSettings, error) {
	defaults := s.cfg.DefaultUserSettings()
	out := defaults
	if _, err := s.getJSON(ctx, redisUserSettingsKey, &out); err != nil {
		return UserSettings{}, err
	}
	normalizeUserSettings(&out, defaults)
	return out, nil
}

func (s *redisStore) UpdateUserSettings(ctx context.Context, mutate func(*UserSettings)) (UserSettings, error) {
	var out UserSettings
	err := s.updateJSON(ctx, redisUserSettingsKey, func(tx *redis.Tx) (any, error) {
		defaults := s.cfg.DefaultUserSettings()
		out = defaults
		if err := readJSON(ctx, tx, redisUserSettingsKey, &out); err != nil {
			return nil, err
		}
		normalizeUserSettings(&out, defaults)
		mutate(&out)
		return out, nil
	})
	return out, err
}

func (s *redisStore) GroupSettings(ctx context.Context, room string) (GroupSettings, error) {
	defaults := s.cfg.DefaultGroupSettings(room)
	out := defaults
	if _, err := s.getJSON(ctx, redisGroupPrefix+room, &out); err != nil {
		return GroupSettings{}, err
	}
	normalizeGroupSettings(&out, defaults)
	return out, nil
}

func (s *redisStore) UpdateGroupSettings(ctx context.Context, room string, mutate func(*GroupSettings)) (GroupSettings, error) {
	key := redisGroupPrefix + room
	var out GroupSettings
	err := s.updateJSON(ctx, key, func(tx *redis.Tx) (any, error) {
		defaults := s.cfg.DefaultGroupSettings(room)
		out = defaults
		if err := readJSON(ctx, tx, key, &out); err != nil {
			return nil, err
		}
		normalizeGroupSettings(&out, defaults)
		mutate(&out)
		return out, nil
	})
	return out, err
}

func readJSON(ctx context.Context, tx *redis.Tx, key string, out any) error {
	val, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(val, out)
}

func (s *redisStore) members(ctx context.Context, key string) ([]string, error) {
	list, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(list)
	return list, nil
}

func (s *redisStore) SudoUsers(ctx context.Context) ([]string, error) {
	return s.members(ctx, redisSudoKey)
}

func (s *redisStore) AddSudo(ctx context.Context, user string) (bool, error) {
	n, err := s.rdb.SAdd(ctx, redisSudoKey, getCleanID(user)).Result()
	return n > 0, err
}

func (s *redisStore) RemoveSudo(ctx context.Context, user string) (bool, error) {
	n, err := s.rdb.SRem(ctx, redisSudoKey, getCleanID(user)).Result()
	return n > 0, err
}

func (s *redisStore) PremiumUsers(ctx context.Context) ([]string, error) {
	return s.members(ctx, redisPremiumKey)
}

func (s *redisStore) AddPremium(ctx context.Context, user string) (bool, error) {
	n, err := s.rdb.SAdd(ctx, redisPremiumKey, getCleanID(user)).Result()
	return n > 0, err
}

func (s *redisStore) RemovePremium(ctx context.Context, user string) (bool, error) {
	n, err := s.rdb.SRem(ctx, redisPremiumKey, getCleanID(user)).Result()
	return n > 0, err
}

func (s *redisStore) Close(context.Context) error {
	return s.rdb.Close()
}
