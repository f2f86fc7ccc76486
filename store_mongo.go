package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoDatabase   = "verse_bot"
	mongoConfigID   = "bot_config"
	mongoAccessID   = "access_lists"
	mongoSudoField  = "sudo_users"
	mongoPremiumFld = "premium_users"
)

type userSettingsDoc struct {
	ID           string `bson:"_id"`
	UserSettings `bson:",inline"`
}

type groupSettingsDoc struct {
	ID            string `bson:"_id"`
	GroupSettings `bson:",inline"`
}

type accessDoc struct {
	ID           string   `bson:"_id"`
	SudoUsers    []string `bson:"sudo_users"`
	PremiumUsers []string `bson:"premium_users"`
}

type mongoStore struct {
	client   *mongo.Client
	settings *mongo.Collection
	groups   *mongo.Collection
	cfg      *BotConfig
}

func newMongoStore(ctx context.Context, uri string, cfg *BotConfig) (*mongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(mongoDatabase)
	return &mongoStore{
		client:   client,
		settings: db.Collection("settings"),
		groups:   db.Collection("groups"),
		cfg:      cfg,
	}, nil
}

func (s *mongoStore) UserSettings(ctx context.Context) (UserSettings, error) {
	defaults := s.cfg.DefaultUserSettings()
	doc := userSettingsDoc{UserSettings: defaults}
	err := s.settings.FindOne(ctx, bson.M{"_id": mongoConfigID}).Decode(&doc)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return UserSettings{}, err
	}
	normalizeUserSettings(&doc.UserSettings, defaults)
	return doc.UserSettings, nil
}

func (s *mongoStore) UpdateUserSettings(ctx context.Context, mutate func(*UserSettings)) (UserSettings, error) {
	cur, err := s.UserSettings(ctx)
	if err != nil {
		return UserSettings{}, err
	}
	mutate(&cur)
	doc := userSettingsDoc{ID: mongoConfigID, UserSettings: cur}
	_, err = s.settings.ReplaceOne(ctx, bson.M{"_id": mongoConfigID}, doc, options.Replace().SetUpsert(true))
	return cur, err
}

func (s *mongoStore) GroupSettings(ctx context.Context, room string) (GroupSettings, error) {
	defaults := s.cfg.DefaultGroupSettings(room)
	doc := groupSettingsDoc{GroupSettings: defaults}
	err := s.groups.FindOne(ctx, bson.M{"_id": room}).Decode(&doc)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return GroupSettings{}, err
	}
	normalizeGroupSettings(&doc.GroupSettings, defaults)
	return doc.GroupSettings, nil
}

func (s *mongoStore) UpdateGroupSettings(ctx context.Context, room string, mutate func(*GroupSettings)) (GroupSettings, error) {
	cur, err := s.GroupSettings(ctx, room)
	if err != nil {
		return GroupSettings{}, err
	}
	mutate(&cur)
	doc := groupSettingsDoc{ID: room, GroupSettings: cur}
	_, err = s.groups.ReplaceOne(ctx, bson.M{"_id": room}, doc, options.Replace().SetUpsert(true))
	return cur, err
}

func (s *mongoStore) list(ctx context.Context, field string) ([]string, error) {
	var doc accessDoc
	err := s.settings.FindOne(ctx, bson.M{"_id": mongoAccessID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if field == mongoSudoField {
		return slices.Clone(doc.SudoUsers), nil
	}
	return slices.Clone(doc.PremiumUsers), nil
}

func (s *mongoStore) modify(ctx context.Context, op, field, user string) (bool, error) {
	res, err := s.settings.UpdateOne(ctx,
		bson.M{"_id": mongoAccessID},
		bson.M{op: bson.M{field: getCleanID(user)}},
		options.Update().SetUpsert(op == "$addToSet"),
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

func (s *mongoStore) SudoUsers(ctx context.Context) ([]string, error) {
	return s.list(ctx, mongoSudoField)
}

func (s *mongoStore) AddSudo(ctx context.Context, user string) (bool, error) {
	return s.modify(ctx, "$addToSet", mongoSudoField, user)
}

func (s *mongoStore) RemoveSudo(ctx context.Context, user string) (bool, error) {
	return s.modify(ctx, "$pull", mongoSudoField, user)
}

func (s *mongoStore) PremiumUsers(ctx context.Context) ([]string, error) {
	return s.list(ctx, mongoPremiumFld)
}

func (s *mongoStore) AddPremium(ctx context.Context, user string) (bool, error) {
	return s.modify(ctx, "$addToSet", mongoPremiumFld, user)
}

func (s *mongoStore) RemovePremium(ctx context.Context, user string) (bool, error) {
	return s.modify(ctx, "$pull", mongoPremiumFld, user)
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
