package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var autoReactEmojis = []string{"👍", "❤️", "😂", "😮", "😢", "🔥"}

const typingPause = 2 * time.Second

// Bot routes session events to the dispatcher, the moderator and the
// membership reactor.
type Bot struct {
	cfg      *BotConfig
	provider Provider
	store    SettingsStore
	limiter  *RateLimiter
	log      waLog.Logger

	registry   *Registry
	admins     *GroupAdmins
	ledger     *WarningLedger
	dispatcher *Dispatcher
	moderator  *Moderator
	reactor    *Reactor
	antiDelete *AntiDelete

	typingPause time.Duration
}

func NewBot(cfg *BotConfig, provider Provider, store SettingsStore, limiter *RateLimiter, log waLog.Logger) *Bot {
	if log == nil {
		log = waLog.Noop
	}
	registry := NewRegistry()
	registerCommands(registry)
	admins := NewGroupAdmins(provider)
	ledger := NewWarningLedger()
	perms := NewPermissions(admins, cfg.PermissionFailClosed, log.Sub("Permissions"))

	return &Bot{
		cfg:         cfg,
		provider:    provider,
		store:       store,
		limiter:     limiter,
		log:         log,
		registry:    registry,
		admins:      admins,
		ledger:      ledger,
		dispatcher:  NewDispatcher(cfg, provider, store, registry, perms, admins, ledger, limiter, log.Sub("Dispatcher")),
		moderator:   NewModerator(cfg, provider, admins, ledger, limiter, log.Sub("Moderation")),
		reactor:     NewReactor(provider, store, admins, ledger, limiter, log.Sub("Members")),
		antiDelete:  NewAntiDelete(provider, limiter, cfg.Owner, log.Sub("AntiDelete")),
		typingPause: typingPause,
	}
}

func (b *Bot) userSettings(ctx context.Context) UserSettings {
	us, err := b.store.UserSettings(ctx)
	if err != nil {
		b.log.Warnf("⚠️ [SETTINGS] user settings: %v", err)
		return b.cfg.DefaultUserSettings()
	}
	return us
}

// HandleMessage is the single entry point for incoming chat messages.
func (b *Bot) HandleMessage(ctx context.Context, msg *Message) {
	if msg.Raw == nil {
		return
	}
	us := b.userSettings(ctx)

	if msg.Room == types.StatusBroadcastJID {
		if us.AutoStatus && !msg.FromMe {
			b.limiter.Do(ctx, msg.Room.String(), func(ctx context.Context) error {
				return b.provider.MarkRead(ctx, []types.MessageID{msg.ID}, msg.Timestamp, msg.Room, msg.Sender)
			})
		}
		return
	}

	isCommand := us.Prefix != "" && strings.HasPrefix(strings.TrimSpace(msg.Body()), us.Prefix)
	if msg.FromMe && !isCommand {
		return
	}

	if isRevoke(msg) {
		if us.AntiDelete {
			b.antiDelete.Recover(ctx, msg)
		}
		return
	}
	if us.AntiDelete {
		b.antiDelete.Remember(msg)
		b.antiDelete.ForwardViewOnce(ctx, msg)
	}

	if !isCommand && !msg.FromMe {
		b.autoFeatures(ctx, msg, us)
	}
	if isCommand {
		b.dispatcher.Dispatch(ctx, msg, us)
	}
	if msg.IsGroup && !msg.FromMe {
		room := msg.Room.String()
		gs, err := b.store.GroupSettings(ctx, room)
		if err != nil {
			b.log.Warnf("⚠️ [SETTINGS] group %s: %v", room, err)
			gs = b.cfg.DefaultGroupSettings(room)
		}
		b.moderator.Check(ctx, msg, gs)
	}
}

func (b *Bot) autoFeatures(ctx context.Context, msg *Message, us UserSettings) {
	if us.AutoWrite {
		go func() {
			if err := b.provider.SetTyping(ctx, msg.Room, true); err != nil {
				b.log.Debugf("typing indicator: %v", err)
				return
			}
			select {
			case <-ctx.Done():
			case <-time.After(b.typingPause):
			}
			_ = b.provider.SetTyping(context.WithoutCancel(ctx), msg.Room, false)
		}()
	}
	if us.AutoReact {
		emoji := autoReactEmojis[rand.IntN(len(autoReactEmojis))]
		b.limiter.Do(ctx, msg.Room.String(), func(ctx context.Context) error {
			return b.provider.SendMessage(ctx, msg.Room, reactionMessage(msg, emoji))
		})
	}
}

// HandleMembership forwards a membership change to the reactor.
func (b *Bot) HandleMembership(ctx context.Context, evt MembershipEvent) {
	b.reactor.Handle(ctx, evt)
}

// HandleCall rejects incoming calls while anticall is on. The owner may
// always call.
func (b *Bot) HandleCall(ctx context.Context, from types.JID, callID string) {
	us := b.userSettings(ctx)
	if !us.AntiCall || from.IsEmpty() || (b.cfg.Owner != "" && from.User == b.cfg.Owner) {
		return
	}
	caller := from.ToNonAD()
	if !b.limiter.Do(ctx, caller.String(), func(ctx context.Context) error {
		return b.provider.RejectCall(ctx, from, callID)
	}) {
		return
	}
	b.log.Infof("📵 [ANTICALL] Rejected call %s from %s", callID, caller.User)
	b.limiter.Do(ctx, caller.String(), func(ctx context.Context) error {
		return b.provider.SendMessage(ctx, caller, textMessage("📵 *Calls are not allowed.*\nYour call was rejected automatically, please send a message instead."))
	})
}

// NotifyConnected tells the owner the bot is online.
func (b *Bot) NotifyConnected(ctx context.Context) {
	if b.cfg.Owner == "" {
		return
	}
	us := b.userSettings(ctx)
	text := fmt.Sprintf("*_CONNECTED SUCCESSFULLY_*\n\n> *BOT NAME:* %s\n> *PREFIX:* %s\n> *MODE:* %s",
		us.BotName, us.Prefix, us.Mode)
	owner := types.NewJID(b.cfg.Owner, types.DefaultUserServer)
	if b.limiter.Do(ctx, owner.String(), func(ctx context.Context) error {
		return b.provider.SendMessage(ctx, owner, textMessage(text))
	}) {
		b.log.Infof("📨 [CONNECTED] Notice sent to owner")
	}
}

func (b *Bot) Stats() DispatchStats {
	return b.dispatcher.Stats()
}
