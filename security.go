package main

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// ==================== Group protection ====================

const (
	mentionLimit = 3
	tagLimit     = 5
)

var linkPattern = regexp.MustCompile(`(https?://\S+|www\.\S+|[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}/\S*)`)

func containsLink(text string) bool {
	return text != "" && linkPattern.MatchString(text)
}

// Moderator applies the spam, link, mention and tag rules to group messages.
type Moderator struct {
	cfg      *BotConfig
	provider Provider
	admins   AdminChecker
	ledger   *WarningLedger
	limiter  *RateLimiter
	log      waLog.Logger
	now      func() time.Time
}

func NewModerator(cfg *BotConfig, provider Provider, admins AdminChecker, ledger *WarningLedger, limiter *RateLimiter, log waLog.Logger) *Moderator {
	if log == nil {
		log = waLog.Noop
	}
	return &Moderator{
		cfg:      cfg,
		provider: provider,
		admins:   admins,
		ledger:   ledger,
		limiter:  limiter,
		log:      log,
		now:      time.Now,
	}
}

// Check runs every enabled rule against msg, in order: spam, link, mention,
// tag. Owner and admin messages are never touched.
func (m *Moderator) Check(ctx context.Context, msg *Message, gs GroupSettings) {
	if !msg.IsGroup || msg.FromMe {
		return
	}
	if !gs.Antispam && !gs.Antilink && !gs.Antimention && !gs.Antitag {
		return
	}
	if isOwnerMessage(msg, m.cfg.Owner) {
		return
	}
	if m.admins != nil {
		admin, err := m.admins.IsAdmin(ctx, msg.Room, msg.Sender)
		if err != nil {
			// unknown admin status: treat as a regular member
			m.log.Warnf("⚠️ [SECURITY] admin lookup in %s: %v", msg.Room, err)
		}
		if admin {
			return
		}
	}

	body := msg.Body()
	if gs.Antispam {
		m.checkSpam(ctx, msg, gs)
	}
	if gs.Antilink {
		m.checkLink(ctx, msg, body, gs)
	}
	if gs.Antimention {
		m.checkMentions(ctx, msg, body)
	}
	if gs.Antitag {
		m.checkTags(ctx, msg)
	}
}

func (m *Moderator) checkSpam(ctx context.Context, msg *Message, gs GroupSettings) {
	if !m.ledger.TrackMessage(msg.Room.String(), msg.senderKey(), m.now()) {
		return
	}
	threshold := thresholdOr(gs.AntispamThreshold, m.cfg.AntispamThreshold)
	m.deleteMessage(ctx, msg)
	count, kick := m.ledger.AddSpam(msg.Room.String(), msg.senderKey(), threshold)
	m.warn(ctx, msg, fmt.Sprintf("🚫 @%s - Spam detected!\nWarnings: %d/%d", msg.Sender.User, count, threshold))
	if kick {
		m.kick(ctx, msg, "spam")
	}
}

func (m *Moderator) checkLink(ctx context.Context, msg *Message, body string, gs GroupSettings) {
	if !containsLink(body) {
		return
	}
	threshold := thresholdOr(gs.AntilinkThreshold, m.cfg.AntilinkThreshold)
	m.deleteMessage(ctx, msg)
	count, kick := m.ledger.AddLink(msg.Room.String(), msg.senderKey(), threshold)
	m.warn(ctx, msg, fmt.Sprintf("🔗 @%s - Links not allowed!\nWarnings: %d/%d", msg.Sender.User, count, threshold))
	if kick {
		m.kick(ctx, msg, "sending links")
	}
}

func (m *Moderator) checkMentions(ctx context.Context, msg *Message, body string) {
	if len(msg.Mentions) < mentionLimit && !hasBroadcastMarker(body) {
		return
	}
	m.deleteMessage(ctx, msg)
	m.warn(ctx, msg, fmt.Sprintf("⚠️ @%s - Mass mentions not allowed!", msg.Sender.User))
}

func (m *Moderator) checkTags(ctx context.Context, msg *Message) {
	if len(msg.Mentions) < tagLimit {
		return
	}
	m.deleteMessage(ctx, msg)
	m.warn(ctx, msg, fmt.Sprintf("🏷️ @%s - Too many tags!", msg.Sender.User))
}

func (m *Moderator) deleteMessage(ctx context.Context, msg *Message) {
	m.limiter.Do(ctx, msg.Room.String(), func(ctx context.Context) error {
		return m.provider.DeleteMessage(ctx, msg.Room, msg.Sender, msg.ID)
	})
}

func (m *Moderator) warn(ctx context.Context, msg *Message, text string) {
	m.limiter.Do(ctx, msg.Room.String(), func(ctx context.Context) error {
		return m.provider.SendMessage(ctx, msg.Room, textMessage(text, msg.Sender.ToNonAD()))
	})
}

// kick removes the sender. A failed removal is logged; the warning that was
// already sent stays.
func (m *Moderator) kick(ctx context.Context, msg *Message, reason string) {
	user := msg.Sender.ToNonAD()
	var kickErr error
	m.limiter.Do(ctx, msg.Room.String(), func(ctx context.Context) error {
		kickErr = m.provider.UpdateParticipants(ctx, msg.Room, []types.JID{user}, whatsmeow.ParticipantChangeRemove)
		return kickErr
	})
	if kickErr != nil {
		m.log.Errorf("❌ [SECURITY] Cannot remove %s from %s: %v", user.User, msg.Room, kickErr)
		return
	}
	m.log.Infof("👢 [SECURITY] Removed %s from %s for %s", user.User, msg.Room, reason)
	m.warn(ctx, msg, fmt.Sprintf("👋 @%s removed for %s", user.User, reason))
}

func thresholdOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return 3
}
