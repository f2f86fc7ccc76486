package main

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const antiDeleteRetention = time.Hour

type savedMessage struct {
	sender   types.JID
	pushName string
	sentAt   time.Time
	content  *waE2E.Message
}

// AntiDelete keeps recent direct messages in memory and reports revoked ones
// to the owner.
type AntiDelete struct {
	provider Provider
	limiter  *RateLimiter
	owner    string
	log      waLog.Logger
	recent   *cache.Cache
}

func NewAntiDelete(provider Provider, limiter *RateLimiter, owner string, log waLog.Logger) *AntiDelete {
	if log == nil {
		log = waLog.Noop
	}
	return &AntiDelete{
		provider: provider,
		limiter:  limiter,
		owner:    owner,
		log:      log,
		recent:   cache.New(antiDeleteRetention, 10*time.Minute),
	}
}

func isRevoke(msg *Message) bool {
	pm := msg.Raw.GetProtocolMessage()
	return pm != nil && pm.GetType() == waE2E.ProtocolMessage_REVOKE
}

// Remember stores msg if it is a direct message from someone else.
func (a *AntiDelete) Remember(msg *Message) {
	if msg.IsGroup || msg.FromMe || msg.Raw == nil || msg.Raw.GetProtocolMessage() != nil {
		return
	}
	a.recent.SetDefault(string(msg.ID), savedMessage{
		sender:   msg.Sender,
		pushName: msg.PushName,
		sentAt:   msg.Timestamp,
		content:  msg.Raw,
	})
}

// Recover forwards the original of a revoked message to the owner. It
// reports whether msg was a revoke it knew about.
func (a *AntiDelete) Recover(ctx context.Context, msg *Message) bool {
	if !isRevoke(msg) || a.owner == "" {
		return false
	}
	id := msg.Raw.GetProtocolMessage().GetKey().GetID()
	v, ok := a.recent.Get(id)
	if !ok {
		return false
	}
	a.recent.Delete(id)
	saved := v.(savedMessage)

	name := saved.pushName
	if name == "" {
		name = "Unknown"
	}
	alert := fmt.Sprintf("⚠️ *ANTIDELETE ALERT*\n\n👤 *User:* %s\n📱 *Number:* @%s\n⏰ *Sent:* %s\n🗑️ *Deleted:* %s",
		name, saved.sender.User, saved.sentAt.Format("03:04:05 PM"), time.Now().Format("03:04:05 PM"))

	ownerJID := types.NewJID(a.owner, types.DefaultUserServer)
	out := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(alert),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String(id),
				Participant:   proto.String(saved.sender.String()),
				QuotedMessage: saved.content,
				MentionedJID:  []string{saved.sender.String()},
			},
		},
	}
	a.limiter.Do(ctx, ownerJID.String(), func(ctx context.Context) error {
		return a.provider.SendMessage(ctx, ownerJID, out)
	})
	a.log.Infof("🗑️ [ANTIDELETE] Recovered %s from %s", id, saved.sender.User)
	return true
}

// ForwardViewOnce sends the owner an ordinary copy of view-once media
// someone else sent.
func (a *AntiDelete) ForwardViewOnce(ctx context.Context, msg *Message) bool {
	if a.owner == "" || msg.FromMe || !isViewOnce(msg.Raw) {
		return false
	}
	name := orDefault(msg.PushName, "Unknown")
	label := fmt.Sprintf("👁️ *VIEW-ONCE DETECTED*\n\n👤 *User:* %s\n📱 *Number:* @%s\n💬 *Chat:* %s",
		name, msg.SenderPhone(), msg.Room.User)
	out, err := revealViewOnce(ctx, a.provider, msg.Raw, label, &waE2E.ContextInfo{
		MentionedJID: []string{msg.Sender.String()},
	})
	if err != nil {
		a.log.Warnf("⚠️ [VIEWONCE] %s from %s: %v", msg.ID, msg.Sender.User, err)
		return false
	}
	ownerJID := types.NewJID(a.owner, types.DefaultUserServer)
	a.log.Infof("👁️ [VIEWONCE] Forwarding %s from %s", msg.ID, msg.Sender.User)
	return a.limiter.Do(ctx, ownerJID.String(), func(ctx context.Context) error {
		return a.provider.SendMessage(ctx, ownerJID, out)
	})
}
