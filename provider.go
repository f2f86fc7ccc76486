package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

var (
	ErrNotConnected   = errors.New("provider not connected")
	ErrRateLimited    = errors.New("provider rate-overlimit")
	ErrLoggedOut      = errors.New("session logged out")
	ErrPairingExpired = errors.New("pairing code expired before registration")
	ErrUnknownCommand = errors.New("unknown command")
)

// Provider is the slice of the WhatsApp client the bot core actually uses.
type Provider interface {
	OwnID() types.JID
	OwnLID() types.JID
	SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) error
	DeleteMessage(ctx context.Context, room, sender types.JID, id types.MessageID) error
	UpdateParticipants(ctx context.Context, room types.JID, users []types.JID, action whatsmeow.ParticipantChange) error
	GroupInfo(ctx context.Context, room types.JID) (*types.GroupInfo, error)
	InviteLink(ctx context.Context, room types.JID, reset bool) (string, error)
	SetLocked(ctx context.Context, room types.JID, locked bool) error
	MarkRead(ctx context.Context, ids []types.MessageID, ts time.Time, chat, sender types.JID) error
	SetTyping(ctx context.Context, chat types.JID, typing bool) error
	Download(ctx context.Context, media whatsmeow.DownloadableMessage) ([]byte, error)
	Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	RejectCall(ctx context.Context, from types.JID, callID string) error
}

// waProvider adapts *whatsmeow.Client and normalises its errors so the rate
// limiter can classify them.
type waProvider struct {
	client *whatsmeow.Client
}

func newWAProvider(client *whatsmeow.Client) *waProvider {
	return &waProvider{client: client}
}

func (p *waProvider) OwnID() types.JID {
	if p.client == nil || p.client.Store == nil || p.client.Store.ID == nil {
		return types.EmptyJID
	}
	return p.client.Store.ID.ToNonAD()
}

func (p *waProvider) OwnLID() types.JID {
	if p.client == nil || p.client.Store == nil {
		return types.EmptyJID
	}
	return p.client.Store.LID.ToNonAD()
}

func (p *waProvider) SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) error {
	_, err := p.client.SendMessage(ctx, to, msg)
	return classifyProviderError(err)
}

func (p *waProvider) DeleteMessage(ctx context.Context, room, sender types.JID, id types.MessageID) error {
	// revoking someone else's message in a group needs their JID, our own needs EmptyJID
	if sender.ToNonAD() == p.OwnID() {
		sender = types.EmptyJID
	}
	_, err := p.client.SendMessage(ctx, room, p.client.BuildRevoke(room, sender, id))
	return classifyProviderError(err)
}

func (p *waProvider) UpdateParticipants(ctx context.Context, room types.JID, users []types.JID, action whatsmeow.ParticipantChange) error {
	res, err := p.client.UpdateGroupParticipants(ctx, room, users, action)
	if err != nil {
		return classifyProviderError(err)
	}
	for _, part := range res {
		if part.Error != 0 {
			return fmt.Errorf("%s %s: status %d", action, part.JID, part.Error)
		}
	}
	return nil
}

func (p *waProvider) GroupInfo(ctx context.Context, room types.JID) (*types.GroupInfo, error) {
	info, err := p.client.GetGroupInfo(ctx, room)
	return info, classifyProviderError(err)
}

func (p *waProvider) InviteLink(ctx context.Context, room types.JID, reset bool) (string, error) {
	link, err := p.client.GetGroupInviteLink(ctx, room, reset)
	return link, classifyProviderError(err)
}

func (p *waProvider) SetLocked(ctx context.Context, room types.JID, locked bool) error {
	return classifyProviderError(p.client.SetGroupAnnounce(ctx, room, locked))
}

func (p *waProvider) MarkRead(ctx context.Context, ids []types.MessageID, ts time.Time, chat, sender types.JID) error {
	return classifyProviderError(p.client.MarkRead(ctx, ids, ts, chat, sender))
}

func (p *waProvider) SetTyping(ctx context.Context, chat types.JID, typing bool) error {
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return classifyProviderError(p.client.SendChatPresence(ctx, chat, state, types.ChatPresenceMediaText))
}

func (p *waProvider) Download(ctx context.Context, media whatsmeow.DownloadableMessage) ([]byte, error) {
	data, err := p.client.Download(ctx, media)
	return data, classifyProviderError(err)
}

func (p *waProvider) Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	up, err := p.client.Upload(ctx, data, mediaType)
	return up, classifyProviderError(err)
}

func (p *waProvider) RejectCall(ctx context.Context, from types.JID, callID string) error {
	return classifyProviderError(p.client.RejectCall(ctx, from, callID))
}

func classifyProviderError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, whatsmeow.ErrNotConnected), errors.Is(err, whatsmeow.ErrNotLoggedIn):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	var iqErr *whatsmeow.IQError
	if errors.As(err, &iqErr) && iqErr.Code == 429 {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "rate-overlimit") || strings.Contains(msg, "429") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	if strings.Contains(msg, "not connected") {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return err
}

// --- outbound helpers ---

func textMessage(text string, mentions ...types.JID) *waE2E.Message {
	if len(mentions) == 0 {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	ids := make([]string, 0, len(mentions))
	for _, m := range mentions {
		ids = append(ids, m.String())
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: &waE2E.ContextInfo{MentionedJID: ids},
		},
	}
}

func quotedContext(quoted *Message) *waE2E.ContextInfo {
	ctxInfo := &waE2E.ContextInfo{
		StanzaID:    proto.String(string(quoted.ID)),
		Participant: proto.String(quoted.Sender.String()),
	}
	if quoted.Raw != nil {
		ctxInfo.QuotedMessage = quoted.Raw
	}
	return ctxInfo
}

func quotedTextMessage(quoted *Message, text string) *waE2E.Message {
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: quotedContext(quoted),
		},
	}
}

func reactionMessage(msg *Message, emoji string) *waE2E.Message {
	key := &waCommon.MessageKey{
		RemoteJID: proto.String(msg.Room.String()),
		ID:        proto.String(string(msg.ID)),
		FromMe:    proto.Bool(msg.FromMe),
	}
	if msg.IsGroup {
		key.Participant = proto.String(msg.Sender.String())
	}
	return &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key:               key,
			Text:              proto.String(emoji),
			SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
		},
	}
}

// parseJID accepts a bare number, "@123" or a full JID.
func parseJID(arg string) (types.JID, bool) {
	arg = strings.TrimPrefix(strings.TrimSpace(arg), "@")
	if arg == "" {
		return types.EmptyJID, false
	}
	if !strings.Contains(arg, "@") {
		arg = strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, arg)
		if arg == "" {
			return types.EmptyJID, false
		}
		return types.NewJID(arg, types.DefaultUserServer), true
	}
	jid, err := types.ParseJID(arg)
	if err != nil {
		return types.EmptyJID, false
	}
	return jid, true
}

// getCleanID strips the server and device parts: "123:4@s.whatsapp.net" -> "123".
func getCleanID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}
