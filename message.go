package main

import (
	"regexp"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

type contentKind int

const (
	kindPlainText contentKind = iota
	kindExtendedText
	kindImageCaption
	kindVideoCaption
	kindOther
)

// Content is one body-bearing part of an incoming message.
type Content struct {
	Kind contentKind
	Text string
}

// Message is the bot's view of an incoming chat message.
type Message struct {
	ID        types.MessageID
	Room      types.JID
	Sender    types.JID
	SenderAlt types.JID
	FromMe    bool
	IsGroup   bool
	PushName  string
	Timestamp time.Time

	Contents []Content
	Mentions []types.JID
	Raw      *waE2E.Message
}

func messageFromEvent(evt *events.Message) *Message {
	return &Message{
		ID:        evt.Info.ID,
		Room:      evt.Info.Chat,
		Sender:    evt.Info.Sender,
		SenderAlt: evt.Info.SenderAlt,
		FromMe:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup,
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
		Contents:  extractContents(evt.Message),
		Mentions:  extractMentions(evt.Message),
		Raw:       evt.Message,
	}
}

// extractContents lists the text-bearing variants in precedence order.
func extractContents(m *waE2E.Message) []Content {
	if m == nil {
		return []Content{{Kind: kindOther}}
	}
	var out []Content
	if m.Conversation != nil {
		out = append(out, Content{Kind: kindPlainText, Text: m.GetConversation()})
	}
	if m.ExtendedTextMessage != nil {
		out = append(out, Content{Kind: kindExtendedText, Text: m.GetExtendedTextMessage().GetText()})
	}
	if m.ImageMessage != nil {
		out = append(out, Content{Kind: kindImageCaption, Text: m.GetImageMessage().GetCaption()})
	}
	if m.VideoMessage != nil {
		out = append(out, Content{Kind: kindVideoCaption, Text: m.GetVideoMessage().GetCaption()})
	}
	if len(out) == 0 {
		out = append(out, Content{Kind: kindOther})
	}
	return out
}

func extractMentions(m *waE2E.Message) []types.JID {
	if m == nil {
		return nil
	}
	var raw []string
	for _, ci := range []*waE2E.ContextInfo{
		m.GetExtendedTextMessage().GetContextInfo(),
		m.GetImageMessage().GetContextInfo(),
		m.GetVideoMessage().GetContextInfo(),
	} {
		raw = append(raw, ci.GetMentionedJID()...)
	}
	return dedupeJIDs(raw)
}

func dedupeJIDs(raw []string) []types.JID {
	seen := make(map[string]struct{}, len(raw))
	var out []types.JID
	for _, s := range raw {
		jid, err := types.ParseJID(s)
		if err != nil || jid.IsEmpty() {
			continue
		}
		key := jid.ToNonAD().String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, jid.ToNonAD())
	}
	return out
}

// Body is the first non-empty text variant, or "".
func (m *Message) Body() string {
	for _, c := range m.Contents {
		if c.Text != "" {
			return c.Text
		}
	}
	return ""
}

// SenderPhone is the sender's phone number, falling back to the alternate
// address when the primary one is a LID.
func (m *Message) SenderPhone() string {
	if m.Sender.Server == types.HiddenUserServer && !m.SenderAlt.IsEmpty() {
		return m.SenderAlt.User
	}
	return m.Sender.User
}

func (m *Message) senderKey() string {
	return m.Sender.ToNonAD().String()
}

var broadcastMarker = regexp.MustCompile(`(?i)(^|\s)@(all|everyone)\b`)

func hasBroadcastMarker(body string) bool {
	return broadcastMarker.MatchString(body)
}
