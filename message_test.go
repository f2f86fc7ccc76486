package main

import (
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestMessageBodyPrecedence(t *testing.T) {
	cases := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{name: "nil", msg: nil, want: ""},
		{name: "conversation", msg: &waE2E.Message{Conversation: proto.String("hi")}, want: "hi"},
		{
			name: "extended",
			msg:  &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("ext")}},
			want: "ext",
		},
		{
			name: "image caption",
			msg:  &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("cap")}},
			want: "cap",
		},
		{
			name: "empty conversation falls through",
			msg: &waE2E.Message{
				Conversation:        proto.String(""),
				ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("ext")},
			},
			want: "ext",
		},
		{
			name: "conversation beats caption",
			msg: &waE2E.Message{
				Conversation: proto.String("conv"),
				ImageMessage: &waE2E.ImageMessage{Caption: proto.String("cap")},
			},
			want: "conv",
		},
		{name: "sticker only", msg: &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &Message{Contents: extractContents(tc.msg)}
			if got := m.Body(); got != tc.want {
				t.Fatalf("Body() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractMentionsDedupes(t *testing.T) {
	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String("hey"),
			ContextInfo: &waE2E.ContextInfo{MentionedJID: []string{
				"111@s.whatsapp.net",
				"222@s.whatsapp.net",
				"111@s.whatsapp.net",
				"garbage@@",
			}},
		},
	}
	got := extractMentions(msg)
	if len(got) != 2 {
		t.Fatalf("extractMentions() = %v, want 2 distinct", got)
	}
}

func TestMessageFromEvent(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:      types.NewJID("123", types.GroupServer),
				Sender:    types.NewJID("987", types.HiddenUserServer),
				SenderAlt: types.NewJID("555", types.DefaultUserServer),
				IsGroup:   true,
			},
			ID: "ABC",
		},
		Message: &waE2E.Message{Conversation: proto.String("!ping")},
	}
	m := messageFromEvent(evt)
	if m.Body() != "!ping" || !m.IsGroup || m.ID != "ABC" {
		t.Fatalf("messageFromEvent() = %+v", m)
	}
	if m.SenderPhone() != "555" {
		t.Fatalf("SenderPhone() = %q, want alt number for LID sender", m.SenderPhone())
	}
}

func TestParseJIDAndCleanID(t *testing.T) {
	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "923001234567", want: "923001234567@s.whatsapp.net", wantOK: true},
		{in: "@923001234567", want: "923001234567@s.whatsapp.net", wantOK: true},
		{in: "+92 300-1234567", want: "923001234567@s.whatsapp.net", wantOK: true},
		{in: "120363@g.us", want: "120363@g.us", wantOK: true},
		{in: "", wantOK: false},
		{in: "abc", wantOK: false},
	}
	for _, tc := range cases {
		got, ok := parseJID(tc.in)
		if ok != tc.wantOK {
			t.Fatalf("parseJID(%q) ok = %v", tc.in, ok)
		}
		if ok && got.String() != tc.want {
			t.Fatalf("parseJID(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}

	if got := getCleanID("123:7@s.whatsapp.net"); got != "123" {
		t.Fatalf("getCleanID() = %q", got)
	}
}

func TestBroadcastMarkerNeedsWholeWord(t *testing.T) {
	cases := map[string]bool{
		"@all please read":        true,
		"hey @everyone":           true,
		"HELLO @ALL!":             true,
		"@Everyone, meeting at 5": true,
		"thanks @alliance":        false,
		"ask @allen about it":     false,
		"mail me at x@all.com":    false,
		"no markers here":         false,
	}
	for body, want := range cases {
		if got := hasBroadcastMarker(body); got != want {
			t.Errorf("hasBroadcastMarker(%q) = %v, want %v", body, got, want)
		}
	}
}
