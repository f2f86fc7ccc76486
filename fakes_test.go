package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

type sentMessage struct {
	to  types.JID
	msg *waE2E.Message
}

func (s sentMessage) text() string {
	if s.msg.Conversation != nil {
		return s.msg.GetConversation()
	}
	return s.msg.GetExtendedTextMessage().GetText()
}

func (s sentMessage) mentions() []string {
	return s.msg.GetExtendedTextMessage().GetContextInfo().GetMentionedJID()
}

type participantCall struct {
	room   types.JID
	users  []types.JID
	action whatsmeow.ParticipantChange
}

type fakeProvider struct {
	mu sync.Mutex

	own              types.JID
	ownLID           types.JID
	sent             []sentMessage
	deleted          []types.MessageID
	participantCalls []participantCall
	readMarks        []types.MessageID
	typing           []bool
	uploads          []whatsmeow.MediaType
	rejectedCalls    []string
	downloadErr      error
	groups           map[types.JID]*types.GroupInfo
	infoCalls        int
	locked           map[types.JID]bool

	sendErrs       []error
	participantErr func(user types.JID) error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		own:    types.NewJID("10000", types.DefaultUserServer),
		ownLID: types.NewJID("88888", types.HiddenUserServer),
		groups: make(map[types.JID]*types.GroupInfo),
		locked: make(map[types.JID]bool),
	}
}

func (f *fakeProvider) OwnID() types.JID { return f.own }

func (f *fakeProvider) OwnLID() types.JID { return f.ownLID }

func (f *fakeProvider) SendMessage(_ context.Context, to types.JID, msg *waE2E.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{to: to, msg: proto.Clone(msg).(*waE2E.Message)})
	return nil
}

func (f *fakeProvider) DeleteMessage(_ context.Context, _ types.JID, _ types.JID, id types.MessageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeProvider) UpdateParticipants(_ context.Context, room types.JID, users []types.JID, action whatsmeow.ParticipantChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participantCalls = append(f.participantCalls, participantCall{room: room, users: users, action: action})
	if f.participantErr != nil {
		for _, u := range users {
			if err := f.participantErr(u); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakeProvider) GroupInfo(_ context.Context, room types.JID) (*types.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	info, ok := f.groups[room]
	if !ok {
		return nil, fmt.Errorf("group %s not found", room)
	}
	return info, nil
}

func (f *fakeProvider) InviteLink(_ context.Context, room types.JID, reset bool) (string, error) {
	if reset {
		return "https://chat.whatsapp.com/reset-" + room.User, nil
	}
	return "https://chat.whatsapp.com/" + room.User, nil
}

func (f *fakeProvider) SetLocked(_ context.Context, room types.JID, locked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[room] = locked
	return nil
}

func (f *fakeProvider) MarkRead(_ context.Context, ids []types.MessageID, _ time.Time, _, _ types.JID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readMarks = append(f.readMarks, ids...)
	return nil
}

func (f *fakeProvider) SetTyping(_ context.Context, _ types.JID, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typing)
	return nil
}

func (f *fakeProvider) Download(_ context.Context, media whatsmeow.DownloadableMessage) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return append([]byte("media:"), media.GetDirectPath()...), nil
}

func (f *fakeProvider) Upload(_ context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, mediaType)
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/fresh",
		DirectPath: "/fresh/" + string(data),
		MediaKey:   []byte("key"),
	}, nil
}

func (f *fakeProvider) RejectCall(_ context.Context, _ types.JID, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectedCalls = append(f.rejectedCalls, callID)
	return nil
}

func (f *fakeProvider) groupInfoCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoCalls
}

func (f *fakeProvider) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if t := s.text(); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeProvider) lastText(t *testing.T) string {
	t.Helper()
	texts := f.sentTexts()
	if len(texts) == 0 {
		t.Fatalf("nothing was sent")
	}
	return texts[len(texts)-1]
}

func (f *fakeProvider) deletions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

func (f *fakeProvider) calls(action whatsmeow.ParticipantChange) []participantCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []participantCall
	for _, c := range f.participantCalls {
		if c.action == action {
			out = append(out, c)
		}
	}
	return out
}

func containsText(texts []string, sub string) bool {
	for _, t := range texts {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

var errFakeKick = errors.New("not-authorized")

// --- fixtures ---

var (
	testGroup  = types.NewJID("120363000000", types.GroupServer)
	testOwner  = types.NewJID("923001234567", types.DefaultUserServer)
	testAdmin  = types.NewJID("923110000001", types.DefaultUserServer)
	testMember = types.NewJID("923220000002", types.DefaultUserServer)
)

func seedGroup(fp *fakeProvider) {
	fp.groups[testGroup] = &types.GroupInfo{
		JID:       testGroup,
		GroupName: types.GroupName{Name: "Test Group"},
		Participants: []types.GroupParticipant{
			{JID: testOwner},
			{JID: testAdmin, IsAdmin: true},
			{JID: testMember},
			{JID: fp.own, IsAdmin: true},
		},
	}
}

var msgSeq int

func groupText(sender types.JID, body string, mentions ...string) *Message {
	msgSeq++
	raw := &waE2E.Message{Conversation: proto.String(body)}
	if len(mentions) > 0 {
		raw = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(body),
			ContextInfo: &waE2E.ContextInfo{MentionedJID: mentions},
		}}
	}
	return &Message{
		ID:        types.MessageID(fmt.Sprintf("MSG%d", msgSeq)),
		Room:      testGroup,
		Sender:    sender,
		IsGroup:   true,
		Timestamp: time.Now(),
		Contents:  extractContents(raw),
		Mentions:  extractMentions(raw),
		Raw:       raw,
	}
}

func directText(sender types.JID, body string) *Message {
	msgSeq++
	raw := &waE2E.Message{Conversation: proto.String(body)}
	return &Message{
		ID:        types.MessageID(fmt.Sprintf("MSG%d", msgSeq)),
		Room:      sender,
		Sender:    sender,
		Timestamp: time.Now(),
		Contents:  extractContents(raw),
		Raw:       raw,
	}
}
