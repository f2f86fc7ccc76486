package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func viewOnceImage(caption string) *waE2E.Message {
	return &waE2E.Message{ViewOnceMessageV2: &waE2E.FutureProofMessage{Message: &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			DirectPath: proto.String("/v/secret.enc"),
			Mimetype:   proto.String("image/jpeg"),
			Caption:    proto.String(caption),
			ViewOnce:   proto.Bool(true),
		},
	}}}
}

func replyTo(msg *Message, quoted *waE2E.Message) *Message {
	msg.Raw = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String(msg.Body()),
		ContextInfo: &waE2E.ContextInfo{QuotedMessage: quoted},
	}}
	msg.Contents = extractContents(msg.Raw)
	return msg
}

func TestViewOnceMediaUnwrapsEveryWrapper(t *testing.T) {
	video := &waE2E.VideoMessage{DirectPath: proto.String("/v")}
	cases := []struct {
		name      string
		msg       *waE2E.Message
		wantImage bool
		wantVideo bool
	}{
		{"v2 image", viewOnceImage(""), true, false},
		{"v1 video", &waE2E.Message{ViewOnceMessage: &waE2E.FutureProofMessage{Message: &waE2E.Message{VideoMessage: video}}}, false, true},
		{"v2 extension", &waE2E.Message{ViewOnceMessageV2Extension: &waE2E.FutureProofMessage{Message: &waE2E.Message{VideoMessage: video}}}, false, true},
		{"flagged image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{ViewOnce: proto.Bool(true)}}, true, false},
		{"plain image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, false, false},
		{"text", &waE2E.Message{Conversation: proto.String("hi")}, false, false},
		{"nil", nil, false, false},
	}
	for _, tc := range cases {
		img, vid := viewOnceMedia(tc.msg)
		if (img != nil) != tc.wantImage || (vid != nil) != tc.wantVideo {
			t.Errorf("%s: image=%v video=%v", tc.name, img != nil, vid != nil)
		}
	}
}

func TestRevealViewOnceCommand(t *testing.T) {
	bot, fp, _ := newTestBot(t)
	bot.HandleMessage(context.Background(), replyTo(groupText(testMember, "!vv"), viewOnceImage("look")))

	if len(fp.uploads) != 1 || fp.uploads[0] != whatsmeow.MediaImage {
		t.Fatalf("uploads = %v", fp.uploads)
	}
	img := fp.sent[len(fp.sent)-1].msg.GetImageMessage()
	if img == nil {
		t.Fatalf("no image sent: %+v", fp.sent)
	}
	if img.GetViewOnce() || img.GetDirectPath() != "/fresh/media:/v/secret.enc" {
		t.Fatalf("revealed image = %+v", img)
	}
	if !strings.Contains(img.GetCaption(), "ViewOnce Revealed") || !strings.Contains(img.GetCaption(), "look") {
		t.Fatalf("caption = %q", img.GetCaption())
	}
}

func TestRevealViewOnceNeedsQuotedMedia(t *testing.T) {
	bot, fp, _ := newTestBot(t)
	bot.HandleMessage(context.Background(), directText(testMember, "!vv"))
	if got := fp.lastText(t); got != "❌ Reply to a view once image or video." {
		t.Fatalf("reply = %q", got)
	}
	if len(fp.uploads) != 0 {
		t.Fatalf("uploaded without media")
	}
}

func TestRevealViewOnceDownloadFailure(t *testing.T) {
	bot, fp, _ := newTestBot(t)
	fp.downloadErr = errors.New("media expired")
	bot.HandleMessage(context.Background(), replyTo(directText(testMember, "!vv"), viewOnceImage("")))
	if got := fp.lastText(t); !strings.Contains(got, "media expired") {
		t.Fatalf("reply = %q", got)
	}
}

func TestAntiDeleteForwardsViewOnceToOwner(t *testing.T) {
	bot, fp, store := newTestBot(t)
	ctx := context.Background()

	msg := directText(testMember, "")
	msg.PushName = "Member"
	msg.Raw = viewOnceImage("")
	msg.Contents = extractContents(msg.Raw)

	bot.HandleMessage(ctx, msg)
	if len(fp.sent) != 0 {
		t.Fatalf("forwarded view once while antidelete is off")
	}

	if _, err := store.UpdateUserSettings(ctx, func(u *UserSettings) { u.AntiDelete = true }); err != nil {
		t.Fatal(err)
	}
	bot.HandleMessage(ctx, msg)
	if len(fp.sent) != 1 || fp.sent[0].to.User != testOwner.User {
		t.Fatalf("sent = %+v, want one message to the owner", fp.sent)
	}
	img := fp.sent[0].msg.GetImageMessage()
	if img == nil || !strings.Contains(img.GetCaption(), "VIEW-ONCE DETECTED") || !strings.Contains(img.GetCaption(), "Member") {
		t.Fatalf("forwarded = %+v", fp.sent[0].msg)
	}
}
