package main

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

var errNotViewOnce = errors.New("not a view once message")

// viewOnceMedia digs the image or video out of any of the view-once wrappers.
func viewOnceMedia(m *waE2E.Message) (*waE2E.ImageMessage, *waE2E.VideoMessage) {
	if m == nil {
		return nil, nil
	}
	for _, inner := range []*waE2E.Message{
		m.GetViewOnceMessage().GetMessage(),
		m.GetViewOnceMessageV2().GetMessage(),
		m.GetViewOnceMessageV2Extension().GetMessage(),
	} {
		if inner == nil {
			continue
		}
		if img := inner.GetImageMessage(); img != nil {
			return img, nil
		}
		if vid := inner.GetVideoMessage(); vid != nil {
			return nil, vid
		}
	}
	if img := m.GetImageMessage(); img != nil && img.GetViewOnce() {
		return img, nil
	}
	if vid := m.GetVideoMessage(); vid != nil && vid.GetViewOnce() {
		return nil, vid
	}
	return nil, nil
}

func isViewOnce(m *waE2E.Message) bool {
	img, vid := viewOnceMedia(m)
	return img != nil || vid != nil
}

// revealViewOnce downloads the view-once media in m and uploads it again as
// an ordinary image or video. label heads the caption.
func revealViewOnce(ctx context.Context, p Provider, m *waE2E.Message, label string, ctxInfo *waE2E.ContextInfo) (*waE2E.Message, error) {
	img, vid := viewOnceMedia(m)
	switch {
	case img != nil:
		data, err := p.Download(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("download image: %w", err)
		}
		up, err := p.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("upload image: %w", err)
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(data))),
			Mimetype:      proto.String(orDefault(img.GetMimetype(), "image/jpeg")),
			Caption:       proto.String(revealCaption(label, img.GetCaption())),
			ContextInfo:   ctxInfo,
		}}, nil
	case vid != nil:
		data, err := p.Download(ctx, vid)
		if err != nil {
			return nil, fmt.Errorf("download video: %w", err)
		}
		up, err := p.Upload(ctx, data, whatsmeow.MediaVideo)
		if err != nil {
			return nil, fmt.Errorf("upload video: %w", err)
		}
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(data))),
			Mimetype:      proto.String(orDefault(vid.GetMimetype(), "video/mp4")),
			Caption:       proto.String(revealCaption(label, vid.GetCaption())),
			ContextInfo:   ctxInfo,
		}}, nil
	}
	return nil, errNotViewOnce
}

func revealCaption(label, caption string) string {
	if caption == "" {
		return label
	}
	return label + "\n\n📝 " + caption
}

func handleViewOnce(ctx context.Context, c *CommandContext) error {
	quoted := c.Msg.Raw.GetExtendedTextMessage().GetContextInfo().GetQuotedMessage()
	if !isViewOnce(quoted) {
		c.Reply(ctx, "❌ Reply to a view once image or video.")
		return nil
	}
	c.dispatcher.log.Infof("🔍 [VV] Revealing view once in %s", c.Room)
	out, err := revealViewOnce(ctx, c.Provider, quoted, "🫣 *ViewOnce Revealed*", quotedContext(c.Msg))
	if err != nil {
		return err
	}
	return c.Do(ctx, func(ctx context.Context) error {
		return c.Provider.SendMessage(ctx, c.Room, out)
	})
}
