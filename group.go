package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
)

// ==================== Group commands ====================

var errGroupOnly = errors.New("this command works only in group chats")

func boxMessage(title string, lines ...string) string {
	var b strings.Builder
	b.WriteString("╔═══════════════════════╗\n")
	b.WriteString("║ " + title + "\n")
	b.WriteString("╠═══════════════════════╣\n")
	for _, l := range lines {
		b.WriteString("║ " + l + "\n")
	}
	b.WriteString("╚═══════════════════════╝")
	return b.String()
}

func requireGroup(c *CommandContext) error {
	if !c.IsGroup {
		return errGroupOnly
	}
	return nil
}

func handleKick(ctx context.Context, c *CommandContext) error {
	return groupAction(ctx, c, whatsmeow.ParticipantChangeRemove, "👢 MEMBER REMOVED")
}

func handlePromote(ctx context.Context, c *CommandContext) error {
	return groupAction(ctx, c, whatsmeow.ParticipantChangePromote, "⬆️ MEMBER PROMOTED")
}

func handleDemote(ctx context.Context, c *CommandContext) error {
	return groupAction(ctx, c, whatsmeow.ParticipantChangeDemote, "⬇️ MEMBER DEMOTED")
}

func groupAction(ctx context.Context, c *CommandContext, action whatsmeow.ParticipantChange, title string) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	target, ok := c.Target()
	if !ok {
		c.Reply(ctx, boxMessage("⚠️ INVALID FORMAT",
			"📝 Usage:",
			fmt.Sprintf("   %s%s @user", c.User.Prefix, c.Command),
			"   or reply to their message"))
		return nil
	}
	if action != whatsmeow.ParticipantChangePromote {
		if target.User == c.Owner {
			c.Reply(ctx, "❌ I won't do that to my owner.")
			return nil
		}
		if target.User == c.Provider.OwnID().User {
			c.Reply(ctx, "❌ I can't do that to myself.")
			return nil
		}
	}
	err := c.Do(ctx, func(ctx context.Context) error {
		return c.Provider.UpdateParticipants(ctx, c.Room, []types.JID{target}, action)
	})
	if err != nil {
		return fmt.Errorf("%s failed: %w", action, err)
	}
	if c.Admins != nil {
		c.Admins.Forget(c.Room)
	}
	c.Send(ctx, boxMessage(title, "👤 *User:* @"+target.User), target)
	return nil
}

func handleAdd(ctx context.Context, c *CommandContext) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	if len(c.Args) == 0 {
		c.Reply(ctx, boxMessage("⚠️ INVALID FORMAT",
			"📝 Usage:",
			fmt.Sprintf("   %sadd <number>", c.User.Prefix),
			"💡 Example:",
			fmt.Sprintf("   %sadd 923001234567", c.User.Prefix)))
		return nil
	}
	jid, ok := parseJID(c.Args[0])
	if !ok {
		c.Reply(ctx, "❌ Invalid number.")
		return nil
	}
	err := c.Do(ctx, func(ctx context.Context) error {
		return c.Provider.UpdateParticipants(ctx, c.Room, []types.JID{jid}, whatsmeow.ParticipantChangeAdd)
	})
	if err != nil {
		return fmt.Errorf("add failed: %w", err)
	}
	c.Reply(ctx, boxMessage("✅ MEMBER ADDED", "👤 *Number:* "+jid.User))
	return nil
}

func handleLock(ctx context.Context, c *CommandContext) error {
	return setLocked(ctx, c, true)
}

func handleUnlock(ctx context.Context, c *CommandContext) error {
	return setLocked(ctx, c, false)
}

func setLocked(ctx context.Context, c *CommandContext, locked bool) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	if err := c.Do(ctx, func(ctx context.Context) error {
		return c.Provider.SetLocked(ctx, c.Room, locked)
	}); err != nil {
		return fmt.Errorf("could not change group settings: %w", err)
	}
	if locked {
		c.Reply(ctx, boxMessage("🔒 GROUP CLOSED", "Only admins can send messages"))
	} else {
		c.Reply(ctx, boxMessage("🔓 GROUP OPENED", "All members can send messages"))
	}
	return nil
}

func handleGroupLink(ctx context.Context, c *CommandContext) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	reset := c.Command == "revoke" || (len(c.Args) > 0 && strings.EqualFold(c.Args[0], "reset"))
	var link string
	if err := c.Do(ctx, func(ctx context.Context) error {
		var err error
		link, err = c.Provider.InviteLink(ctx, c.Room, reset)
		return err
	}); err != nil {
		return fmt.Errorf("could not fetch invite link: %w", err)
	}
	title := "🔗 GROUP LINK"
	if reset {
		title = "🔄 LINK RESET"
	}
	c.Reply(ctx, boxMessage(title, link))
	return nil
}

func handleTagAll(ctx context.Context, c *CommandContext) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	info, err := c.Admins.Info(ctx, c.Room)
	if err != nil {
		return err
	}
	mentions := make([]types.JID, 0, len(info.Participants))
	lines := []string{}
	if len(c.Args) > 0 {
		lines = append(lines, "💬 "+strings.Join(c.Args, " "), "")
	}
	for _, p := range info.Participants {
		mentions = append(mentions, p.JID)
		lines = append(lines, "@"+p.JID.User)
	}
	lines = append(lines, "", fmt.Sprintf("👥 Total: %d members", len(info.Participants)))
	c.Send(ctx, boxMessage("📣 TAG ALL MEMBERS", lines...), mentions...)
	return nil
}

func handleHideTag(ctx context.Context, c *CommandContext) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	info, err := c.Admins.Info(ctx, c.Room)
	if err != nil {
		return err
	}
	mentions := make([]types.JID, 0, len(info.Participants))
	for _, p := range info.Participants {
		mentions = append(mentions, p.JID)
	}
	text := strings.Join(c.Args, " ")
	if text == "" {
		text = "📢"
	}
	c.Send(ctx, text, mentions...)
	return nil
}
