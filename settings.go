package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ==================== Settings commands ====================

func onOff(b bool) string {
	if b {
		return "ON 🟢"
	}
	return "OFF 🔴"
}

// toggleArg reads an explicit on/off from args, otherwise flips current.
func toggleArg(args []string, current bool) (bool, bool) {
	if len(args) == 0 {
		return !current, true
	}
	switch strings.ToLower(args[0]) {
	case "on", "enable", "1", "true":
		return true, true
	case "off", "disable", "0", "false":
		return false, true
	}
	return current, false
}

type groupToggle struct {
	label     string
	field     func(*GroupSettings) *bool
	threshold func(*GroupSettings) *int
}

var protectionToggles = map[string]groupToggle{
	"antilink": {
		label:     "ANTI-LINK",
		field:     func(g *GroupSettings) *bool { return &g.Antilink },
		threshold: func(g *GroupSettings) *int { return &g.AntilinkThreshold },
	},
	"antispam": {
		label:     "ANTI-SPAM",
		field:     func(g *GroupSettings) *bool { return &g.Antispam },
		threshold: func(g *GroupSettings) *int { return &g.AntispamThreshold },
	},
	"antimention": {label: "ANTI-MENTION", field: func(g *GroupSettings) *bool { return &g.Antimention }},
	"antitag":     {label: "ANTI-TAG", field: func(g *GroupSettings) *bool { return &g.Antitag }},
	"antidemote":  {label: "ANTI-DEMOTE", field: func(g *GroupSettings) *bool { return &g.Antidemote }},
	"antipromote": {label: "ANTI-PROMOTE", field: func(g *GroupSettings) *bool { return &g.Antipromote }},
}

// handleProtectionToggle serves every anti* command.
//
//	!antilink            flip
//	!antilink on|off     set
//	!antilink limit 5    set the kick threshold (antilink and antispam only)
func handleProtectionToggle(ctx context.Context, c *CommandContext) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	tg, ok := protectionToggles[c.Command]
	if !ok {
		return fmt.Errorf("no toggle named %s", c.Command)
	}

	if len(c.Args) >= 1 && strings.EqualFold(c.Args[0], "limit") {
		if tg.threshold == nil {
			c.Reply(ctx, "❌ This protection has no warning limit.")
			return nil
		}
		if len(c.Args) < 2 {
			c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %s%s limit <number>", c.User.Prefix, c.Command))
			return nil
		}
		n, err := strconv.Atoi(c.Args[1])
		if err != nil || n < 1 || n > 20 {
			c.Reply(ctx, "❌ Limit must be a number between 1 and 20.")
			return nil
		}
		if _, err := c.Store.UpdateGroupSettings(ctx, c.Room.String(), func(g *GroupSettings) {
			*tg.threshold(g) = n
		}); err != nil {
			return err
		}
		c.Reply(ctx, boxMessage("⚙️ "+tg.label+" UPDATED", fmt.Sprintf("⚠️ *Kick after:* %d warnings", n)))
		return nil
	}

	current := false
	if c.Group != nil {
		current = *tg.field(c.Group)
	}
	next, ok := toggleArg(c.Args, current)
	if !ok {
		c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %s%s [on|off]", c.User.Prefix, c.Command))
		return nil
	}
	if _, err := c.Store.UpdateGroupSettings(ctx, c.Room.String(), func(g *GroupSettings) {
		*tg.field(g) = next
	}); err != nil {
		return err
	}
	c.Reply(ctx, boxMessage("⚙️ "+tg.label+" UPDATED", "📊 *Status:* "+onOff(next)))
	return nil
}

// handleGreet manages welcome and goodbye messages.
//
//	!greet                      show status
//	!greet welcome|goodbye|both flip
//	!welcome [off]              flip or disable
//	!welcome set <text>         custom template (@user, {group}, {count})
func handleGreet(ctx context.Context, c *CommandContext) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	g := c.Group
	if g == nil {
		gs := GroupSettings{}
		g = &gs
	}

	which := c.Command
	args := c.Args
	if which == "greet" {
		if len(args) == 0 {
			c.Reply(ctx, boxMessage("👋 GREET SETTINGS",
				"Welcome: "+onOff(g.Welcome),
				"Goodbye: "+onOff(g.Goodbye),
				"",
				fmt.Sprintf("%swelcome [off|set <text>]", c.User.Prefix),
				fmt.Sprintf("%sgoodbye [off|set <text>]", c.User.Prefix),
				fmt.Sprintf("%sgreet both", c.User.Prefix)))
			return nil
		}
		which, args = strings.ToLower(args[0]), args[1:]
	}

	var update func(*GroupSettings)
	var status string
	switch {
	case (which == "welcome" || which == "goodbye") && len(args) > 0 && strings.EqualFold(args[0], "set"):
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %s%s set <text>", c.User.Prefix, which))
			return nil
		}
		update = func(gs *GroupSettings) {
			if which == "welcome" {
				gs.WelcomeMessage, gs.Welcome = text, true
			} else {
				gs.GoodbyeMessage, gs.Goodbye = text, true
			}
		}
		status = strings.ToUpper(which[:1]) + which[1:] + " message saved"
	case which == "welcome":
		next, _ := toggleArg(args, g.Welcome)
		update = func(gs *GroupSettings) { gs.Welcome = next }
		status = "Welcome messages " + onOff(next)
	case which == "goodbye":
		next, _ := toggleArg(args, g.Goodbye)
		update = func(gs *GroupSettings) { gs.Goodbye = next }
		status = "Goodbye messages " + onOff(next)
	case which == "both":
		next := !g.Welcome
		update = func(gs *GroupSettings) { gs.Welcome, gs.Goodbye = next, next }
		status = "Both messages " + onOff(next)
	default:
		c.Reply(ctx, "❌ Invalid option. Use: welcome, goodbye, or both")
		return nil
	}

	if _, err := c.Store.UpdateGroupSettings(ctx, c.Room.String(), update); err != nil {
		return err
	}
	c.Reply(ctx, "✅ "+status)
	return nil
}

// handleWarnings shows or resets the warning ledger for this room.
func handleWarnings(ctx context.Context, c *CommandContext) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	p := c.User.Prefix
	if c.Command == "resetwarn" || (len(c.Args) > 0 && strings.EqualFold(c.Args[0], "reset")) {
		if len(c.Msg.Mentions) > 0 {
			target := c.Msg.Mentions[0]
			c.ResetWarnings(target)
			c.Send(ctx, "✅ Warnings reset for @"+target.User, target)
			return nil
		}
		n := c.ResetWarnings(types.EmptyJID)
		c.Reply(ctx, fmt.Sprintf("✅ All warnings reset in this group (%d users)", n))
		return nil
	}

	target, ok := c.Target()
	if !ok {
		c.Reply(ctx, boxMessage("⚠️ WARNINGS SYSTEM",
			p+"warnings @user - Check user warnings",
			p+"warnings reset @user - Reset user warnings",
			p+"warnings reset - Reset all warnings"))
		return nil
	}
	rec := c.Warnings(target)
	linkLimit, spamLimit := 3, 3
	if c.Group != nil {
		linkLimit = thresholdOr(c.Group.AntilinkThreshold, 3)
		spamLimit = thresholdOr(c.Group.AntispamThreshold, 3)
	}
	c.Send(ctx, boxMessage("⚠️ WARNINGS @"+target.User,
		fmt.Sprintf("🔗 Anti-Link: %d/%d", rec.LinkCount, linkLimit),
		fmt.Sprintf("🚫 Anti-Spam: %d/%d", rec.SpamCount, spamLimit),
		"",
		fmt.Sprintf("💡 Use %swarnings reset @user to reset", p)), target)
	return nil
}

// ==================== Owner settings ====================

func handleMode(ctx context.Context, c *CommandContext) error {
	var next Mode
	switch c.Command {
	case "private":
		next = ModePrivate
	case "public":
		next = ModePublic
	default:
		if len(c.Args) == 0 {
			c.Reply(ctx, boxMessage("⚙️ BOT MODE",
				"📊 *Current:* "+strings.ToUpper(string(c.User.Mode)),
				fmt.Sprintf("%smode public|private", c.User.Prefix)))
			return nil
		}
		switch Mode(strings.ToLower(c.Args[0])) {
		case ModePrivate:
			next = ModePrivate
		case ModePublic:
			next = ModePublic
		default:
			c.Reply(ctx, "❌ Mode must be public or private.")
			return nil
		}
	}
	if _, err := c.Store.UpdateUserSettings(ctx, func(u *UserSettings) { u.Mode = next }); err != nil {
		return err
	}
	desc := "Everyone can use the bot"
	if next == ModePrivate {
		desc = "Only owner and sudo users"
	}
	c.Reply(ctx, boxMessage("⚙️ MODE UPDATED", "📊 *Mode:* "+strings.ToUpper(string(next)), "👥 "+desc))
	return nil
}

func handleSetPrefix(ctx context.Context, c *CommandContext) error {
	if len(c.Args) == 0 {
		c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %ssetprefix <symbol>", c.User.Prefix))
		return nil
	}
	prefix := c.Args[0]
	if len([]rune(prefix)) > 3 {
		c.Reply(ctx, "❌ Prefix can be at most 3 characters.")
		return nil
	}
	if _, err := c.Store.UpdateUserSettings(ctx, func(u *UserSettings) { u.Prefix = prefix }); err != nil {
		return err
	}
	c.Reply(ctx, boxMessage("⚙️ PREFIX UPDATED", "🔸 *New prefix:* "+prefix, "💡 Example: "+prefix+"menu"))
	return nil
}

func handleSetName(ctx context.Context, c *CommandContext) error {
	name := strings.TrimSpace(strings.Join(c.Args, " "))
	if name == "" {
		c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %ssetname <name>", c.User.Prefix))
		return nil
	}
	if _, err := c.Store.UpdateUserSettings(ctx, func(u *UserSettings) { u.BotName = name }); err != nil {
		return err
	}
	c.Reply(ctx, "✅ Bot name set to *"+name+"*")
	return nil
}

// ==================== Sudo / premium ====================

func handleAddSudo(ctx context.Context, c *CommandContext) error {
	target, ok := c.AccountTarget(ctx)
	if !ok {
		c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %ssudo @user or number", c.User.Prefix))
		return nil
	}
	if target.User == c.Owner {
		c.Reply(ctx, "❌ The owner already has full access.")
		return nil
	}
	added, err := c.Store.AddSudo(ctx, target.User)
	if err != nil {
		return err
	}
	if !added {
		c.Reply(ctx, "ℹ️ @"+target.User+" is already a sudo user.")
		return nil
	}
	c.Send(ctx, "✅ @"+target.User+" is now a sudo user.", target)
	return nil
}

func handleDelSudo(ctx context.Context, c *CommandContext) error {
	target, ok := c.AccountTarget(ctx)
	if !ok {
		c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %sdelsudo @user or number", c.User.Prefix))
		return nil
	}
	removed, err := c.Store.RemoveSudo(ctx, target.User)
	if err != nil {
		return err
	}
	if !removed {
		c.Reply(ctx, "ℹ️ @"+target.User+" is not a sudo user.")
		return nil
	}
	c.Send(ctx, "✅ @"+target.User+" is no longer a sudo user.", target)
	return nil
}

func handleSudoList(ctx context.Context, c *CommandContext) error {
	list, err := c.Store.SudoUsers(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		c.Reply(ctx, "📋 No sudo users.")
		return nil
	}
	lines := make([]string, 0, len(list))
	for i, u := range list {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, u))
	}
	c.Reply(ctx, boxMessage(fmt.Sprintf("👑 SUDO USERS (%d)", len(list)), lines...))
	return nil
}

func handleAddPremium(ctx context.Context, c *CommandContext) error {
	target, ok := c.AccountTarget(ctx)
	if !ok {
		c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %saddpremium @user or number", c.User.Prefix))
		return nil
	}
	added, err := c.Store.AddPremium(ctx, target.User)
	if err != nil {
		return err
	}
	if !added {
		c.Reply(ctx, "ℹ️ Already premium.")
		return nil
	}
	c.Send(ctx, "👑 @"+target.User+" is now premium.", target)
	return nil
}

func handleDelPremium(ctx context.Context, c *CommandContext) error {
	target, ok := c.AccountTarget(ctx)
	if !ok {
		c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %sdelpremium @user or number", c.User.Prefix))
		return nil
	}
	removed, err := c.Store.RemovePremium(ctx, target.User)
	if err != nil {
		return err
	}
	if !removed {
		c.Reply(ctx, "ℹ️ Not a premium user.")
		return nil
	}
	c.Reply(ctx, "✅ Premium removed.")
	return nil
}

var automationToggles = map[string]struct {
	label string
	field func(*UserSettings) *bool
}{
	"autoreact":  {"AUTO-REACT", func(u *UserSettings) *bool { return &u.AutoReact }},
	"autowrite":  {"AUTO-TYPING", func(u *UserSettings) *bool { return &u.AutoWrite }},
	"autostatus": {"AUTO-STATUS VIEW", func(u *UserSettings) *bool { return &u.AutoStatus }},
	"antidelete": {"ANTI-DELETE", func(u *UserSettings) *bool { return &u.AntiDelete }},
	"anticall":   {"ANTI-CALL", func(u *UserSettings) *bool { return &u.AntiCall }},
}

// handleAutomationToggle flips the bot-wide automation switches.
func handleAutomationToggle(ctx context.Context, c *CommandContext) error {
	tg, ok := automationToggles[c.Command]
	if !ok {
		return fmt.Errorf("no toggle named %s", c.Command)
	}
	next, ok := toggleArg(c.Args, *tg.field(&c.User))
	if !ok {
		c.Reply(ctx, fmt.Sprintf("⚠️ Usage: %s%s [on|off]", c.User.Prefix, c.Command))
		return nil
	}
	if _, err := c.Store.UpdateUserSettings(ctx, func(u *UserSettings) {
		*tg.field(u) = next
	}); err != nil {
		return err
	}
	c.Reply(ctx, boxMessage("⚙️ "+tg.label+" UPDATED", "📊 *Status:* "+onOff(next)))
	return nil
}
