package main

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// registerCommands fills r with every built-in command.
func registerCommands(r *Registry) {
	table := []Command{
		{Name: "menu", Aliases: []string{"help", "list"}, Description: "Show this menu", Handler: handleMenu},
		{Name: "ping", Aliases: []string{"alive"}, Description: "Check the bot is up", Handler: handlePing},
		{Name: "vv", Aliases: []string{"viewonce", "revealonce"}, Description: "Reveal a view once image or video", Usage: "(reply)", Handler: handleViewOnce},

		{Name: "mode", Aliases: []string{"private", "public"}, Category: CategoryOwner, Description: "Public or private mode", Usage: "public|private", Handler: handleMode},
		{Name: "setprefix", Category: CategoryOwner, Description: "Change the command prefix", Usage: "<symbol>", Handler: handleSetPrefix},
		{Name: "setname", Category: CategoryOwner, Description: "Change the bot name", Usage: "<name>", Handler: handleSetName},
		{Name: "sudo", Aliases: []string{"addsudo", "makesudo"}, Category: CategoryOwner, Description: "Grant sudo", Usage: "@user", Handler: handleAddSudo},
		{Name: "delsudo", Aliases: []string{"removesudo", "unsudo"}, Category: CategoryOwner, Description: "Revoke sudo", Usage: "@user", Handler: handleDelSudo},
		{Name: "sudolist", Aliases: []string{"listsudo", "sudos"}, Category: CategoryOwner, Description: "List sudo users", Handler: handleSudoList},
		{Name: "addpremium", Category: CategoryOwner, Description: "Grant premium", Usage: "@user", Handler: handleAddPremium},
		{Name: "delpremium", Category: CategoryOwner, Description: "Revoke premium", Usage: "@user", Handler: handleDelPremium},

		{Name: "stats", Category: CategoryPremium, Description: "Bot statistics", Handler: handleStats},

		{Name: "warnings", Aliases: []string{"warns", "resetwarn"}, Category: CategoryAdmin, Description: "View or reset warnings", Usage: "[reset] @user", Handler: handleWarnings},
		{Name: "greet", Aliases: []string{"welcome", "goodbye"}, Category: CategoryAdmin, Description: "Welcome and goodbye messages", Usage: "welcome|goodbye|both", Handler: handleGreet},
		{Name: "kick", Aliases: []string{"remove"}, Category: CategoryAdmin, Description: "Remove a member", Usage: "@user", Handler: handleKick},
		{Name: "add", Category: CategoryAdmin, Description: "Add a member", Usage: "<number>", Handler: handleAdd},
		{Name: "promote", Category: CategoryAdmin, Description: "Make admin", Usage: "@user", Handler: handlePromote},
		{Name: "demote", Category: CategoryAdmin, Description: "Remove admin", Usage: "@user", Handler: handleDemote},
		{Name: "lock", Aliases: []string{"close", "mute"}, Category: CategoryAdmin, Description: "Only admins can talk", Handler: handleLock},
		{Name: "unlock", Aliases: []string{"open", "unmute"}, Category: CategoryAdmin, Description: "Everyone can talk", Handler: handleUnlock},
		{Name: "grouplink", Aliases: []string{"link", "revoke"}, Category: CategoryAdmin, Description: "Invite link", Usage: "[reset]", Handler: handleGroupLink},
		{Name: "tagall", Category: CategoryAdmin, Description: "Mention everyone", Usage: "[text]", Handler: handleTagAll},
		{Name: "hidetag", Aliases: []string{"tag"}, Category: CategoryAdmin, Description: "Silent mention", Usage: "<text>", Handler: handleHideTag},
	}
	for name := range protectionToggles {
		table = append(table, Command{
			Name:        name,
			Category:    CategoryAdmin,
			Description: "Toggle " + strings.TrimPrefix(name, "anti") + " protection",
			Usage:       "[on|off]",
			Handler:     handleProtectionToggle,
		})
	}
	for name := range automationToggles {
		table = append(table, Command{
			Name:        name,
			Category:    CategoryOwner,
			Description: "Toggle " + automationToggles[name].label,
			Usage:       "[on|off]",
			Handler:     handleAutomationToggle,
		})
	}
	for _, cmd := range table {
		r.Register(cmd)
	}
}

var categoryTitles = []struct {
	cat   Category
	title string
}{
	{CategoryUnrestricted, "🌐 GENERAL"},
	{CategoryAdmin, "🛡️ GROUP"},
	{CategoryPremium, "👑 PREMIUM"},
	{CategoryOwner, "🔐 OWNER"},
}

func handleMenu(ctx context.Context, c *CommandContext) error {
	p := c.User.Prefix
	var b strings.Builder
	fmt.Fprintf(&b, "╔═══════════════════════╗\n║ 🤖 %s\n╠═══════════════════════╣\n", c.User.BotName)
	fmt.Fprintf(&b, "║ 🔸 Prefix: %s\n║ 🔸 Mode: %s\n║ ⏱️ Uptime: %s\n", p, strings.ToUpper(string(c.User.Mode)), formatUptime(time.Since(startTime)))

	cmds := c.Registry.Commands()
	for _, ct := range categoryTitles {
		var lines []string
		for _, cmd := range cmds {
			if cmd.Category == ct.cat {
				lines = append(lines, fmt.Sprintf("║ │ 🔸 *%s%s* - %s", p, cmd.Name, cmd.Description))
			}
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "║\n║ ╭── %s ──╮\n%s\n║ ╰────────────╯\n", ct.title, strings.Join(lines, "\n"))
	}
	b.WriteString("╚═══════════════════════╝")
	c.Reply(ctx, b.String())
	return nil
}

func handlePing(ctx context.Context, c *CommandContext) error {
	start := time.Now()
	ok := c.Reply(ctx, "🏓 Pong!")
	if !ok {
		return nil
	}
	c.Send(ctx, boxMessage("⚡ PING STATUS",
		fmt.Sprintf("🚀 Speed: %d MS", time.Since(start).Milliseconds()),
		"⏱️ Uptime: "+formatUptime(time.Since(startTime)),
		"🟢 System Running"))
	return nil
}

func handleStats(ctx context.Context, c *CommandContext) error {
	s := c.Stats()
	sudo, err := c.Store.SudoUsers(ctx)
	if err != nil {
		return err
	}
	premium, err := c.Store.PremiumUsers(ctx)
	if err != nil {
		return err
	}
	c.Reply(ctx, boxMessage("📊 BOT STATS",
		"⏱️ Uptime: "+formatUptime(time.Since(startTime)),
		fmt.Sprintf("✅ Commands served: %d", s.Served),
		fmt.Sprintf("❌ Commands failed: %d", s.Failed),
		fmt.Sprintf("🛡️ Rooms with warnings: %d", s.Rooms),
		fmt.Sprintf("👑 Sudo users: %d", len(sudo)),
		fmt.Sprintf("💎 Premium users: %d", len(premium))))
	return nil
}
