package main

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type CommandHandler func(ctx context.Context, c *CommandContext) error

type Command struct {
	Name        string
	Aliases     []string
	Category    Category
	Description string
	Usage       string
	Handler     CommandHandler
}

// Registry maps lower-cased names and aliases to commands. A later
// registration for the same name replaces the earlier one.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

func (r *Registry) Register(cmd Command) {
	if cmd.Category == "" {
		cmd.Category = CategoryUnrestricted
	}
	c := &cmd
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[strings.ToLower(cmd.Name)] = c
	for _, a := range cmd.Aliases {
		r.byName[strings.ToLower(a)] = c
	}
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[strings.ToLower(name)]
	return c, ok
}

// Commands lists every distinct command that is still reachable by its own
// name, sorted by name.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Command
	for name, c := range r.byName {
		if strings.ToLower(c.Name) == name {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CommandContext is everything a handler gets to work with.
type CommandContext struct {
	Provider Provider
	Store    SettingsStore
	Registry *Registry
	Admins   *GroupAdmins

	Msg     *Message
	Command string
	Args    []string
	Owner   string
	User    UserSettings
	Group   *GroupSettings
	Room    types.JID
	IsGroup bool

	dispatcher *Dispatcher
}

func (c *CommandContext) Reply(ctx context.Context, text string) bool {
	return c.dispatcher.limiter.Do(ctx, c.Room.String(), func(ctx context.Context) error {
		return c.Provider.SendMessage(ctx, c.Room, quotedTextMessage(c.Msg, text))
	})
}

func (c *CommandContext) Send(ctx context.Context, text string, mentions ...types.JID) bool {
	return c.dispatcher.limiter.Do(ctx, c.Room.String(), func(ctx context.Context) error {
		return c.Provider.SendMessage(ctx, c.Room, textMessage(text, mentions...))
	})
}

// Do runs a provider operation through the rate limiter and returns its error.
func (c *CommandContext) Do(ctx context.Context, op func(context.Context) error) error {
	var opErr error
	ok := c.dispatcher.limiter.Do(ctx, c.Room.String(), func(ctx context.Context) error {
		opErr = op(ctx)
		return opErr
	})
	if !ok && opErr == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrNotConnected
	}
	return opErr
}

// Warnings reads the ledger for user in the current room.
func (c *CommandContext) Warnings(user types.JID) WarningRecord {
	return c.dispatcher.ledger.Get(c.Room.String(), user.ToNonAD().String())
}

// ResetWarnings clears user in the current room, or the whole room when
// user is empty.
func (c *CommandContext) ResetWarnings(user types.JID) int {
	if user.IsEmpty() {
		return c.dispatcher.ledger.ResetRoom(c.Room.String())
	}
	c.dispatcher.ledger.Reset(c.Room.String(), user.ToNonAD().String())
	return 1
}

func (c *CommandContext) Stats() DispatchStats {
	return c.dispatcher.Stats()
}

// Target resolves the user a moderation command points at: the first mention,
// then the quoted participant, then the first argument.
func (c *CommandContext) Target() (types.JID, bool) {
	if len(c.Msg.Mentions) > 0 {
		return c.Msg.Mentions[0], true
	}
	if p := c.Msg.Raw.GetExtendedTextMessage().GetContextInfo().GetParticipant(); p != "" {
		if jid, ok := parseJID(p); ok {
			return jid.ToNonAD(), true
		}
	}
	if len(c.Args) > 0 {
		return parseJID(c.Args[0])
	}
	return types.EmptyJID, false
}

// AccountTarget is Target with LID mentions resolved to phone numbers, which
// is how the sudo and premium lists identify people.
func (c *CommandContext) AccountTarget(ctx context.Context) (types.JID, bool) {
	target, ok := c.Target()
	if !ok || target.Server != types.HiddenUserServer {
		return target, ok
	}
	if c.IsGroup && c.Admins != nil {
		if pn, found := c.Admins.PhoneNumber(ctx, c.Room, target); found {
			return pn, true
		}
	}
	return target, true
}

type DispatchStats struct {
	Served int64
	Failed int64
	Rooms  int
}

// Dispatcher turns prefixed messages into command invocations.
type Dispatcher struct {
	cfg      *BotConfig
	provider Provider
	store    SettingsStore
	registry *Registry
	perms    *Permissions
	admins   *GroupAdmins
	ledger   *WarningLedger
	limiter  *RateLimiter
	log      waLog.Logger

	served atomic.Int64
	failed atomic.Int64
}

func NewDispatcher(cfg *BotConfig, provider Provider, store SettingsStore, registry *Registry, perms *Permissions, admins *GroupAdmins, ledger *WarningLedger, limiter *RateLimiter, log waLog.Logger) *Dispatcher {
	if log == nil {
		log = waLog.Noop
	}
	return &Dispatcher{
		cfg:      cfg,
		provider: provider,
		store:    store,
		registry: registry,
		perms:    perms,
		admins:   admins,
		ledger:   ledger,
		limiter:  limiter,
		log:      log,
	}
}

// parseCommand splits "!Add 2376 x" into ("add", ["2376", "x"]).
func parseCommand(body, prefix string) (string, []string, bool) {
	body = strings.TrimSpace(body)
	if prefix == "" || !strings.HasPrefix(body, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(body, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

var denialMessages = map[DenyReason]string{
	ReasonOwnerOnly:   "❌ This command can only be used by the bot owner.",
	ReasonPremiumOnly: "👑 This is a premium command. Contact owner to upgrade.",
	ReasonAdminOnly:   "🔧 This command can only be used by group admins.",
}

// Dispatch runs the command in msg. It reports false when msg is not a
// command at all.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message, us UserSettings) bool {
	name, args, ok := parseCommand(msg.Body(), us.Prefix)
	if !ok {
		return false
	}
	room := msg.Room.String()
	d.log.Infof("🚀 [EXEC] CMD: %s | Chat: %s | From: %s", name, room, msg.Sender.User)

	cmd, found := d.registry.Lookup(name)
	if !found {
		d.limiter.Do(ctx, room, func(ctx context.Context) error {
			return d.provider.SendMessage(ctx, msg.Room, textMessage(
				fmt.Sprintf("❌ Unknown command: %s\nUse %shelp", name, us.Prefix)))
		})
		return true
	}

	owner := isOwnerMessage(msg, d.cfg.Owner)
	req := PermissionRequest{
		Mode:     us.Mode,
		Category: cmd.Category,
		IsGroup:  msg.IsGroup,
		Room:     msg.Room,
		Sender:   msg.Sender,
		Owner:    owner,
	}
	if !owner {
		var err error
		if req.Sudo, err = isSudo(ctx, d.store, msg.SenderPhone(), msg.Sender.User); err != nil {
			d.log.Warnf("⚠️ [PERMISSION] sudo lookup: %v", err)
		}
		if cmd.Category == CategoryPremium {
			if req.Premium, err = isPremium(ctx, d.store, msg.SenderPhone(), msg.Sender.User); err != nil {
				d.log.Warnf("⚠️ [PERMISSION] premium lookup: %v", err)
			}
		}
	}

	decision := d.perms.Evaluate(ctx, req)
	if !decision.Allowed {
		if decision.Silent {
			d.log.Debugf("🔒 [PRIVATE] Ignored %s from %s", name, msg.Sender.User)
			return true
		}
		text, ok := denialMessages[decision.Reason]
		if !ok {
			text = "❌ You do not have permission to use this command."
		}
		d.limiter.Do(ctx, room, func(ctx context.Context) error {
			return d.provider.SendMessage(ctx, msg.Room, textMessage(text))
		})
		return true
	}

	cc := &CommandContext{
		Provider:   d.provider,
		Store:      d.store,
		Registry:   d.registry,
		Admins:     d.admins,
		Msg:        msg,
		Command:    name,
		Args:       args,
		Owner:      d.cfg.Owner,
		User:       us,
		Room:       msg.Room,
		IsGroup:    msg.IsGroup,
		dispatcher: d,
	}
	if msg.IsGroup {
		gs, err := d.store.GroupSettings(ctx, room)
		if err != nil {
			d.log.Warnf("⚠️ [SETTINGS] group %s: %v", room, err)
			gs = d.cfg.DefaultGroupSettings(room)
		}
		cc.Group = &gs
	}

	if err := d.run(ctx, cmd, cc); err != nil {
		d.failed.Add(1)
		d.log.Errorf("❌ [CMD] %s failed: %v", name, err)
		d.limiter.Do(ctx, room, func(ctx context.Context) error {
			return d.provider.SendMessage(ctx, msg.Room, textMessage("❌ Error: "+err.Error()))
		})
		return true
	}
	d.served.Add(1)
	return true
}

func (d *Dispatcher) run(ctx context.Context, cmd *Command, cc *CommandContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("⚠️ [CRASH PREVENTED] %s: %v\n%s", cmd.Name, r, debug.Stack())
			err = fmt.Errorf("internal error in %s", cmd.Name)
		}
	}()
	return cmd.Handler(ctx, cc)
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Served: d.served.Load(),
		Failed: d.failed.Load(),
		Rooms:  d.ledger.Rooms(),
	}
}
