package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type MembershipAction string

const (
	MemberAdd     MembershipAction = "add"
	MemberRemove  MembershipAction = "remove"
	MemberPromote MembershipAction = "promote"
	MemberDemote  MembershipAction = "demote"
)

// MembershipEvent is one kind of change applied to a set of participants.
type MembershipEvent struct {
	Room         types.JID
	Action       MembershipAction
	Participants []types.JID
	Actor        types.JID
}

// membershipEvents splits a GroupInfo notification into one event per action.
func membershipEvents(evt *events.GroupInfo) []MembershipEvent {
	var actor types.JID
	if evt.Sender != nil {
		actor = evt.Sender.ToNonAD()
	}
	// LID-addressed groups carry the phone number separately
	if actor.Server == types.HiddenUserServer && evt.SenderPN != nil && !evt.SenderPN.IsEmpty() {
		actor = evt.SenderPN.ToNonAD()
	}
	var out []MembershipEvent
	add := func(action MembershipAction, users []types.JID) {
		if len(users) > 0 {
			out = append(out, MembershipEvent{Room: evt.JID, Action: action, Participants: users, Actor: actor})
		}
	}
	add(MemberAdd, evt.Join)
	add(MemberRemove, evt.Leave)
	add(MemberPromote, evt.Promote)
	add(MemberDemote, evt.Demote)
	return out
}

const (
	reversalGrace          = time.Second
	defaultWelcomeTemplate = "👋 Welcome @user to {group}!\nWe are now {count} members."
	defaultGoodbyeTemplate = "👋 @user has left {group}.\nWe are now {count} members."
)

// Reactor answers membership changes: it undoes unwanted promotions and
// demotions and greets people coming and going.
type Reactor struct {
	provider Provider
	store    SettingsStore
	admins   *GroupAdmins
	ledger   *WarningLedger
	limiter  *RateLimiter
	log      waLog.Logger
	grace    time.Duration
}

func NewReactor(provider Provider, store SettingsStore, admins *GroupAdmins, ledger *WarningLedger, limiter *RateLimiter, log waLog.Logger) *Reactor {
	if log == nil {
		log = waLog.Noop
	}
	return &Reactor{
		provider: provider,
		store:    store,
		admins:   admins,
		ledger:   ledger,
		limiter:  limiter,
		log:      log,
		grace:    reversalGrace,
	}
}

func (r *Reactor) Handle(ctx context.Context, evt MembershipEvent) {
	if r.admins != nil {
		r.admins.Forget(evt.Room)
	}

	gs, err := r.store.GroupSettings(ctx, evt.Room.String())
	if err != nil {
		r.log.Errorf("❌ [GROUP] settings for %s: %v", evt.Room, err)
		return
	}

	// our own reversals come back as events too
	selfMade := r.byBot(evt.Actor)

	switch evt.Action {
	case MemberDemote:
		if gs.Antidemote && !selfMade {
			r.reverse(ctx, evt, whatsmeow.ParticipantChangePromote)
		}
	case MemberPromote:
		if gs.Antipromote && !selfMade {
			r.reverse(ctx, evt, whatsmeow.ParticipantChangeDemote)
		}
	case MemberAdd:
		for _, p := range evt.Participants {
			r.ledger.Rejoined(evt.Room.String(), p.ToNonAD().String())
		}
		if gs.Welcome {
			r.greet(ctx, evt, orDefault(gs.WelcomeMessage, defaultWelcomeTemplate))
		}
	case MemberRemove:
		if gs.Goodbye {
			r.greet(ctx, evt, orDefault(gs.GoodbyeMessage, defaultGoodbyeTemplate))
		}
	}
}

func (r *Reactor) byBot(actor types.JID) bool {
	if actor.IsEmpty() {
		return false
	}
	for _, own := range []types.JID{r.provider.OwnID(), r.provider.OwnLID()} {
		if !own.IsEmpty() && actor.User == own.User {
			return true
		}
	}
	return false
}

// reverse re-applies the opposite change for each participant, one at a time.
// A failure for one participant does not stop the rest.
func (r *Reactor) reverse(ctx context.Context, evt MembershipEvent, undo whatsmeow.ParticipantChange) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(r.grace):
	}
	for _, p := range evt.Participants {
		user := p.ToNonAD()
		var opErr error
		r.limiter.Do(ctx, evt.Room.String(), func(ctx context.Context) error {
			opErr = r.provider.UpdateParticipants(ctx, evt.Room, []types.JID{user}, undo)
			return opErr
		})
		if opErr != nil {
			r.log.Errorf("❌ [ANTI-%s] %s in %s: %v", strings.ToUpper(string(evt.Action)), user.User, evt.Room, opErr)
			continue
		}
		r.log.Infof("🛡️ [ANTI-%s] Reverted %s in %s", strings.ToUpper(string(evt.Action)), user.User, evt.Room)
	}
}

func (r *Reactor) greet(ctx context.Context, evt MembershipEvent, template string) {
	subject, count := evt.Room.User, 0
	if r.admins != nil {
		if info, err := r.admins.Info(ctx, evt.Room); err == nil {
			subject = info.GroupName.Name
			count = len(info.Participants)
		} else {
			r.log.Warnf("⚠️ [GROUP] metadata for greeting in %s: %v", evt.Room, err)
		}
	}
	for _, p := range evt.Participants {
		user := p.ToNonAD()
		text := renderGreeting(template, user, subject, count)
		r.limiter.Do(ctx, evt.Room.String(), func(ctx context.Context) error {
			return r.provider.SendMessage(ctx, evt.Room, textMessage(text, user))
		})
	}
}

// renderGreeting fills @user, {group} and {count} in a greeting template.
func renderGreeting(template string, user types.JID, subject string, count int) string {
	return strings.NewReplacer(
		"@user", "@"+user.User,
		"{user}", "@"+user.User,
		"{group}", subject,
		"{count}", fmt.Sprint(count),
	).Replace(template)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
