package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Category gates who may run a command.
type Category string

const (
	CategoryUnrestricted Category = "unrestricted"
	CategoryOwner        Category = "owner_only"
	CategoryPremium      Category = "premium_only"
	CategoryAdmin        Category = "admin_only"
)

type DenyReason string

const (
	ReasonAccessDenied DenyReason = "ACCESS_DENIED"
	ReasonOwnerOnly    DenyReason = "OWNER_ONLY"
	ReasonPremiumOnly  DenyReason = "PREMIUM_ONLY"
	ReasonAdminOnly    DenyReason = "ADMIN_ONLY"
)

type Decision struct {
	Allowed bool
	Reason  DenyReason
	Silent  bool
}

var allow = Decision{Allowed: true}

// PermissionRequest carries everything Evaluate looks at.
type PermissionRequest struct {
	Mode     Mode
	Category Category
	IsGroup  bool
	Room     types.JID
	Sender   types.JID
	Owner    bool
	Sudo     bool
	Premium  bool
}

// AdminChecker answers "is user an admin of room".
type AdminChecker interface {
	IsAdmin(ctx context.Context, room, user types.JID) (bool, error)
}

type Permissions struct {
	admins     AdminChecker
	failClosed bool
	log        waLog.Logger
}

func NewPermissions(admins AdminChecker, failClosed bool, log waLog.Logger) *Permissions {
	if log == nil {
		log = waLog.Noop
	}
	return &Permissions{admins: admins, failClosed: failClosed, log: log}
}

// Evaluate decides whether req may run. Any internal failure allows the
// command unless the evaluator was built fail-closed.
func (p *Permissions) Evaluate(ctx context.Context, req PermissionRequest) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = p.onError(fmt.Errorf("panic: %v", r))
		}
	}()

	if req.Mode == ModePrivate && !req.Owner && !req.Sudo {
		return Decision{Reason: ReasonAccessDenied, Silent: true}
	}
	if req.Owner {
		return allow
	}

	switch req.Category {
	case CategoryOwner:
		return Decision{Reason: ReasonOwnerOnly}
	case CategoryPremium:
		if !req.Premium {
			return Decision{Reason: ReasonPremiumOnly}
		}
	case CategoryAdmin:
		if !req.IsGroup {
			return allow
		}
		if p.admins == nil {
			return p.onError(fmt.Errorf("no admin checker"))
		}
		ok, err := p.admins.IsAdmin(ctx, req.Room, req.Sender)
		if err != nil {
			return p.onError(err)
		}
		if !ok {
			return Decision{Reason: ReasonAdminOnly}
		}
	}
	return allow
}

func (p *Permissions) onError(err error) Decision {
	if p.failClosed {
		p.log.Errorf("❌ [PERMISSION] Check failed, denying: %v", err)
		return Decision{Reason: ReasonAccessDenied}
	}
	p.log.Errorf("❌ [PERMISSION] Check failed, allowing: %v", err)
	return allow
}

// isOwnerMessage resolves owner identity. In a direct chat the room is the
// sender; in a group the participant address is compared instead.
func isOwnerMessage(msg *Message, owner string) bool {
	if msg.FromMe {
		return true
	}
	if owner == "" {
		return false
	}
	if !msg.IsGroup && msg.Room.Server == types.DefaultUserServer {
		return getCleanID(msg.Room.User) == owner
	}
	if getCleanID(msg.Sender.User) == owner {
		return true
	}
	return !msg.SenderAlt.IsEmpty() && getCleanID(msg.SenderAlt.User) == owner
}

// --- group metadata ---

const groupMetadataTTL = 30 * time.Minute

type groupInfoFetcher interface {
	GroupInfo(ctx context.Context, room types.JID) (*types.GroupInfo, error)
}

// GroupAdmins caches group metadata and answers admin lookups from it.
type GroupAdmins struct {
	fetch groupInfoFetcher
	cache *cache.Cache
	mu    sync.Mutex
}

func NewGroupAdmins(fetch groupInfoFetcher) *GroupAdmins {
	return &GroupAdmins{
		fetch: fetch,
		cache: cache.New(groupMetadataTTL, 10*time.Minute),
	}
}

func (g *GroupAdmins) Info(ctx context.Context, room types.JID) (*types.GroupInfo, error) {
	key := room.String()
	if v, ok := g.cache.Get(key); ok {
		return v.(*types.GroupInfo), nil
	}
	// one fetch per room at a time
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.cache.Get(key); ok {
		return v.(*types.GroupInfo), nil
	}
	info, err := g.fetch.GroupInfo(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("group metadata %s: %w", room, err)
	}
	g.cache.SetDefault(key, info)
	return info, nil
}

// Forget drops cached metadata, e.g. after a membership change.
func (g *GroupAdmins) Forget(room types.JID) {
	g.cache.Delete(room.String())
}

func (g *GroupAdmins) IsAdmin(ctx context.Context, room, user types.JID) (bool, error) {
	info, err := g.Info(ctx, room)
	if err != nil {
		return false, err
	}
	p, ok := findParticipant(info, user)
	if !ok {
		return false, nil
	}
	return p.IsAdmin || p.IsSuperAdmin, nil
}

// PhoneNumber maps a LID-addressed participant of room to their phone JID.
func (g *GroupAdmins) PhoneNumber(ctx context.Context, room, user types.JID) (types.JID, bool) {
	info, err := g.Info(ctx, room)
	if err != nil {
		return types.EmptyJID, false
	}
	p, ok := findParticipant(info, user)
	switch {
	case !ok:
		return types.EmptyJID, false
	case !p.PhoneNumber.IsEmpty():
		return p.PhoneNumber.ToNonAD(), true
	case p.JID.Server == types.DefaultUserServer:
		return p.JID.ToNonAD(), true
	}
	return types.EmptyJID, false
}

func findParticipant(info *types.GroupInfo, user types.JID) (types.GroupParticipant, bool) {
	want := user.ToNonAD()
	for _, p := range info.Participants {
		if p.JID.ToNonAD() == want || (!p.LID.IsEmpty() && p.LID.ToNonAD() == want) {
			return p, true
		}
	}
	return types.GroupParticipant{}, false
}
