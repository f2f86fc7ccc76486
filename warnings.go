package main

import (
	"sync"
	"time"
)

const (
	spamWindow   = 5 * time.Second
	spamMaxBurst = 5
)

// WarningRecord is the per (room, user) moderation state. It only lives in
// memory and is gone after a restart.
type WarningRecord struct {
	LinkCount int
	SpamCount int

	recent     []time.Time
	linkKicked bool
	spamKicked bool
}

type warnKey struct {
	room string
	user string
}

// WarningLedger keeps warning counters for every (room, user) pair.
type WarningLedger struct {
	mu      sync.Mutex
	records map[warnKey]*WarningRecord
}

func NewWarningLedger() *WarningLedger {
	return &WarningLedger{records: make(map[warnKey]*WarningRecord)}
}

func (l *WarningLedger) record(room, user string) *WarningRecord {
	k := warnKey{room: room, user: user}
	r, ok := l.records[k]
	if !ok {
		r = &WarningRecord{}
		l.records[k] = r
	}
	return r
}

// Get returns a copy of the current counters. Unknown pairs read as zero.
func (l *WarningLedger) Get(room, user string) WarningRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[warnKey{room: room, user: user}]
	if !ok {
		return WarningRecord{}
	}
	return WarningRecord{LinkCount: r.LinkCount, SpamCount: r.SpamCount}
}

// TrackMessage appends now to the user's 5 second window and reports whether
// the window just went over the burst limit. The window is emptied when that
// happens so one burst yields one hit.
func (l *WarningLedger) TrackMessage(room, user string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.record(room, user)

	kept := r.recent[:0]
	for _, ts := range r.recent {
		if now.Sub(ts) < spamWindow {
			kept = append(kept, ts)
		}
	}
	r.recent = append(kept, now)
	if len(r.recent) > spamMaxBurst {
		r.recent = r.recent[:0]
		return true
	}
	return false
}

// AddLink bumps the link counter. kick is true only the first time the
// counter reaches threshold since the last reset or rejoin.
func (l *WarningLedger) AddLink(room, user string, threshold int) (count int, kick bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.record(room, user)
	r.LinkCount++
	if r.LinkCount >= threshold && !r.linkKicked {
		r.linkKicked = true
		kick = true
	}
	return r.LinkCount, kick
}

// AddSpam is AddLink for the spam counter.
func (l *WarningLedger) AddSpam(room, user string, threshold int) (count int, kick bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.record(room, user)
	r.SpamCount++
	if r.SpamCount >= threshold && !r.spamKicked {
		r.spamKicked = true
		kick = true
	}
	return r.SpamCount, kick
}

// Rejoined re-arms the kick for a user who came back after being removed.
// Counters are left alone.
func (l *WarningLedger) Rejoined(room, user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.records[warnKey{room: room, user: user}]; ok {
		r.linkKicked = false
		r.spamKicked = false
	}
}

// Reset drops the record for one user in one room.
func (l *WarningLedger) Reset(room, user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, warnKey{room: room, user: user})
}

// ResetRoom drops every record that belongs to room.
func (l *WarningLedger) ResetRoom(room string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k := range l.records {
		if k.room == room {
			delete(l.records, k)
			n++
		}
	}
	return n
}

// Rooms is the number of distinct rooms with at least one record.
func (l *WarningLedger) Rooms() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]struct{})
	for k := range l.records {
		seen[k.room] = struct{}{}
	}
	return len(seen)
}
