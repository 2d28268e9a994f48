package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"wardenbot/internal/automod"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeStrikes struct {
	mu     sync.Mutex
	counts map[string]int
}

func strikeKey(guildID, userID string) string { return guildID + ":" + userID }

func (s *fakeStrikes) IncrementMemberStrikes(_ context.Context, guildID, userID string, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strikeKey(guildID, userID)
	if s.counts[key] >= limit {
		return s.counts[key], true, nil
	}
	s.counts[key]++
	return s.counts[key], false, nil
}

type timeoutCall struct {
	userID string
	until  time.Time
}

type fakeActions struct {
	deleted    []string
	purged     [][]string
	timeouts   []timeoutCall
	notices    []string
	deleteErr  error
	timeoutErr error
	noticeErr  error
}

func (a *fakeActions) DeleteMessage(_ context.Context, _, messageID string) error {
	a.deleted = append(a.deleted, messageID)
	return a.deleteErr
}

func (a *fakeActions) DeleteMessages(_ context.Context, _ string, messageIDs []string) error {
	a.purged = append(a.purged, messageIDs)
	return nil
}

func (a *fakeActions) Timeout(_ context.Context, _, userID string, until time.Time, _ string) error {
	if a.timeoutErr != nil {
		return a.timeoutErr
	}
	a.timeouts = append(a.timeouts, timeoutCall{userID: userID, until: until})
	return nil
}

func (a *fakeActions) Notice(_ context.Context, _, content string) error {
	if a.noticeErr != nil {
		return a.noticeErr
	}
	a.notices = append(a.notices, content)
	return nil
}

type auditEntry struct {
	level   string
	event   string
	details string
}

type fakeAuditor struct {
	entries []auditEntry
}

func (a *fakeAuditor) Log(_ context.Context, level, _, _, event, details string) {
	a.entries = append(a.entries, auditEntry{level: level, event: event, details: details})
}

func (a *fakeAuditor) has(event string) bool {
	for _, entry := range a.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

func (a *fakeAuditor) details(event string) string {
	for _, entry := range a.entries {
		if entry.event == event {
			return entry.details
		}
	}
	return ""
}

func newTestModerator(strikes *fakeStrikes, actions *fakeActions, auditor *fakeAuditor) (*Moderator, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	mod := New(actions, strikes, auditor, zap.NewNop())
	mod.WithClock(clock)
	return mod, clock
}

func testMessage() automod.Message {
	return automod.Message{ID: "m1", ChannelID: "c1", GuildID: "g1", AuthorID: "u1"}
}

func spamOffense() *automod.Offense {
	return &automod.Offense{
		Kind:     automod.KindMessageRate,
		Category: automod.CategorySpam,
		Reason:   "sending messages too frequently.",
		PurgeIDs: []string{"p1", "p2"},
	}
}

func blockedOffense() *automod.Offense {
	return &automod.Offense{
		Kind:     automod.KindBlockedInvite,
		Category: automod.CategoryBlocked,
		Reason:   "invite links are not allowed.",
	}
}

func TestEnforceSpamEscalatesTimeout(t *testing.T) {
	strikes := &fakeStrikes{counts: map[string]int{"g1:u1": 3}}
	actions := &fakeActions{}
	auditor := &fakeAuditor{}
	mod, clock := newTestModerator(strikes, actions, auditor)

	if err := mod.Enforce(context.Background(), testMessage(), spamOffense()); err != nil {
		t.Fatalf("enforce: %v", err)
	}

	if strikes.counts["g1:u1"] != 4 {
		t.Fatalf("expected 4 strikes, got %d", strikes.counts["g1:u1"])
	}
	if len(actions.timeouts) != 1 {
		t.Fatalf("expected one timeout, got %d", len(actions.timeouts))
	}
	want := clock.now.Add(10000 * time.Second)
	if !actions.timeouts[0].until.Equal(want) {
		t.Fatalf("expected timeout until %v, got %v", want, actions.timeouts[0].until)
	}
	if len(actions.deleted) != 1 || actions.deleted[0] != "m1" {
		t.Fatalf("expected offending message deleted, got %v", actions.deleted)
	}
	if len(actions.purged) != 1 || len(actions.purged[0]) != 2 {
		t.Fatalf("expected purge of 2 messages, got %v", actions.purged)
	}
	if len(actions.notices) != 1 {
		t.Fatalf("expected timeout notice, got %d", len(actions.notices))
	}
	if !auditor.has("timeout") || !auditor.has("strike") {
		t.Fatalf("missing audit entries: %v", auditor.entries)
	}
}

func TestEnforceFirstStrikeShortTimeout(t *testing.T) {
	strikes := &fakeStrikes{counts: map[string]int{}}
	actions := &fakeActions{}
	mod, clock := newTestModerator(strikes, actions, &fakeAuditor{})

	if err := mod.Enforce(context.Background(), testMessage(), spamOffense()); err != nil {
		t.Fatalf("enforce: %v", err)
	}

	want := clock.now.Add(10 * time.Second)
	if !actions.timeouts[0].until.Equal(want) {
		t.Fatalf("expected timeout until %v, got %v", want, actions.timeouts[0].until)
	}
}

func TestEnforceCapStopsEscalation(t *testing.T) {
	strikes := &fakeStrikes{counts: map[string]int{"g1:u1": 4}}
	actions := &fakeActions{}
	auditor := &fakeAuditor{}
	mod, _ := newTestModerator(strikes, actions, auditor)

	if err := mod.Enforce(context.Background(), testMessage(), spamOffense()); err != nil {
		t.Fatalf("enforce: %v", err)
	}

	if strikes.counts["g1:u1"] != 4 {
		t.Fatalf("strikes should stay at cap, got %d", strikes.counts["g1:u1"])
	}
	if len(actions.timeouts) != 0 {
		t.Fatalf("no timeout expected at cap, got %v", actions.timeouts)
	}
	if len(actions.deleted) != 1 {
		t.Fatal("message should still be removed at cap")
	}
	if !auditor.has("strike_cap") {
		t.Fatalf("expected strike_cap audit entry, got %v", auditor.entries)
	}
}

func TestEnforceBlockedSendsNotice(t *testing.T) {
	strikes := &fakeStrikes{counts: map[string]int{}}
	actions := &fakeActions{}
	mod, _ := newTestModerator(strikes, actions, &fakeAuditor{})

	if err := mod.Enforce(context.Background(), testMessage(), blockedOffense()); err != nil {
		t.Fatalf("enforce: %v", err)
	}

	if strikes.counts["g1:u1"] != 1 {
		t.Fatalf("expected 1 strike, got %d", strikes.counts["g1:u1"])
	}
	if len(actions.timeouts) != 0 {
		t.Fatal("blocked offenses must not time out")
	}
	if len(actions.notices) != 1 {
		t.Fatalf("expected one notice, got %d", len(actions.notices))
	}
}

func TestEnforceNoticeFailureTolerated(t *testing.T) {
	strikes := &fakeStrikes{counts: map[string]int{}}
	actions := &fakeActions{noticeErr: errors.New("dms closed")}
	auditor := &fakeAuditor{}
	mod, _ := newTestModerator(strikes, actions, auditor)

	if err := mod.Enforce(context.Background(), testMessage(), blockedOffense()); err != nil {
		t.Fatalf("notice failure should not fail enforcement: %v", err)
	}
	if strikes.counts["g1:u1"] != 1 {
		t.Fatalf("strike should stand despite failed notice, got %d", strikes.counts["g1:u1"])
	}
	if !auditor.has("notice_failed") {
		t.Fatalf("expected notice_failed audit entry, got %v", auditor.entries)
	}
	details := auditor.details("notice_failed")
	if !strings.Contains(details, "notice undeliverable") || !strings.Contains(details, "dms closed") {
		t.Fatalf("audit entry should carry the wrapped delivery error, got %q", details)
	}
}

func TestEnforceNoticesDisabled(t *testing.T) {
	strikes := &fakeStrikes{counts: map[string]int{}}
	actions := &fakeActions{}
	auditor := &fakeAuditor{}
	mod, _ := newTestModerator(strikes, actions, auditor)
	mod.WithNotices(false)

	if err := mod.Enforce(context.Background(), testMessage(), blockedOffense()); err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if err := mod.Enforce(context.Background(), testMessage(), spamOffense()); err != nil {
		t.Fatalf("enforce: %v", err)
	}

	if len(actions.notices) != 0 {
		t.Fatalf("notices disabled, none should be sent, got %v", actions.notices)
	}
	if strikes.counts["g1:u1"] != 2 {
		t.Fatalf("penalties still apply with notices off, got %d strikes", strikes.counts["g1:u1"])
	}
	if len(actions.timeouts) != 1 {
		t.Fatalf("timeout still applies with notices off, got %d", len(actions.timeouts))
	}
}

func TestEnforceTimeoutFailureReturnsActionError(t *testing.T) {
	strikes := &fakeStrikes{counts: map[string]int{}}
	actions := &fakeActions{timeoutErr: errors.New("missing permissions")}
	auditor := &fakeAuditor{}
	mod, _ := newTestModerator(strikes, actions, auditor)

	err := mod.Enforce(context.Background(), testMessage(), spamOffense())
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected ActionError, got %v", err)
	}
	if strikes.counts["g1:u1"] != 1 {
		t.Fatalf("strike is recorded before the action, got %d", strikes.counts["g1:u1"])
	}
	if !auditor.has("action_failed") {
		t.Fatalf("expected action_failed audit entry, got %v", auditor.entries)
	}
}

func TestEnforceDeleteFailureTolerated(t *testing.T) {
	strikes := &fakeStrikes{counts: map[string]int{}}
	actions := &fakeActions{deleteErr: errors.New("unknown message")}
	mod, _ := newTestModerator(strikes, actions, &fakeAuditor{})

	if err := mod.Enforce(context.Background(), testMessage(), blockedOffense()); err != nil {
		t.Fatalf("delete failure should not fail enforcement: %v", err)
	}
}
