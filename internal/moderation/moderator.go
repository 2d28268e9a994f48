package moderation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"wardenbot/internal/automod"
	"wardenbot/internal/modules/audit"
)

// maxStrikes is the escalation ceiling. Members at the ceiling still have
// offending messages removed, but no further penalty is applied
// automatically; operators handle them.
const maxStrikes = 4

// StrikeStore persists per-member strike counts. IncrementMemberStrikes must
// apply the read and the write atomically per member so concurrent offenses
// cannot lose an increment.
type StrikeStore interface {
	IncrementMemberStrikes(ctx context.Context, guildID, userID string, limit int) (int, bool, error)
}

// Actions is the chat-platform surface the moderator drives. Implementations
// translate these to transport calls.
type Actions interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error
	Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	Notice(ctx context.Context, userID, content string) error
}

// Auditor records moderation events. Satisfied by audit.Logger.
type Auditor interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

// ActionError wraps a failed enforcement action. The strike has already been
// recorded when this is returned.
type ActionError struct {
	Op  string
	Err error
}

func (e *ActionError) Error() string { return "moderation: " + e.Op + ": " + e.Err.Error() }

func (e *ActionError) Unwrap() error { return e.Err }

// DeliveryError marks a notice that could not reach the member, typically
// closed direct messages. Enforcement is unaffected.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "moderation: notice undeliverable: " + e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Moderator applies the escalation policy to offenses found by the automod
// engine.
type Moderator struct {
	actions Actions
	strikes StrikeStore
	audit   Auditor
	logger  *zap.Logger
	clock   Clock
	notices bool
}

func New(actions Actions, strikes StrikeStore, auditor Auditor, logger *zap.Logger) *Moderator {
	return &Moderator{
		actions: actions,
		strikes: strikes,
		audit:   auditor,
		logger:  logger,
		clock:   realClock{},
		notices: true,
	}
}

func (m *Moderator) WithClock(clock Clock) {
	m.clock = clock
}

// WithNotices controls whether members are messaged about enforcement.
// Penalties apply either way.
func (m *Moderator) WithNotices(enabled bool) {
	m.notices = enabled
}

// Enforce removes the offending message and applies the penalty for the
// member's new strike count. Removal is best effort; a message already gone
// is not an error.
func (m *Moderator) Enforce(ctx context.Context, msg automod.Message, offense *automod.Offense) error {
	if err := m.actions.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		m.logger.Debug("delete failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	if len(offense.PurgeIDs) > 0 {
		if err := m.actions.DeleteMessages(ctx, msg.ChannelID, offense.PurgeIDs); err != nil {
			m.logger.Debug("purge failed", zap.String("channel_id", msg.ChannelID), zap.Error(err))
		}
	}

	m.audit.Log(ctx, audit.LevelInfo, msg.GuildID, msg.AuthorID, audit.EventOffense,
		fmt.Sprintf("%s: %s", offense.Kind, offense.Reason))

	strikes, capped, err := m.strikes.IncrementMemberStrikes(ctx, msg.GuildID, msg.AuthorID, maxStrikes)
	if err != nil {
		return err
	}
	if capped {
		m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, audit.EventStrikeCap,
			fmt.Sprintf("member at %d strikes, message removed without penalty", strikes))
		return nil
	}
	m.audit.Log(ctx, audit.LevelInfo, msg.GuildID, msg.AuthorID, audit.EventStrike,
		fmt.Sprintf("strike %d for %s", strikes, offense.Kind))

	switch offense.Category {
	case automod.CategoryBlocked:
		return m.enforceBlocked(ctx, msg, offense)
	case automod.CategorySpam:
		return m.enforceSpam(ctx, msg, offense, strikes)
	}
	return nil
}

func (m *Moderator) enforceBlocked(ctx context.Context, msg automod.Message, offense *automod.Offense) error {
	m.notify(ctx, msg, fmt.Sprintf("Message removed because it violates a moderation policy: **%s**\nContinued violation may result in further action.", offense.Reason))
	return nil
}

// notify messages the member about an enforcement. Failures are tolerated;
// closed direct messages must not block moderation.
func (m *Moderator) notify(ctx context.Context, msg automod.Message, content string) {
	if !m.notices {
		return
	}
	if err := m.actions.Notice(ctx, msg.AuthorID, content); err != nil {
		delivery := &DeliveryError{Err: err}
		m.audit.Log(ctx, audit.LevelInfo, msg.GuildID, msg.AuthorID, audit.EventNoticeFailed, delivery.Error())
		m.logger.Debug("notice undeliverable", zap.String("user_id", msg.AuthorID), zap.Error(delivery))
	}
}

func (m *Moderator) enforceSpam(ctx context.Context, msg automod.Message, offense *automod.Offense, strikes int) error {
	seconds := time.Duration(math.Pow10(strikes)) * time.Second
	until := m.clock.Now().Add(seconds)
	reason := "Timed out for " + offense.Reason

	if err := m.actions.Timeout(ctx, msg.GuildID, msg.AuthorID, until, reason); err != nil {
		m.audit.Log(ctx, audit.LevelCrit, msg.GuildID, msg.AuthorID, audit.EventActionFailed,
			fmt.Sprintf("timeout: %v", err))
		return &ActionError{Op: "timeout", Err: err}
	}
	m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, audit.EventTimeout,
		fmt.Sprintf("%s for %s", seconds, offense.Kind))

	m.notify(ctx, msg, fmt.Sprintf("You have received a timeout for violating a moderation policy: **%s**\nYour timeout expires: %s.", offense.Reason, until.UTC().Format(time.RFC1123)))
	return nil
}
