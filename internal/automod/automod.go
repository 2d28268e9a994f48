package automod

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"wardenbot/internal/config"
	"wardenbot/internal/ratelimit"
	"wardenbot/internal/safebrowsing"
)

// Kind names the specific rule a message tripped.
type Kind string

const (
	KindMessageRate      Kind = "message_rate"
	KindDuplicateContent Kind = "duplicate_content"
	KindInviteSpam       Kind = "invite_spam"
	KindLinkSpam         Kind = "link_spam"
	KindAttachmentSpam   Kind = "attachment_spam"
	KindMentionSpam      Kind = "mention_spam"
	KindUnsafeLink       Kind = "unsafe_link"
	KindBlockedInvite    Kind = "blocked_invite"
	KindFakeHyperlink    Kind = "fake_hyperlink"
	KindExcessMentions   Kind = "excess_mentions"
)

// Category splits offenses into the two enforcement paths: spam escalates to
// timeouts, blocked content gets a removal notice.
type Category string

const (
	CategorySpam    Category = "spam"
	CategoryBlocked Category = "blocked"
)

// Mention is one user named in a message.
type Mention struct {
	ID  string
	Bot bool
}

// Message is the transport-independent view of a chat message the engine
// classifies.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	AuthorID    string
	AuthorBot   bool
	Content     string
	Attachments int
	Mentions    []Mention
}

// Offense is the engine's verdict on a message. PurgeIDs lists recently
// tracked message ids to delete alongside the offending one.
type Offense struct {
	Kind     Kind
	Category Category
	Reason   string
	PurgeIDs []string
}

// DomainLists answers allow and deny membership for a normalized domain,
// combining any global and per-guild lists.
type DomainLists interface {
	Allowed(ctx context.Context, guildID, domain string) bool
	Blocked(ctx context.Context, guildID, domain string) bool
}

// Resolver classifies URLs against a reputation service.
type Resolver interface {
	Resolve(ctx context.Context, urls []string) (map[string]safebrowsing.Verdict, error)
}

// Buckets holds one rate-limit bucket per spam rule.
type Buckets struct {
	Message    *ratelimit.Bucket
	Duplicate  *ratelimit.Bucket
	Invite     *ratelimit.Bucket
	Link       *ratelimit.Bucket
	Attachment *ratelimit.Bucket
	Mention    *ratelimit.Bucket
}

func NewBuckets(cfg config.AutomodConfig) *Buckets {
	bucket := func(p config.RatePolicy) *ratelimit.Bucket {
		return ratelimit.NewBucket(ratelimit.Policy{
			Window:       time.Duration(p.WindowSeconds * float64(time.Second)),
			Quota:        p.Quota,
			TrackedItems: p.TrackedItems,
			MaxKeys:      cfg.MaxTrackedKeys,
		})
	}
	return &Buckets{
		Message:    bucket(cfg.MessageRate),
		Duplicate:  bucket(cfg.DuplicateRate),
		Invite:     bucket(cfg.InviteRate),
		Link:       bucket(cfg.LinkRate),
		Attachment: bucket(cfg.AttachmentRate),
		Mention:    bucket(cfg.MentionRate),
	}
}

// Engine runs the moderation classifiers over incoming messages.
type Engine struct {
	cfg      config.AutomodConfig
	buckets  *Buckets
	lists    DomainLists
	resolver Resolver
	logger   *zap.Logger
}

func New(cfg config.AutomodConfig, buckets *Buckets, lists DomainLists, resolver Resolver, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		buckets:  buckets,
		lists:    lists,
		resolver: resolver,
		logger:   logger,
	}
}

type classifier func(ctx context.Context, msg Message) (*Offense, error)

// CheckMessage classifies a newly created message. Classifiers run in a
// fixed order and the first offense wins.
func (e *Engine) CheckMessage(ctx context.Context, msg Message) (*Offense, error) {
	return e.run(ctx, msg, []classifier{
		e.findMessageSpam,
		e.findDuplicateSpam,
		e.findInviteSpam,
		e.findLinkSpam,
		e.findAttachmentSpam,
		e.findMentionSpam,
		e.blockUnsafeLinks,
		e.blockInvites,
		e.blockFakeHyperlinks,
		e.limitMentions,
	})
}

// CheckEdit classifies an edited message. Rate classifiers are skipped so an
// edit cannot double-count against windows the original send already hit.
func (e *Engine) CheckEdit(ctx context.Context, msg Message) (*Offense, error) {
	return e.run(ctx, msg, []classifier{
		e.blockUnsafeLinks,
		e.blockInvites,
		e.blockFakeHyperlinks,
		e.limitMentions,
	})
}

func (e *Engine) run(ctx context.Context, msg Message, classifiers []classifier) (*Offense, error) {
	for _, classify := range classifiers {
		offense, err := classify(ctx, msg)
		if err != nil {
			if errors.Is(err, ratelimit.ErrInvalidContext) {
				continue
			}
			return nil, err
		}
		if offense != nil {
			return offense, nil
		}
	}
	return nil, nil
}

// spamOffense snapshots the purge queue and replenishes the bucket so the
// same burst is not punished twice.
func (e *Engine) spamOffense(bucket *ratelimit.Bucket, msg Message, kind Kind, reason string) (*Offense, error) {
	ids, err := bucket.TrackedIDs(msg.GuildID, msg.AuthorID)
	if err != nil {
		return nil, err
	}
	if err := bucket.Reset(msg.GuildID, msg.AuthorID); err != nil {
		return nil, err
	}
	return &Offense{Kind: kind, Category: CategorySpam, Reason: reason, PurgeIDs: ids}, nil
}

func (e *Engine) findMessageSpam(_ context.Context, msg Message) (*Offense, error) {
	bucket := e.buckets.Message
	if err := bucket.Record(msg.GuildID, msg.AuthorID, ratelimit.Item{ID: msg.ID}); err != nil {
		return nil, err
	}
	limited, err := bucket.IsLimited(msg.GuildID, msg.AuthorID)
	if err != nil || !limited {
		return nil, err
	}
	return e.spamOffense(bucket, msg, KindMessageRate, "sending messages too frequently.")
}

func (e *Engine) findDuplicateSpam(_ context.Context, msg Message) (*Offense, error) {
	if msg.Content == "" {
		return nil, nil
	}
	bucket := e.buckets.Duplicate

	tracked, err := bucket.Tracked(msg.GuildID, msg.AuthorID)
	if err != nil {
		return nil, err
	}
	if len(tracked) == 0 {
		err := bucket.Record(msg.GuildID, msg.AuthorID, ratelimit.Item{ID: msg.ID, Content: msg.Content})
		return nil, err
	}

	prev := tracked[len(tracked)-1]
	if levenshtein.ComputeDistance(strings.TrimSpace(prev.Content), strings.TrimSpace(msg.Content)) >= e.cfg.DuplicateDistance {
		return nil, nil
	}

	if err := bucket.Record(msg.GuildID, msg.AuthorID, ratelimit.Item{ID: msg.ID, Content: msg.Content}); err != nil {
		return nil, err
	}
	limited, err := bucket.IsLimited(msg.GuildID, msg.AuthorID)
	if err != nil || !limited {
		return nil, err
	}
	return e.spamOffense(bucket, msg, KindDuplicateContent, "sending consecutive copied and pasted messages.")
}

func (e *Engine) findInviteSpam(_ context.Context, msg Message) (*Offense, error) {
	bucket := e.buckets.Invite
	if ContainsInvite(msg.Content) {
		if err := bucket.Record(msg.GuildID, msg.AuthorID, ratelimit.Item{ID: msg.ID}); err != nil {
			return nil, err
		}
	}
	limited, err := bucket.IsLimited(msg.GuildID, msg.AuthorID)
	if err != nil || !limited {
		return nil, err
	}
	return e.spamOffense(bucket, msg, KindInviteSpam, "sending discord invites too frequently.")
}

func (e *Engine) findLinkSpam(_ context.Context, msg Message) (*Offense, error) {
	bucket := e.buckets.Link
	if len(ExtractURLs(msg.Content)) > 0 {
		if err := bucket.Record(msg.GuildID, msg.AuthorID, ratelimit.Item{ID: msg.ID}); err != nil {
			return nil, err
		}
	}
	limited, err := bucket.IsLimited(msg.GuildID, msg.AuthorID)
	if err != nil || !limited {
		return nil, err
	}
	return e.spamOffense(bucket, msg, KindLinkSpam, "sending links too frequently.")
}

func (e *Engine) findAttachmentSpam(_ context.Context, msg Message) (*Offense, error) {
	bucket := e.buckets.Attachment
	if msg.Attachments > 0 {
		if err := bucket.Record(msg.GuildID, msg.AuthorID, ratelimit.Item{ID: msg.ID}); err != nil {
			return nil, err
		}
	}
	limited, err := bucket.IsLimited(msg.GuildID, msg.AuthorID)
	if err != nil || !limited {
		return nil, err
	}
	return e.spamOffense(bucket, msg, KindAttachmentSpam, "sending attachments too frequently.")
}

func (e *Engine) findMentionSpam(_ context.Context, msg Message) (*Offense, error) {
	bucket := e.buckets.Mention
	if len(msg.Mentions) > 0 {
		for _, mention := range msg.Mentions {
			if mention.Bot || mention.ID == msg.AuthorID {
				return nil, nil
			}
		}
		if err := bucket.Record(msg.GuildID, msg.AuthorID, ratelimit.Item{ID: msg.ID}); err != nil {
			return nil, err
		}
	}
	limited, err := bucket.IsLimited(msg.GuildID, msg.AuthorID)
	if err != nil || !limited {
		return nil, err
	}
	return e.spamOffense(bucket, msg, KindMentionSpam, "mentioning users too frequently.")
}

func (e *Engine) blockUnsafeLinks(ctx context.Context, msg Message) (*Offense, error) {
	raw := ExtractURLs(msg.Content)
	if len(raw) == 0 {
		return nil, nil
	}

	offense := &Offense{Kind: KindUnsafeLink, Category: CategoryBlocked, Reason: "this web resource is not allowed."}

	var unresolved []string
	for _, candidate := range raw {
		normalized, domain, err := NormalizeURL(candidate)
		if err != nil {
			e.logger.Debug("skipping unparseable url", zap.String("url", candidate), zap.Error(err))
			continue
		}
		if e.lists.Allowed(ctx, msg.GuildID, domain) {
			continue
		}
		if e.lists.Blocked(ctx, msg.GuildID, domain) {
			return offense, nil
		}
		unresolved = append(unresolved, normalized)
	}
	if len(unresolved) == 0 || e.resolver == nil {
		return nil, nil
	}

	verdicts, err := e.resolver.Resolve(ctx, unresolved)
	if err != nil {
		e.logger.Warn("link reputation lookup failed",
			zap.String("guild_id", msg.GuildID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		if e.cfg.FailClosed {
			return offense, nil
		}
		return nil, nil
	}
	for _, verdict := range verdicts {
		if verdict.Status == safebrowsing.StatusUnsafe {
			return offense, nil
		}
	}
	return nil, nil
}

func (e *Engine) blockInvites(_ context.Context, msg Message) (*Offense, error) {
	if !e.cfg.BlockInvites || !ContainsInvite(msg.Content) {
		return nil, nil
	}
	return &Offense{Kind: KindBlockedInvite, Category: CategoryBlocked, Reason: "invite links are not allowed."}, nil
}

func (e *Engine) blockFakeHyperlinks(_ context.Context, msg Message) (*Offense, error) {
	if !e.cfg.BlockFakeHyperlinks || !ContainsFakeHyperlink(msg.Content) {
		return nil, nil
	}
	return &Offense{Kind: KindFakeHyperlink, Category: CategoryBlocked, Reason: "hyperlink contains link as text string."}, nil
}

func (e *Engine) limitMentions(_ context.Context, msg Message) (*Offense, error) {
	count := 0
	seen := make(map[string]struct{}, len(msg.Mentions))
	for _, mention := range msg.Mentions {
		if mention.Bot || mention.ID == msg.AuthorID {
			continue
		}
		if _, dup := seen[mention.ID]; dup {
			continue
		}
		seen[mention.ID] = struct{}{}
		count++
	}
	if count <= e.cfg.MentionLimit {
		return nil, nil
	}
	return &Offense{Kind: KindExcessMentions, Category: CategoryBlocked, Reason: "message contains too many consecutive mentions."}, nil
}
