package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"wardenbot/internal/analytics"
	"wardenbot/internal/automod"
	"wardenbot/internal/config"
	"wardenbot/internal/moderation"
	"wardenbot/internal/modules/audit"
	"wardenbot/internal/storage"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	engine    *automod.Engine
	moderator *moderation.Moderator
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, engine *automod.Engine, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent |
		discordgo.IntentsDirectMessages

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		engine:    engine,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
	}
	b.moderator = moderation.New(newSessionActions(session), store, auditLogger, logger)
	b.moderator.WithNotices(cfg.Notifications.DMNotice)

	if b.audit != nil && cfg.Notifications.AuditToChannel {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startDailySummary()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) notifyAudit(_ context.Context, entry storage.AuditLog) {
	channelID := b.cfg.OperatorChannel
	if channelID == "" {
		return
	}
	content := fmt.Sprintf("[%s] <@%s> %s: %s", entry.Level, entry.UserID, entry.Event, entry.Details)
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		b.logger.Warn("operator notification failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (b *Bot) startDailySummary() {
	if !b.cfg.Notifications.DailySummary || b.cfg.OperatorChannel == "" {
		return
	}
	go func() {
		time.Sleep(30 * time.Second)
		b.sendDailySummary()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			b.sendDailySummary()
		}
	}()
}

func (b *Bot) sendDailySummary() {
	if b.session == nil || b.session.State == nil || b.analytics == nil {
		return
	}
	ctx := context.Background()
	since := time.Now().Add(-24 * time.Hour)
	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		report, err := b.analytics.Report(ctx, guild.ID, since)
		if err != nil {
			b.logger.Warn("daily summary failed", zap.String("guild_id", guild.ID), zap.Error(err))
			continue
		}
		if report.Total == 0 {
			continue
		}
		_, _ = b.session.ChannelMessageSendEmbed(b.cfg.OperatorChannel, &discordgo.MessageEmbed{
			Title:       "Daily Moderation Summary",
			Description: report.Summary(),
			Color:       warnEmbedColour,
		})
	}
}
