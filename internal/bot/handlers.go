package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"wardenbot/internal/automod"
)

func (b *Bot) onReady(session *discordgo.Session, _ *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, event *discordgo.MessageCreate) {
	if !b.shouldModerate(session, event.Message) {
		return
	}
	b.check(event.Message, false)
}

func (b *Bot) onMessageUpdate(session *discordgo.Session, event *discordgo.MessageUpdate) {
	// Edit events for embeds and pins arrive without an author.
	if event.Author == nil {
		return
	}
	if !b.shouldModerate(session, event.Message) {
		return
	}
	b.check(event.Message, true)
}

func (b *Bot) shouldModerate(session *discordgo.Session, msg *discordgo.Message) bool {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return false
	}
	if msg.GuildID == "" {
		return false
	}
	if session.State != nil && session.State.User != nil && msg.Author.ID == session.State.User.ID {
		return false
	}
	return true
}

func (b *Bot) check(msg *discordgo.Message, edited bool) {
	ctx := context.Background()
	checked := toMessage(msg)

	var offense *automod.Offense
	var err error
	if edited {
		offense, err = b.engine.CheckEdit(ctx, checked)
	} else {
		offense, err = b.engine.CheckMessage(ctx, checked)
	}
	if err != nil {
		b.logger.Error("automod check failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if offense == nil {
		return
	}

	if err := b.moderator.Enforce(ctx, checked, offense); err != nil {
		b.logger.Error("enforcement failed",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.Author.ID),
			zap.String("kind", string(offense.Kind)),
			zap.Error(err))
	}
}

func toMessage(msg *discordgo.Message) automod.Message {
	checked := automod.Message{
		ID:          msg.ID,
		ChannelID:   msg.ChannelID,
		GuildID:     msg.GuildID,
		AuthorID:    msg.Author.ID,
		AuthorBot:   msg.Author.Bot,
		Content:     msg.Content,
		Attachments: len(msg.Attachments),
	}
	for _, user := range msg.Mentions {
		if user == nil {
			continue
		}
		checked.Mentions = append(checked.Mentions, automod.Mention{ID: user.ID, Bot: user.Bot})
	}
	return checked
}
