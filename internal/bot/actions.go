package bot

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const warnEmbedColour = 0xE6B800

// sessionActions drives moderation through a live gateway session.
type sessionActions struct {
	session *discordgo.Session
}

func newSessionActions(session *discordgo.Session) *sessionActions {
	return &sessionActions{session: session}
}

func (a *sessionActions) DeleteMessage(_ context.Context, channelID, messageID string) error {
	err := a.session.ChannelMessageDelete(channelID, messageID)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (a *sessionActions) DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	if len(messageIDs) == 1 {
		return a.DeleteMessage(ctx, channelID, messageIDs[0])
	}
	err := a.session.ChannelMessagesBulkDelete(channelID, messageIDs)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (a *sessionActions) Timeout(_ context.Context, guildID, userID string, until time.Time, reason string) error {
	return a.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithAuditLogReason(reason))
}

func (a *sessionActions) Notice(_ context.Context, userID, content string) error {
	channel, err := a.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = a.session.ChannelMessageSendEmbed(channel.ID, &discordgo.MessageEmbed{
		Title:       ":warning: Moderation Notice",
		Description: content,
		Color:       warnEmbedColour,
	})
	return err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
