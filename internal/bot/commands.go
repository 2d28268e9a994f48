package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"wardenbot/internal/modules/audit"
)

func (b *Bot) registerCommands() error {
	moderatorOnly := int64(discordgo.PermissionModerateMembers)

	commands := []*discordgo.ApplicationCommand{
		{
			Name:                     "strikes",
			Description:              "View or reset a member's strikes",
			DefaultMemberPermissions: &moderatorOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "Show a member's strike count",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "member",
							Description: "The member to look up",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "reset",
					Description: "Reset a member's strikes to zero",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "member",
							Description: "The member to reset",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:                     "domains",
			Description:              "Manage this server's domain lists",
			DefaultMemberPermissions: &moderatorOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Add a domain to a list",
					Options: []*discordgo.ApplicationCommandOption{
						listOption(),
						domainOption(),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a domain from a list",
					Options: []*discordgo.ApplicationCommandOption{
						listOption(),
						domainOption(),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "Show a list's domains",
					Options: []*discordgo.ApplicationCommandOption{
						listOption(),
					},
				},
			},
		},
	}

	for _, command := range commands {
		if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", command); err != nil {
			return fmt.Errorf("register command %s: %w", command.Name, err)
		}
	}
	return nil
}

func listOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "list",
		Description: "allow or block",
		Required:    true,
		Choices: []*discordgo.ApplicationCommandOptionChoice{
			{Name: "allow", Value: "allow"},
			{Name: "block", Value: "block"},
		},
	}
}

func domainOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "domain",
		Description: "Domain name, e.g. example.com",
		Required:    true,
	}
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" {
		b.respond(session, interaction, "This command only works in a server.")
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "strikes":
		b.handleStrikesCommand(ctx, session, interaction, data.Options)
	case "domains":
		b.handleDomainsCommand(ctx, session, interaction, data.Options)
	}
}

func (b *Bot) handleStrikesCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 || len(options[0].Options) == 0 {
		b.respond(session, interaction, "Missing subcommand.")
		return
	}
	sub := options[0]
	user := sub.Options[0].UserValue(session)
	if user == nil {
		b.respond(session, interaction, "Could not resolve that member.")
		return
	}

	switch sub.Name {
	case "view":
		strikes, err := b.store.MemberStrikes(ctx, interaction.GuildID, user.ID)
		if err != nil {
			b.logger.Warn("strike lookup failed", zap.Error(err))
			b.respond(session, interaction, "Strike lookup failed.")
			return
		}
		b.respond(session, interaction, fmt.Sprintf("<@%s> has %d strike(s).", user.ID, strikes))
	case "reset":
		if err := b.store.SetMemberStrikes(ctx, interaction.GuildID, user.ID, 0); err != nil {
			b.logger.Warn("strike reset failed", zap.Error(err))
			b.respond(session, interaction, "Strike reset failed.")
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, user.ID, "strikes_reset", "reset by operator")
		b.respond(session, interaction, fmt.Sprintf("Strikes for <@%s> reset.", user.ID))
	}
}

func (b *Bot) handleDomainsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 || len(options[0].Options) == 0 {
		b.respond(session, interaction, "Missing subcommand.")
		return
	}
	sub := options[0]
	list := sub.Options[0].StringValue()

	switch sub.Name {
	case "add", "remove":
		if len(sub.Options) < 2 {
			b.respond(session, interaction, "Missing domain.")
			return
		}
		domain := strings.ToLower(strings.TrimSpace(sub.Options[1].StringValue()))
		if domain == "" || !strings.Contains(domain, ".") {
			b.respond(session, interaction, "That does not look like a domain.")
			return
		}

		var err error
		switch {
		case sub.Name == "add" && list == "allow":
			err = b.store.AddDomainAllow(ctx, interaction.GuildID, domain)
		case sub.Name == "add" && list == "block":
			err = b.store.AddDomainBlock(ctx, interaction.GuildID, domain)
		case sub.Name == "remove" && list == "allow":
			err = b.store.RemoveDomainAllow(ctx, interaction.GuildID, domain)
		default:
			err = b.store.RemoveDomainBlock(ctx, interaction.GuildID, domain)
		}
		if err != nil {
			b.logger.Warn("domain list update failed", zap.String("domain", domain), zap.Error(err))
			b.respond(session, interaction, "Domain list update failed.")
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, "", "domain_list_update",
			fmt.Sprintf("%s %s on %s list", sub.Name, domain, list))
		b.respond(session, interaction, fmt.Sprintf("Done: %s `%s` on the %s list.", sub.Name, domain, list))
	case "list":
		var domains []string
		var err error
		if list == "allow" {
			domains, err = b.store.ListDomainAllow(ctx, interaction.GuildID)
		} else {
			domains, err = b.store.ListDomainBlock(ctx, interaction.GuildID)
		}
		if err != nil {
			b.logger.Warn("domain list read failed", zap.Error(err))
			b.respond(session, interaction, "Domain list read failed.")
			return
		}
		if len(domains) == 0 {
			b.respond(session, interaction, fmt.Sprintf("The %s list is empty.", list))
			return
		}
		b.respond(session, interaction, fmt.Sprintf("%s list:\n%s", list, strings.Join(domains, "\n")))
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string) {
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}
