package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/nightyworks/dm-relay-bridge/internal/domain"
	"github.com/nightyworks/dm-relay-bridge/internal/service"
)

const (
	modalCustomIDPrefix   = "dm_modal:"
	confirmCustomIDPrefix = "dm_close_confirm:"
	cancelCustomIDPrefix  = "dm_close_cancel:"
)

// Runtime wires gateway events and interactions to the relay services:
// slash commands, the send-DM modal, the closure confirmation buttons, and
// inbound DM forwarding.
type Runtime struct {
	logger    *slog.Logger
	client    *Client
	owners    domain.OwnerSet
	relays    *service.RelayService
	forwarder *service.ForwardService
	confirms  *service.Confirmations
	guildID   string

	restoreOnce sync.Once
}

func NewRuntime(
	logger *slog.Logger,
	client *Client,
	owners domain.OwnerSet,
	relays *service.RelayService,
	forwarder *service.ForwardService,
	confirms *service.Confirmations,
	guildID string,
) *Runtime {
	return &Runtime{
		logger:    logger,
		client:    client,
		owners:    owners,
		relays:    relays,
		forwarder: forwarder,
		confirms:  confirms,
		guildID:   guildID,
	}
}

func (r *Runtime) Start() error {
	session := r.client.Session()
	session.AddHandler(r.onReady)
	session.AddHandler(r.onMessageCreate)
	session.AddHandler(r.onInteractionCreate)
	return session.Open()
}

func (r *Runtime) Stop() error {
	return r.client.Session().Close()
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "dm",
			Description: "Send a DM to a user",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The user to send a DM to",
					Required:    true,
				},
			},
		},
		{
			Name:        "dm_id",
			Description: "Send a DM to a user by their ID",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "user_id",
					Description: "The user ID to send a DM to",
					Required:    true,
				},
			},
		},
		{
			Name:        "close_dm",
			Description: "Close a DM relay channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The user whose DM relay to close",
					Required:    false,
				},
			},
		},
	}
}

func (r *Runtime) onReady(session *discordgo.Session, ready *discordgo.Ready) {
	if _, err := session.ApplicationCommandBulkOverwrite(ready.User.ID, r.guildID, commandDefinitions()); err != nil {
		r.logger.Error("register application commands failed", "error", err)
	}

	// Ready also fires on reconnect; restore runs once per process.
	r.restoreOnce.Do(func() {
		go func() {
			if err := r.relays.Restore(context.Background()); err != nil {
				r.logger.Error("relay restore failed", "error", err)
			}
		}()
	})
}

func (r *Runtime) onMessageCreate(session *discordgo.Session, message *discordgo.MessageCreate) {
	if message.Author == nil || message.Author.Bot {
		return
	}
	if message.GuildID != "" {
		return
	}

	inbound := domain.InboundMessage{
		Author:  userFromSDK(message.Author),
		Content: message.Content,
	}
	for _, attachment := range message.Attachments {
		inbound.Attachments = append(inbound.Attachments, domain.Attachment{
			Filename: attachment.Filename,
			URL:      attachment.URL,
			Size:     int64(attachment.Size),
		})
	}

	r.forwarder.HandleInbound(context.Background(), inbound)
}

func (r *Runtime) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		data := interaction.ApplicationCommandData()
		switch data.Name {
		case "dm":
			r.handleDM(session, interaction, data)
		case "dm_id":
			r.handleDMByID(session, interaction, data)
		case "close_dm":
			r.handleCloseDM(session, interaction, data)
		}
	case discordgo.InteractionModalSubmit:
		r.handleModalSubmit(session, interaction)
	case discordgo.InteractionMessageComponent:
		r.handleComponent(session, interaction)
	}
}

func interactionUser(interaction *discordgo.InteractionCreate) *discordgo.User {
	if interaction.Member != nil {
		return interaction.Member.User
	}
	return interaction.User
}

func (r *Runtime) requireOwner(session *discordgo.Session, interaction *discordgo.InteractionCreate) bool {
	actor := interactionUser(interaction)
	if actor != nil && r.owners.IsOwner(actor.ID) {
		return true
	}
	r.respondEmbed(session, interaction, permissionDeniedEmbed())
	return false
}

func (r *Runtime) handleDM(session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if !r.requireOwner(session, interaction) {
		return
	}
	r.logger.Info("dm command", "guild_id", interaction.GuildID, "actor_id", interactionUser(interaction).ID)
	if len(data.Options) == 0 {
		return
	}
	target := data.Options[0].UserValue(session)
	if target == nil {
		r.respondText(session, interaction, "User not found!")
		return
	}
	r.openDMModal(session, interaction, target)
}

func (r *Runtime) handleDMByID(session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if !r.requireOwner(session, interaction) {
		return
	}
	actor := interactionUser(interaction)
	r.logger.Info("dm_id command", "guild_id", interaction.GuildID, "actor_id", actor.ID)
	if len(data.Options) == 0 {
		return
	}
	raw := strings.TrimSpace(data.Options[0].StringValue())
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		r.respondText(session, interaction, "Invalid user ID format!")
		return
	}
	if raw == actor.ID {
		r.respondText(session, interaction, "You can't DM yourself!")
		return
	}

	user, err := r.client.FetchUser(context.Background(), raw)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			r.respondText(session, interaction, "User not found!")
			return
		}
		r.logger.Warn("fetch user for dm_id failed", "target_id", raw, "error", err)
		r.respondText(session, interaction, fmt.Sprintf("Error fetching user: %v", err))
		return
	}
	if user.Bot {
		r.respondText(session, interaction, "You can't DM bots!")
		return
	}

	r.openDMModal(session, interaction, &discordgo.User{ID: user.ID, Username: user.Username, GlobalName: user.DisplayName})
}

func (r *Runtime) openDMModal(session *discordgo.Session, interaction *discordgo.InteractionCreate, target *discordgo.User) {
	actor := interactionUser(interaction)
	if target.ID == actor.ID {
		r.respondText(session, interaction, "You can't DM yourself!")
		return
	}
	if target.Bot {
		r.respondText(session, interaction, "You can't DM bots!")
		return
	}

	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: modalCustomIDPrefix + target.ID,
			Title:    "Send DM",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    "message",
							Label:       "Message",
							Style:       discordgo.TextInputParagraph,
							Placeholder: "Type your message here...",
							Required:    true,
							MaxLength:   2000,
						},
					},
				},
			},
		},
	})
	if err != nil {
		r.logger.Error("open DM modal failed", "target_id", target.ID, "error", err)
	}
}

func (r *Runtime) handleModalSubmit(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ModalSubmitData()
	if !strings.HasPrefix(data.CustomID, modalCustomIDPrefix) {
		return
	}
	if !r.requireOwner(session, interaction) {
		return
	}
	targetID := strings.TrimPrefix(data.CustomID, modalCustomIDPrefix)
	content := modalInputValue(data)
	if strings.TrimSpace(content) == "" {
		r.respondText(session, interaction, "Message cannot be empty.")
		return
	}

	// The DM send plus relay establishment can outlive the 3 second
	// interaction deadline, so defer and report through followups.
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		r.logger.Error("defer modal response failed", "error", err)
		return
	}

	ctx := context.Background()
	target, err := r.client.FetchUser(ctx, targetID)
	if err != nil {
		r.followupText(session, interaction, fmt.Sprintf("Error fetching user: %v", err))
		return
	}

	if err := r.forwarder.SendOwnerDM(ctx, target.ID, content); err != nil {
		if errors.Is(err, domain.ErrDMsDisabled) {
			r.logger.Warn("DM delivery refused, likely DMs disabled", "target_id", target.ID)
			r.followupText(session, interaction, fmt.Sprintf("Couldn't send DM to %s. They might have DMs disabled.", target.DisplayName))
			return
		}
		r.logger.Error("send owner DM failed", "target_id", target.ID, "error", err)
		r.followupText(session, interaction, fmt.Sprintf("Error sending message: %v", err))
		return
	}
	r.logger.Info("sent owner DM", "target_id", target.ID, "actor_id", interactionUser(interaction).ID)
	r.followupEmbed(session, interaction, ownerEmbed("Message Sent", fmt.Sprintf("Message sent to %s!", target.DisplayName), colorSuccess))

	result, err := r.relays.Establish(ctx, target, interaction.GuildID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCategoryNotFound):
			r.followupEmbed(session, interaction, ownerEmbed(
				"Category Not Found",
				"The relay category is missing or not configured. Check DM_GUILD_ID/DM_CATEGORY_ID.",
				colorError,
			))
		case errors.Is(err, domain.ErrGuildNotFound):
			r.followupText(session, interaction, "No guild available for the relay channel. Set DM_GUILD_ID or use the command in a guild.")
		default:
			r.logger.Error("establish relay failed", "target_id", target.ID, "error", err)
			r.followupText(session, interaction, fmt.Sprintf("Error establishing relay: %v", err))
		}
		return
	}

	if result.Created {
		started := ownerEmbed(
			"DM Relay Started",
			fmt.Sprintf("DM relay has been established with %s\nUse `/dm user:<@%s>` to send messages!", target.DisplayName, target.ID),
			colorBlurple,
		)
		if _, err := session.ChannelMessageSendEmbed(result.Channel.ID, started); err != nil {
			r.logger.Warn("post relay started embed failed", "channel_id", result.Channel.ID, "error", err)
		}
	}

	owner := userFromSDK(interactionUser(interaction))
	if err := r.forwarder.MirrorToRelay(ctx, result.Webhook, owner, content); err != nil {
		r.logger.Error("mirror owner message to relay failed", "channel_id", result.Channel.ID, "error", err)
	}
}

func (r *Runtime) handleCloseDM(session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if !r.requireOwner(session, interaction) {
		return
	}
	r.logger.Info("close_dm command", "guild_id", interaction.GuildID, "actor_id", interactionUser(interaction).ID)

	ctx := context.Background()
	var target domain.User
	if len(data.Options) > 0 {
		if sdkUser := data.Options[0].UserValue(session); sdkUser != nil {
			target = userFromSDK(sdkUser)
		}
	}
	if target.ID == "" {
		// Infer the user from the invoking relay channel.
		userID, ok := r.relays.UserForChannel(interaction.ChannelID)
		if ok {
			fetched, err := r.client.FetchUser(ctx, userID)
			if err == nil {
				target = fetched
			} else {
				target = domain.User{ID: userID}
			}
		}
	}
	if target.ID == "" {
		r.respondText(session, interaction, "Couldn't find user. Please specify the user.")
		return
	}

	if _, found, err := r.relays.Lookup(ctx, target.ID); err != nil {
		r.logger.Error("relay lookup failed", "target_id", target.ID, "error", err)
		r.respondText(session, interaction, fmt.Sprintf("Error looking up relay: %v", err))
		return
	} else if !found {
		r.respondEmbed(session, interaction, ownerEmbed("No Active Relay", fmt.Sprintf("No active DM relay with %s", target.DisplayName), colorError))
		return
	}

	pending := r.confirms.Begin(target, interaction.ChannelID)
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{ownerEmbed(
				"Confirm DM Relay Closure",
				fmt.Sprintf("Do you really want to delete the DM relay with %s?", target.DisplayName),
				colorError,
			)},
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{Label: "Yes", Style: discordgo.DangerButton, CustomID: confirmCustomIDPrefix + pending.Token},
						discordgo.Button{Label: "No", Style: discordgo.SecondaryButton, CustomID: cancelCustomIDPrefix + pending.Token},
					},
				},
			},
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		r.logger.Error("send closure confirmation failed", "target_id", target.ID, "error", err)
	}
}

func (r *Runtime) handleComponent(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	customID := interaction.MessageComponentData().CustomID

	var token string
	var confirm bool
	switch {
	case strings.HasPrefix(customID, confirmCustomIDPrefix):
		token = strings.TrimPrefix(customID, confirmCustomIDPrefix)
		confirm = true
	case strings.HasPrefix(customID, cancelCustomIDPrefix):
		token = strings.TrimPrefix(customID, cancelCustomIDPrefix)
	default:
		return
	}

	actor := interactionUser(interaction)
	if actor == nil {
		return
	}
	outcome, pending := r.confirms.Resolve(token, actor.ID, confirm)
	switch outcome {
	case OutcomeRejected:
		r.respondEmbed(session, interaction, permissionDeniedEmbed())
	case OutcomeInert:
		r.respondText(session, interaction, "This confirmation is no longer active.")
	case OutcomeCancelled:
		r.logger.Info("relay closure cancelled", "target_id", pending.User.ID, "actor_id", actor.ID)
		r.updateMessageEmbed(session, interaction, ownerEmbed("Cancelled", "DM relay closure cancelled", colorBlurple))
	case OutcomeConfirmed:
		ctx := context.Background()
		scheduled, err := r.relays.Close(ctx, pending.User, pending.ChannelID)
		if err != nil {
			r.logger.Error("close relay failed", "target_id", pending.User.ID, "error", err)
			r.respondText(session, interaction, fmt.Sprintf("Error closing relay: %v", err))
			return
		}
		r.logger.Info("relay closed by owner", "target_id", pending.User.ID, "actor_id", actor.ID)
		r.updateMessageEmbed(session, interaction, ownerEmbed(
			"DM Relay Closed",
			fmt.Sprintf("Successfully closed DM relay with %s", pending.User.DisplayName),
			colorSuccess,
		))
		if scheduled {
			r.followupEmbed(session, interaction, ownerEmbed("Channel Deletion", "Deleting this channel in 5 seconds...", colorError))
		}
	}
}

// Outcome aliases keep the switch above readable.
const (
	OutcomeConfirmed = service.OutcomeConfirmed
	OutcomeCancelled = service.OutcomeCancelled
	OutcomeRejected  = service.OutcomeRejected
	OutcomeInert     = service.OutcomeInert
)

func modalInputValue(data discordgo.ModalSubmitInteractionData) string {
	for _, component := range data.Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				return input.Value
			}
		}
	}
	return ""
}

func (r *Runtime) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		r.logger.Error("interaction embed response failed", "error", err)
	}
}

func (r *Runtime) respondText(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		r.logger.Error("interaction text response failed", "error", err)
	}
}

func (r *Runtime) updateMessageEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		r.logger.Error("interaction update response failed", "error", err)
	}
}

func (r *Runtime) followupText(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string) {
	_, err := session.FollowupMessageCreate(interaction.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		r.logger.Error("interaction followup failed", "error", err)
	}
}

func (r *Runtime) followupEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_, err := session.FollowupMessageCreate(interaction.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		r.logger.Error("interaction followup failed", "error", err)
	}
}
