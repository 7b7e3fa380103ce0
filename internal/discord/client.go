// Package discord adapts the Discord SDK to the narrow platform surface the
// relay services consume, and hosts the gateway event glue.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nightyworks/dm-relay-bridge/internal/domain"
)

type Client struct {
	session *discordgo.Session
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(botToken string, logger *slog.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &Client{
		session: session,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}, nil
}

func (c *Client) Session() *discordgo.Session {
	return c.session
}

func (c *Client) CheckConnectivity(ctx context.Context) error {
	_, err := c.session.User("@me", discordgo.WithContext(ctx))
	return err
}

func (c *Client) FetchUser(ctx context.Context, userID string) (domain.User, error) {
	user, err := c.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return domain.User{}, mapRESTError(err)
	}
	return userFromSDK(user), nil
}

func (c *Client) FetchChannel(ctx context.Context, channelID string) (domain.Channel, error) {
	channel, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Channel{}, mapRESTError(err)
	}
	return channelFromSDK(channel), nil
}

func (c *Client) GuildChannels(ctx context.Context, guildID string) ([]domain.Channel, error) {
	channels, err := c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapRESTError(err)
	}
	out := make([]domain.Channel, 0, len(channels))
	for _, channel := range channels {
		out = append(out, channelFromSDK(channel))
	}
	return out, nil
}

func (c *Client) CreateRelayChannel(ctx context.Context, guildID, categoryID, name, topic string) (domain.Channel, error) {
	channel, err := c.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    topic,
		ParentID: categoryID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Channel{}, mapRESTError(err)
	}
	return channelFromSDK(channel), nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := c.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return mapRESTError(err)
	}
	return nil
}

func (c *Client) CreateWebhook(ctx context.Context, channelID, name string) (domain.WebhookRef, error) {
	webhook, err := c.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return domain.WebhookRef{}, mapRESTError(err)
	}
	return domain.WebhookRef{ID: webhook.ID, Token: webhook.Token, Name: webhook.Name}, nil
}

func (c *Client) ChannelWebhooks(ctx context.Context, channelID string) ([]domain.WebhookRef, error) {
	webhooks, err := c.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapRESTError(err)
	}
	out := make([]domain.WebhookRef, 0, len(webhooks))
	for _, webhook := range webhooks {
		out = append(out, domain.WebhookRef{ID: webhook.ID, Token: webhook.Token, Name: webhook.Name})
	}
	return out, nil
}

func (c *Client) SendWebhook(ctx context.Context, ref domain.WebhookRef, msg domain.WebhookMessage) error {
	params := &discordgo.WebhookParams{
		Content:   msg.Content,
		Username:  msg.Username,
		AvatarURL: msg.AvatarURL,
	}
	for _, file := range msg.Files {
		params.Files = append(params.Files, &discordgo.File{
			Name:   file.Name,
			Reader: bytes.NewReader(file.Data),
		})
	}
	_, err := c.session.WebhookExecute(ref.ID, ref.Token, false, params, discordgo.WithContext(ctx))
	if err != nil {
		return mapRESTError(err)
	}
	return nil
}

func (c *Client) SendDM(ctx context.Context, userID, content string) error {
	channel, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapRESTError(err)
	}
	if _, err := c.session.ChannelMessageSend(channel.ID, content, discordgo.WithContext(ctx)); err != nil {
		return mapRESTError(err)
	}
	return nil
}

func (c *Client) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("attachment download status %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

// mapRESTError translates well-known Discord API error codes into the domain
// sentinels the services branch on; everything else passes through.
func mapRESTError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return err
	}
	switch restErr.Message.Code {
	case discordgo.ErrCodeUnknownUser:
		return fmt.Errorf("%w: %s", domain.ErrUserNotFound, restErr.Message.Message)
	case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownWebhook:
		return fmt.Errorf("%w: %s", domain.ErrChannelNotFound, restErr.Message.Message)
	case discordgo.ErrCodeCannotSendMessagesToThisUser:
		return fmt.Errorf("%w: %s", domain.ErrDMsDisabled, restErr.Message.Message)
	}
	return err
}

func userFromSDK(user *discordgo.User) domain.User {
	display := user.GlobalName
	if display == "" {
		display = user.Username
	}
	return domain.User{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: display,
		AvatarURL:   user.AvatarURL(""),
		Bot:         user.Bot,
	}
}

func channelFromSDK(channel *discordgo.Channel) domain.Channel {
	return domain.Channel{
		ID:       channel.ID,
		GuildID:  channel.GuildID,
		Name:     channel.Name,
		ParentID: channel.ParentID,
		Category: channel.Type == discordgo.ChannelTypeGuildCategory,
	}
}
