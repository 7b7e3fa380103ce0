package ports

import (
	"context"

	"github.com/nightyworks/dm-relay-bridge/internal/domain"
)

// RelayRepository is the durable source of truth for relay mappings.
type RelayRepository interface {
	UpsertRelay(ctx context.Context, mapping domain.RelayMapping) error
	DeleteRelay(ctx context.Context, userID string) error
	GetRelay(ctx context.Context, userID string) (domain.RelayMapping, bool, error)
	ListRelays(ctx context.Context) ([]domain.RelayMapping, error)
}

// ChatPlatform is the narrow surface of the chat platform the relay needs.
// The production implementation wraps the Discord SDK; tests use fakes.
type ChatPlatform interface {
	FetchUser(ctx context.Context, userID string) (domain.User, error)
	FetchChannel(ctx context.Context, channelID string) (domain.Channel, error)
	GuildChannels(ctx context.Context, guildID string) ([]domain.Channel, error)
	CreateRelayChannel(ctx context.Context, guildID, categoryID, name, topic string) (domain.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error

	CreateWebhook(ctx context.Context, channelID, name string) (domain.WebhookRef, error)
	ChannelWebhooks(ctx context.Context, channelID string) ([]domain.WebhookRef, error)
	SendWebhook(ctx context.Context, ref domain.WebhookRef, msg domain.WebhookMessage) error

	SendDM(ctx context.Context, userID, content string) error
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
}
