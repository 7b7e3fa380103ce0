package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nightyworks/dm-relay-bridge/internal/domain"
	"github.com/nightyworks/dm-relay-bridge/internal/ports"
	"github.com/nightyworks/dm-relay-bridge/internal/telemetry"
)

// ForwardService mirrors message content between a user's DM channel and the
// relay channel. Inbound DMs go out through the relay webhook impersonating
// the sender; owner messages go out as plain DMs.
type ForwardService struct {
	logger          *slog.Logger
	platform        ports.ChatPlatform
	relays          *RelayService
	attachmentLimit int64
}

func NewForwardService(logger *slog.Logger, platform ports.ChatPlatform, relays *RelayService, attachmentLimit int64) *ForwardService {
	if attachmentLimit <= 0 {
		attachmentLimit = domain.DefaultAttachmentLimitBytes
	}
	return &ForwardService{logger: logger, platform: platform, relays: relays, attachmentLimit: attachmentLimit}
}

// HandleInbound forwards a DM from an external user into their relay channel.
// A DM from a user with no relay is dropped silently.
func (s *ForwardService) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	channelID, ok := s.relays.ChannelForUser(msg.Author.ID)
	if !ok {
		return
	}

	if _, err := s.platform.FetchChannel(ctx, channelID); err != nil {
		if errors.Is(err, domain.ErrChannelNotFound) {
			s.logger.Warn("relay channel missing, pruning mapping", "user_id", msg.Author.ID, "channel_id", channelID)
			if pruneErr := s.relays.Prune(ctx, msg.Author.ID); pruneErr != nil {
				s.logger.Error("prune relay mapping failed", "user_id", msg.Author.ID, "error", pruneErr)
			}
			return
		}
		s.logger.Error("relay channel lookup failed", "user_id", msg.Author.ID, "channel_id", channelID, "error", err)
		return
	}

	webhook, err := s.relays.EnsureWebhook(ctx, channelID)
	if err != nil {
		s.logger.Error("resolve relay webhook failed", "channel_id", channelID, "error", err)
		return
	}

	content := msg.Content
	files := make([]domain.FileUpload, 0, len(msg.Attachments))
	for _, attachment := range msg.Attachments {
		if attachment.Size > s.attachmentLimit {
			content += fmt.Sprintf("\nAttachment: %s (File too large: %d bytes)", attachment.Filename, attachment.Size)
			telemetry.Inc(telemetry.AttachmentPlaceholders)
			continue
		}
		data, downloadErr := s.platform.DownloadAttachment(ctx, attachment.URL)
		if downloadErr != nil {
			content += fmt.Sprintf("\nAttachment: %s (Error: %s)", attachment.Filename, downloadErr)
			telemetry.Inc(telemetry.AttachmentPlaceholders)
			continue
		}
		files = append(files, domain.FileUpload{Name: attachment.Filename, Data: data})
		telemetry.Inc(telemetry.AttachmentsReuploaded)
	}

	err = s.platform.SendWebhook(ctx, webhook, domain.WebhookMessage{
		Content:   content,
		Username:  msg.Author.DisplayName,
		AvatarURL: msg.Author.AvatarURL,
		Files:     files,
	})
	if err != nil {
		s.logger.Error("forward DM to relay failed", "user_id", msg.Author.ID, "channel_id", channelID, "error", err)
		return
	}
	s.logger.Info("forwarded DM to relay", "user_id", msg.Author.ID, "channel_id", channelID, "attachments", len(msg.Attachments))
	telemetry.Inc(telemetry.InboundForwarded)
}

// SendOwnerDM delivers an owner message to the user's DM channel.
// domain.ErrDMsDisabled passes through for the caller to report; no retries.
func (s *ForwardService) SendOwnerDM(ctx context.Context, userID, content string) error {
	if err := s.platform.SendDM(ctx, userID, content); err != nil {
		return err
	}
	telemetry.Inc(telemetry.OutboundSent)
	return nil
}

// MirrorToRelay copies an owner message into the relay channel under the
// owner's display identity.
func (s *ForwardService) MirrorToRelay(ctx context.Context, webhook domain.WebhookRef, sender domain.User, content string) error {
	return s.platform.SendWebhook(ctx, webhook, domain.WebhookMessage{
		Content:   content,
		Username:  sender.DisplayName,
		AvatarURL: sender.AvatarURL,
	})
}
