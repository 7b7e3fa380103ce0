package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nightyworks/dm-relay-bridge/internal/domain"
	"github.com/nightyworks/dm-relay-bridge/internal/ports"
	"github.com/nightyworks/dm-relay-bridge/internal/telemetry"
)

// defaultDeleteGrace is how long a relay channel survives after a confirmed
// closure, so the confirmation UI can finish rendering before the channel
// disappears.
const defaultDeleteGrace = 5 * time.Second

// RelayService owns the relay lifecycle: it establishes mappings against the
// chat platform, restores them from the store on startup, and closes them.
// It also holds the in-memory mirror of the store used during forwarding.
type RelayService struct {
	logger     *slog.Logger
	platform   ports.ChatPlatform
	repo       ports.RelayRepository
	guildID    string
	categoryID string
	queue      *KeyedQueue

	deleteGrace time.Duration

	mu              sync.RWMutex
	userChannels    map[string]string
	channelWebhooks map[string]domain.WebhookRef

	timerMu        sync.Mutex
	pendingDeletes map[string]*time.Timer
}

type EstablishResult struct {
	Channel domain.Channel
	Webhook domain.WebhookRef
	Created bool
}

type RelaySummary struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
	WebhookID string `json:"webhookId"`
}

func NewRelayService(
	logger *slog.Logger,
	platform ports.ChatPlatform,
	repo ports.RelayRepository,
	guildID string,
	categoryID string,
) *RelayService {
	return &RelayService{
		logger:          logger,
		platform:        platform,
		repo:            repo,
		guildID:         guildID,
		categoryID:      categoryID,
		queue:           NewKeyedQueue(),
		deleteGrace:     defaultDeleteGrace,
		userChannels:    make(map[string]string),
		channelWebhooks: make(map[string]domain.WebhookRef),
		pendingDeletes:  make(map[string]*time.Timer),
	}
}

func (s *RelayService) ChannelForUser(userID string) (string, bool) {
	s.mu.RLock()
	channelID, ok := s.userChannels[userID]
	s.mu.RUnlock()
	return channelID, ok
}

func (s *RelayService) UserForChannel(channelID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for userID, mapped := range s.userChannels {
		if mapped == channelID {
			return userID, true
		}
	}
	return "", false
}

func (s *RelayService) WebhookForChannel(channelID string) (domain.WebhookRef, bool) {
	s.mu.RLock()
	ref, ok := s.channelWebhooks[channelID]
	s.mu.RUnlock()
	return ref, ok
}

// Lookup reports whether a relay exists for the user, consulting the cache
// first and falling back to the store.
func (s *RelayService) Lookup(ctx context.Context, userID string) (domain.RelayMapping, bool, error) {
	if channelID, ok := s.ChannelForUser(userID); ok {
		ref, _ := s.WebhookForChannel(channelID)
		return domain.RelayMapping{
			UserID:       userID,
			ChannelID:    channelID,
			WebhookID:    ref.ID,
			WebhookToken: ref.Token,
		}, true, nil
	}
	return s.repo.GetRelay(ctx, userID)
}

func (s *RelayService) Snapshot() []RelaySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RelaySummary, 0, len(s.userChannels))
	for userID, channelID := range s.userChannels {
		summary := RelaySummary{UserID: userID, ChannelID: channelID}
		if ref, ok := s.channelWebhooks[channelID]; ok {
			summary.WebhookID = ref.ID
		}
		out = append(out, summary)
	}
	return out
}

// Establish ensures a relay exists for the user, creating the channel and
// webhook if needed. Calls for the same user are serialized so two
// near-simultaneous messages cannot create duplicate channels.
func (s *RelayService) Establish(ctx context.Context, user domain.User, interactionGuildID string) (EstablishResult, error) {
	var result EstablishResult
	err := s.queue.Run(ctx, user.ID, func(ctx context.Context) error {
		var establishErr error
		result, establishErr = s.establish(ctx, user, interactionGuildID)
		return establishErr
	})
	return result, err
}

func (s *RelayService) establish(ctx context.Context, user domain.User, interactionGuildID string) (EstablishResult, error) {
	guildID := s.guildID
	if guildID == "" {
		guildID = interactionGuildID
	}
	if guildID == "" {
		return EstablishResult{}, domain.ErrGuildNotFound
	}

	// Hot path: mapping already cached.
	if channelID, ok := s.ChannelForUser(user.ID); ok {
		s.cancelPendingDelete(channelID)
		webhook, err := s.EnsureWebhook(ctx, channelID)
		if err != nil {
			return EstablishResult{}, err
		}
		return EstablishResult{Channel: domain.Channel{ID: channelID, GuildID: guildID}, Webhook: webhook}, nil
	}

	// The store may hold a row the cache does not, e.g. when restore was
	// interrupted. Validate it against the platform before reusing.
	mapping, found, err := s.repo.GetRelay(ctx, user.ID)
	if err != nil {
		return EstablishResult{}, fmt.Errorf("load relay mapping: %w", err)
	}
	if found {
		if _, fetchErr := s.platform.FetchChannel(ctx, mapping.ChannelID); fetchErr == nil {
			ref := domain.WebhookRef{ID: mapping.WebhookID, Token: mapping.WebhookToken, Name: domain.RelayWebhookName}
			s.setMapping(mapping, ref)
			s.cancelPendingDelete(mapping.ChannelID)
			return EstablishResult{Channel: domain.Channel{ID: mapping.ChannelID, GuildID: guildID}, Webhook: ref}, nil
		} else if errors.Is(fetchErr, domain.ErrChannelNotFound) {
			s.logger.Warn("stored relay channel missing; pruning before re-establish", "user_id", user.ID, "channel_id", mapping.ChannelID)
			if pruneErr := s.pruneLocked(ctx, user.ID, mapping.ChannelID); pruneErr != nil {
				return EstablishResult{}, pruneErr
			}
		} else {
			return EstablishResult{}, fetchErr
		}
	}

	channelName := strings.ToLower(user.Username)
	channels, err := s.platform.GuildChannels(ctx, guildID)
	if err != nil {
		return EstablishResult{}, fmt.Errorf("list guild channels: %w", err)
	}

	// Attach to a pre-existing channel named after the user.
	for _, channel := range channels {
		if channel.Category || channel.Name != channelName {
			continue
		}
		webhook, resolveErr := s.resolveWebhook(ctx, channel.ID)
		if resolveErr != nil {
			return EstablishResult{}, resolveErr
		}
		if persistErr := s.persist(ctx, user.ID, channel.ID, webhook); persistErr != nil {
			return EstablishResult{}, persistErr
		}
		s.cancelPendingDelete(channel.ID)
		s.logger.Info("attached relay to existing channel", "user_id", user.ID, "channel_id", channel.ID, "webhook_id", webhook.ID)
		telemetry.Inc(telemetry.RelaysEstablished)
		return EstablishResult{Channel: channel, Webhook: webhook}, nil
	}

	if s.categoryID == "" {
		return EstablishResult{}, domain.ErrCategoryNotFound
	}
	if !categoryInGuild(channels, s.categoryID) {
		s.logger.Warn("relay category validation failed", "category_id", s.categoryID, "guild_id", guildID)
		return EstablishResult{}, domain.ErrCategoryNotFound
	}

	topic := fmt.Sprintf("DM relay with %s (%s)", user.DisplayName, user.ID)
	channel, err := s.platform.CreateRelayChannel(ctx, guildID, s.categoryID, channelName, topic)
	if err != nil {
		return EstablishResult{}, fmt.Errorf("create relay channel: %w", err)
	}
	s.logger.Info("created relay channel", "user_id", user.ID, "channel_id", channel.ID, "guild_id", guildID)

	webhook, err := s.platform.CreateWebhook(ctx, channel.ID, domain.RelayWebhookName)
	if err != nil {
		return EstablishResult{}, fmt.Errorf("create relay webhook: %w", err)
	}
	if err := s.persist(ctx, user.ID, channel.ID, webhook); err != nil {
		return EstablishResult{}, err
	}
	s.logger.Info("established relay", "user_id", user.ID, "channel_id", channel.ID, "webhook_id", webhook.ID)
	telemetry.Inc(telemetry.RelaysEstablished)
	return EstablishResult{Channel: channel, Webhook: webhook, Created: true}, nil
}

// EnsureWebhook returns the cached webhook for a channel, discovering or
// creating one by the well-known name when the cache is cold.
func (s *RelayService) EnsureWebhook(ctx context.Context, channelID string) (domain.WebhookRef, error) {
	if ref, ok := s.WebhookForChannel(channelID); ok {
		return ref, nil
	}
	ref, err := s.resolveWebhook(ctx, channelID)
	if err != nil {
		return domain.WebhookRef{}, err
	}
	s.mu.Lock()
	s.channelWebhooks[channelID] = ref
	s.mu.Unlock()
	s.logger.Info("attached relay webhook", "channel_id", channelID, "webhook_id", ref.ID)
	return ref, nil
}

func (s *RelayService) resolveWebhook(ctx context.Context, channelID string) (domain.WebhookRef, error) {
	hooks, err := s.platform.ChannelWebhooks(ctx, channelID)
	if err != nil {
		return domain.WebhookRef{}, fmt.Errorf("list channel webhooks: %w", err)
	}
	for _, hook := range hooks {
		if hook.Name == domain.RelayWebhookName {
			return hook, nil
		}
	}
	created, err := s.platform.CreateWebhook(ctx, channelID, domain.RelayWebhookName)
	if err != nil {
		return domain.WebhookRef{}, fmt.Errorf("create relay webhook: %w", err)
	}
	return created, nil
}

// Restore repopulates the cache from the store, pruning rows whose channel
// no longer exists on the platform. Rows are independent; a failure on one
// does not stop the rest.
func (s *RelayService) Restore(ctx context.Context) error {
	s.logger.Info("restoring relay mappings from store")
	mappings, err := s.repo.ListRelays(ctx)
	if err != nil {
		return fmt.Errorf("list relay mappings: %w", err)
	}

	restored := 0
	for _, mapping := range mappings {
		if _, err := s.platform.FetchChannel(ctx, mapping.ChannelID); err != nil {
			if errors.Is(err, domain.ErrChannelNotFound) {
				s.logger.Warn("relay channel gone, removing mapping", "user_id", mapping.UserID, "channel_id", mapping.ChannelID)
				if deleteErr := s.repo.DeleteRelay(ctx, mapping.UserID); deleteErr != nil {
					s.logger.Error("delete stale relay mapping failed", "user_id", mapping.UserID, "error", deleteErr)
				}
				telemetry.Inc(telemetry.RelaysPruned)
				continue
			}
			s.logger.Warn("relay channel validation failed, keeping mapping", "user_id", mapping.UserID, "channel_id", mapping.ChannelID, "error", err)
			continue
		}
		ref := domain.WebhookRef{ID: mapping.WebhookID, Token: mapping.WebhookToken, Name: domain.RelayWebhookName}
		s.setMapping(mapping, ref)
		restored++
	}

	s.logger.Info("relay restore complete", "stored", len(mappings), "restored", restored)
	telemetry.SetActiveRelays(restored)
	return nil
}

// Prune removes the mapping for a user from both cache and store, used when
// forwarding discovers the backing channel is gone.
func (s *RelayService) Prune(ctx context.Context, userID string) error {
	channelID, _ := s.ChannelForUser(userID)
	return s.pruneLocked(ctx, userID, channelID)
}

func (s *RelayService) pruneLocked(ctx context.Context, userID, channelID string) error {
	s.removeMapping(userID, channelID)
	if err := s.repo.DeleteRelay(ctx, userID); err != nil {
		return fmt.Errorf("delete relay mapping: %w", err)
	}
	telemetry.Inc(telemetry.RelaysPruned)
	return nil
}

// Close tears down a confirmed relay. When the triggering channel is the
// user's own relay channel (name match), its deletion is scheduled after a
// grace delay; a re-Establish within the window cancels it. Reports whether
// a deletion was scheduled.
func (s *RelayService) Close(ctx context.Context, user domain.User, triggerChannelID string) (bool, error) {
	scheduled := false
	err := s.queue.Run(ctx, user.ID, func(ctx context.Context) error {
		channelID, _ := s.ChannelForUser(user.ID)
		s.removeMapping(user.ID, channelID)
		if err := s.repo.DeleteRelay(ctx, user.ID); err != nil {
			return fmt.Errorf("delete relay mapping: %w", err)
		}
		telemetry.Inc(telemetry.RelaysClosed)
		s.logger.Info("closed relay", "user_id", user.ID, "channel_id", channelID)

		if triggerChannelID == "" {
			return nil
		}
		channel, err := s.platform.FetchChannel(ctx, triggerChannelID)
		if err != nil {
			return nil
		}
		if channel.Name != strings.ToLower(user.Username) {
			return nil
		}
		s.scheduleDelete(channel.ID)
		scheduled = true
		return nil
	})
	return scheduled, err
}

func (s *RelayService) scheduleDelete(channelID string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if _, pending := s.pendingDeletes[channelID]; pending {
		return
	}
	s.pendingDeletes[channelID] = time.AfterFunc(s.deleteGrace, func() {
		s.timerMu.Lock()
		delete(s.pendingDeletes, channelID)
		s.timerMu.Unlock()
		if err := s.platform.DeleteChannel(context.Background(), channelID); err != nil {
			s.logger.Error("delayed channel deletion failed", "channel_id", channelID, "error", err)
			return
		}
		s.logger.Info("deleted relay channel", "channel_id", channelID)
	})
}

func (s *RelayService) cancelPendingDelete(channelID string) {
	s.timerMu.Lock()
	timer, ok := s.pendingDeletes[channelID]
	if ok {
		timer.Stop()
		delete(s.pendingDeletes, channelID)
	}
	s.timerMu.Unlock()
	if ok {
		s.logger.Info("cancelled pending channel deletion", "channel_id", channelID)
	}
}

func (s *RelayService) persist(ctx context.Context, userID, channelID string, webhook domain.WebhookRef) error {
	mapping := domain.RelayMapping{
		UserID:       userID,
		ChannelID:    channelID,
		WebhookID:    webhook.ID,
		WebhookToken: webhook.Token,
	}
	if err := s.repo.UpsertRelay(ctx, mapping); err != nil {
		return fmt.Errorf("save relay mapping: %w", err)
	}
	s.setMapping(mapping, webhook)
	return nil
}

func (s *RelayService) setMapping(mapping domain.RelayMapping, ref domain.WebhookRef) {
	s.mu.Lock()
	s.userChannels[mapping.UserID] = mapping.ChannelID
	s.channelWebhooks[mapping.ChannelID] = ref
	count := len(s.userChannels)
	s.mu.Unlock()
	telemetry.SetActiveRelays(count)
}

func (s *RelayService) removeMapping(userID, channelID string) {
	s.mu.Lock()
	delete(s.userChannels, userID)
	if channelID != "" {
		delete(s.channelWebhooks, channelID)
	}
	count := len(s.userChannels)
	s.mu.Unlock()
	telemetry.SetActiveRelays(count)
}

func categoryInGuild(channels []domain.Channel, categoryID string) bool {
	for _, channel := range channels {
		if channel.ID == categoryID && channel.Category {
			return true
		}
	}
	return false
}
