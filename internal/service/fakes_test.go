package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nightyworks/dm-relay-bridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentWebhook struct {
	ref domain.WebhookRef
	msg domain.WebhookMessage
}

type sentDM struct {
	userID  string
	content string
}

type fakePlatform struct {
	mu sync.Mutex

	users    map[string]domain.User
	channels map[string]domain.Channel
	webhooks map[string][]domain.WebhookRef

	createdChannels int
	createdWebhooks int
	deletedChannels []string

	webhookSends []sentWebhook
	webhookErr   error
	dms          []sentDM
	dmErr        error

	downloads   map[string][]byte
	downloadErr error

	nextID int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		users:     map[string]domain.User{},
		channels:  map[string]domain.Channel{},
		webhooks:  map[string][]domain.WebhookRef{},
		downloads: map[string][]byte{},
	}
}

func (p *fakePlatform) addChannel(channel domain.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[channel.ID] = channel
}

func (p *fakePlatform) removeChannel(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, channelID)
}

func (p *fakePlatform) FetchUser(_ context.Context, userID string) (domain.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (p *fakePlatform) FetchChannel(_ context.Context, channelID string) (domain.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	channel, ok := p.channels[channelID]
	if !ok {
		return domain.Channel{}, domain.ErrChannelNotFound
	}
	return channel, nil
}

func (p *fakePlatform) GuildChannels(_ context.Context, guildID string) ([]domain.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Channel, 0, len(p.channels))
	for _, channel := range p.channels {
		if channel.GuildID == guildID {
			out = append(out, channel)
		}
	}
	return out, nil
}

func (p *fakePlatform) CreateRelayChannel(_ context.Context, guildID, categoryID, name, topic string) (domain.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.createdChannels++
	channel := domain.Channel{
		ID:       fmt.Sprintf("chan-%d", p.nextID),
		GuildID:  guildID,
		Name:     name,
		ParentID: categoryID,
	}
	p.channels[channel.ID] = channel
	return channel, nil
}

func (p *fakePlatform) DeleteChannel(_ context.Context, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, channelID)
	p.deletedChannels = append(p.deletedChannels, channelID)
	return nil
}

func (p *fakePlatform) CreateWebhook(_ context.Context, channelID, name string) (domain.WebhookRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.createdWebhooks++
	ref := domain.WebhookRef{
		ID:    fmt.Sprintf("wh-%d", p.nextID),
		Token: fmt.Sprintf("tok-%d", p.nextID),
		Name:  name,
	}
	p.webhooks[channelID] = append(p.webhooks[channelID], ref)
	return ref, nil
}

func (p *fakePlatform) ChannelWebhooks(_ context.Context, channelID string) ([]domain.WebhookRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.WebhookRef(nil), p.webhooks[channelID]...), nil
}

func (p *fakePlatform) SendWebhook(_ context.Context, ref domain.WebhookRef, msg domain.WebhookMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.webhookErr != nil {
		return p.webhookErr
	}
	p.webhookSends = append(p.webhookSends, sentWebhook{ref: ref, msg: msg})
	return nil
}

func (p *fakePlatform) SendDM(_ context.Context, userID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dmErr != nil {
		return p.dmErr
	}
	p.dms = append(p.dms, sentDM{userID: userID, content: content})
	return nil
}

func (p *fakePlatform) DownloadAttachment(_ context.Context, url string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.downloadErr != nil {
		return nil, p.downloadErr
	}
	data, ok := p.downloads[url]
	if !ok {
		return nil, fmt.Errorf("attachment download status 404")
	}
	return data, nil
}

type fakeRepo struct {
	mu   sync.Mutex
	rows map[string]domain.RelayMapping
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[string]domain.RelayMapping{}}
}

func (r *fakeRepo) UpsertRelay(_ context.Context, mapping domain.RelayMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[mapping.UserID] = mapping
	return nil
}

func (r *fakeRepo) DeleteRelay(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, userID)
	return nil
}

func (r *fakeRepo) GetRelay(_ context.Context, userID string) (domain.RelayMapping, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mapping, ok := r.rows[userID]
	return mapping, ok, nil
}

func (r *fakeRepo) ListRelays(_ context.Context) ([]domain.RelayMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RelayMapping, 0, len(r.rows))
	for _, mapping := range r.rows {
		out = append(out, mapping)
	}
	return out, nil
}

func (r *fakeRepo) count(t *testing.T) int {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
