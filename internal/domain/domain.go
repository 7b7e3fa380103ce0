package domain

import "errors"

// RelayWebhookName is the well-known name given to relay webhooks so they can
// be rediscovered on channels the bot did not create this run.
const RelayWebhookName = "DM Relay Webhook"

// DefaultAttachmentLimitBytes is the re-upload ceiling for forwarded
// attachments (8 MiB). Larger files become a textual placeholder.
const DefaultAttachmentLimitBytes = 8388608

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrGuildNotFound    = errors.New("no guild available for relay channel")
	ErrCategoryNotFound = errors.New("relay category not found")
	ErrDMsDisabled      = errors.New("user has direct messages disabled")
)

// RelayMapping associates an external user with the dedicated relay channel
// and the webhook credentials used to impersonate them there. All IDs are
// Discord snowflakes kept in their textual form.
type RelayMapping struct {
	UserID       string
	ChannelID    string
	WebhookID    string
	WebhookToken string
}

type WebhookRef struct {
	ID    string
	Token string
	Name  string
}

type User struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	Bot         bool
}

type Channel struct {
	ID       string
	GuildID  string
	Name     string
	ParentID string
	Category bool
}

type Attachment struct {
	Filename string
	URL      string
	Size     int64
}

// InboundMessage is a direct message received from an external user.
type InboundMessage struct {
	Author      User
	Content     string
	Attachments []Attachment
}

type FileUpload struct {
	Name string
	Data []byte
}

// WebhookMessage is sent into a relay channel under the given display
// name and avatar rather than the webhook's own identity.
type WebhookMessage struct {
	Content   string
	Username  string
	AvatarURL string
	Files     []FileUpload
}

// OwnerSet answers whether a user is one of the configured bot owners.
type OwnerSet map[string]struct{}

func NewOwnerSet(ids []string) OwnerSet {
	set := make(OwnerSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s OwnerSet) IsOwner(userID string) bool {
	_, ok := s[userID]
	return ok
}
