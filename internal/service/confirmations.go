package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nightyworks/dm-relay-bridge/internal/domain"
)

// defaultConfirmTTL is how long a closure prompt stays actionable before it
// silently expires.
const defaultConfirmTTL = 60 * time.Second

type ConfirmOutcome int

const (
	OutcomeConfirmed ConfirmOutcome = iota
	OutcomeCancelled
	OutcomeRejected
	OutcomeInert
)

type confirmState int

const (
	statePrompted confirmState = iota
	stateConfirmed
	stateCancelled
	stateExpired
)

// PendingConfirmation is one in-flight relay-closure prompt, identified by
// the token embedded in its button custom IDs.
type PendingConfirmation struct {
	Token     string
	User      domain.User
	ChannelID string

	state confirmState
	timer *time.Timer
}

// Confirmations tracks closure prompts through the
// Prompted → {Confirmed, Cancelled, Expired} state machine. All outcomes are
// terminal; interactions from non-owners are rejected without a transition.
type Confirmations struct {
	owners domain.OwnerSet
	ttl    time.Duration

	mu      sync.Mutex
	pending map[string]*PendingConfirmation
}

func NewConfirmations(owners domain.OwnerSet, ttl time.Duration) *Confirmations {
	if ttl <= 0 {
		ttl = defaultConfirmTTL
	}
	return &Confirmations{
		owners:  owners,
		ttl:     ttl,
		pending: make(map[string]*PendingConfirmation),
	}
}

// Begin registers a prompt for closing the user's relay and arms its expiry.
func (c *Confirmations) Begin(user domain.User, channelID string) *PendingConfirmation {
	pending := &PendingConfirmation{
		Token:     uuid.NewString(),
		User:      user,
		ChannelID: channelID,
		state:     statePrompted,
	}
	pending.timer = time.AfterFunc(c.ttl, func() { c.expire(pending.Token) })

	c.mu.Lock()
	c.pending[pending.Token] = pending
	c.mu.Unlock()
	return pending
}

// Resolve applies a button press. Unknown or expired tokens are inert;
// non-owner actors are rejected and the prompt stays actionable.
func (c *Confirmations) Resolve(token, actorID string, confirm bool) (ConfirmOutcome, *PendingConfirmation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, ok := c.pending[token]
	if !ok || pending.state != statePrompted {
		return OutcomeInert, nil
	}
	if !c.owners.IsOwner(actorID) {
		return OutcomeRejected, nil
	}

	pending.timer.Stop()
	delete(c.pending, token)
	if confirm {
		pending.state = stateConfirmed
		return OutcomeConfirmed, pending
	}
	pending.state = stateCancelled
	return OutcomeCancelled, pending
}

func (c *Confirmations) expire(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.pending[token]
	if !ok || pending.state != statePrompted {
		return
	}
	pending.state = stateExpired
	delete(c.pending, token)
}
