// Package authflow drives the multi-step remote login protocol: direct
// success, two-factor codes, and platform verification challenges.
package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grmlab/gramscope/pkg/gram"
	"github.com/grmlab/gramscope/pkg/remote"
)

// ErrSessionExpired is returned when a completion attempt references a
// challenge token that was never issued, already consumed, or TTL-evicted.
var ErrSessionExpired = errors.New("login session expired, please start over")

// Outcome is the result of a login step. Exactly one of Authenticated,
// RequiresTwoFactor, or RequiresChallenge is set.
type Outcome struct {
	Authenticated     bool
	Profile           gram.Profile
	SessionSealed     string
	RequiresTwoFactor bool
	RequiresChallenge bool
	Channel           remote.ChallengeChannel
	SessionToken      string
	Message           string
}

// Flow is the authentication state machine. All state lives in the injected
// challenge store; Flow itself is stateless and safe for concurrent use.
type Flow struct {
	store  *ChallengeStore
	dialer remote.Dialer
	cipher Cipher
	log    *logrus.Logger
}

func New(store *ChallengeStore, dialer remote.Dialer, cipher Cipher, log *logrus.Logger) *Flow {
	return &Flow{store: store, dialer: dialer, cipher: cipher, log: log}
}

// BeginLogin attempts direct authentication. Multi-step signals allocate a
// challenge keyed by a fresh session token; hard failures return the typed
// remote error with nothing retained.
func (f *Flow) BeginLogin(ctx context.Context, username, password string) (*Outcome, error) {
	// Bound memory growth from abandoned attempts before taking on a new one.
	f.store.Evict()

	client := f.dialer.NewClient(username)
	profile, blob, err := client.Login(ctx, username, password, "")
	if err == nil {
		return f.authenticated(profile, blob, "Login successful")
	}

	switch {
	case errors.Is(err, remote.ErrTwoFactorRequired):
		token := uuid.NewString()
		f.store.Put(&Challenge{
			Token:    token,
			Kind:     KindTwoFactor,
			Username: username,
			Password: password,
			Client:   client,
		})
		return &Outcome{
			RequiresTwoFactor: true,
			SessionToken:      token,
			Message:           "Two-factor authentication required",
		}, nil

	case isChallengeRequired(err):
		// The platform wants a secondary verification: asking for the
		// challenge triggers the code dispatch as a side effect.
		channel, cerr := client.RequestChallenge(ctx)
		if cerr != nil {
			return nil, fmt.Errorf("challenge setup failed: %w", cerr)
		}
		token := uuid.NewString()
		f.store.Put(&Challenge{
			Token:    token,
			Kind:     KindChallenge,
			Username: username,
			Client:   client,
		})
		return &Outcome{
			RequiresChallenge: true,
			Channel:           channel,
			SessionToken:      token,
			Message:           fmt.Sprintf("Security code sent via %s", channel),
		}, nil
	}

	f.log.Warnf("login failed for %s: %v", username, err)
	return nil, err
}

// CompleteTwoFactor finishes a 2FA login. One-shot: success and failure both
// consume the pending challenge, a failed attempt restarts at BeginLogin.
func (f *Flow) CompleteTwoFactor(ctx context.Context, token, code, username, password string) (*Outcome, error) {
	c := f.store.Take(token)
	if c == nil || c.Kind != KindTwoFactor {
		return nil, ErrSessionExpired
	}
	profile, blob, err := c.Client.Login(ctx, username, password, code)
	if err != nil {
		return nil, fmt.Errorf("two-factor verification failed: %w", err)
	}
	return f.authenticated(profile, blob, "Two-factor verification successful")
}

// CompleteChallenge submits the verification code for a pending platform
// challenge. Same one-shot semantics as CompleteTwoFactor.
func (f *Flow) CompleteChallenge(ctx context.Context, token, code string) (*Outcome, error) {
	c := f.store.Take(token)
	if c == nil || c.Kind != KindChallenge {
		return nil, ErrSessionExpired
	}
	profile, blob, err := c.Client.SubmitChallengeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("challenge verification failed: %w", err)
	}
	return f.authenticated(profile, blob, "Challenge verification successful")
}

// RestoreClient opens a sealed session blob and rebuilds a remote client
// with the device identity the blob's username maps to.
func (f *Flow) RestoreClient(sealed string) (remote.Client, error) {
	plain, err := f.cipher.Open(sealed)
	if err != nil {
		return nil, err
	}
	return f.dialer.Restore(remote.SessionBlob(plain))
}

func (f *Flow) authenticated(profile gram.Profile, blob remote.SessionBlob, msg string) (*Outcome, error) {
	sealed, err := f.cipher.Seal(blob)
	if err != nil {
		return nil, fmt.Errorf("sealing session: %w", err)
	}
	return &Outcome{
		Authenticated: true,
		Profile:       profile,
		SessionSealed: sealed,
		Message:       msg,
	}, nil
}

func isChallengeRequired(err error) bool {
	var cr *remote.ChallengeRequiredError
	return errors.As(err, &cr)
}
