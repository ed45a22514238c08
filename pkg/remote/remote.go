package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/grmlab/gramscope/pkg/gram"
)

// ProgressFunc reports pagination progress as (fetched, total). total may be
// zero when the remote end does not announce a count up front.
type ProgressFunc func(current, total int)

// ChallengeChannel tells the caller where the verification code was sent.
type ChallengeChannel string

const (
	ChannelEmail ChallengeChannel = "email"
	ChannelSMS   ChallengeChannel = "sms"
)

// Typed protocol signals. The auth flow and the syncer switch on these instead
// of string-matching error messages.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTwoFactorRequired  = errors.New("two-factor authentication required")
	ErrBadSession         = errors.New("session blob rejected by remote")
	ErrNotAuthenticated   = errors.New("client is not authenticated")
)

// ChallengeRequiredError signals that the platform demands a secondary
// verification step before the login can complete.
type ChallengeRequiredError struct {
	Detail string
}

func (e *ChallengeRequiredError) Error() string {
	if e.Detail == "" {
		return "verification challenge required"
	}
	return "verification challenge required: " + e.Detail
}

// RateLimitedError signals a remote-imposed slowdown. Never retried
// automatically; during a sync it aborts the whole run.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("remote rate limit hit, retry in %ds", e.RetryAfterSeconds)
	}
	return "remote rate limit hit"
}

// IsRateLimited reports whether err carries a remote rate-limit signal.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// ListOptions bounds a relationship fetch. Max == 0 fetches everything.
type ListOptions struct {
	Max      int
	Progress ProgressFunc
}

// Client is the remote account capability. One Client instance is bound to a
// single login attempt or restored session; it is not safe for concurrent use.
type Client interface {
	// Login authenticates with credentials. code is the 2FA verification code
	// and is empty on the first attempt.
	Login(ctx context.Context, username, password, code string) (gram.Profile, SessionBlob, error)
	// RequestChallenge asks the platform to dispatch a verification code and
	// reports the channel it was sent through.
	RequestChallenge(ctx context.Context) (ChallengeChannel, error)
	// SubmitChallengeCode completes a pending verification challenge.
	SubmitChallengeCode(ctx context.Context, code string) (gram.Profile, SessionBlob, error)
	// Validate probes the session with a lightweight self-lookup.
	Validate(ctx context.Context) bool
	ListFollowers(ctx context.Context, accountID string, opts ListOptions) ([]gram.User, error)
	ListFollowing(ctx context.Context, accountID string, opts ListOptions) ([]gram.User, error)
	GetProfile(ctx context.Context, accountID string) (gram.Profile, error)
}

// Dialer creates clients. NewClient builds a fresh client with the device
// identity derived from username; Restore rebuilds one from a saved session.
type Dialer interface {
	NewClient(username string) Client
	Restore(blob SessionBlob) (Client, error)
}
