package gateway

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/grmlab/gramscope/pkg/remote"
)

// mapError turns a non-200 gateway response into the closed typed error set
// the rest of the system switches on.
func mapError(status int, body []byte) error {
	code := gjson.GetBytes(body, "error").String()
	detail := gjson.GetBytes(body, "detail").String()

	switch code {
	case "invalid_credentials", "bad_password":
		return remote.ErrInvalidCredentials
	case "two_factor_required":
		return remote.ErrTwoFactorRequired
	case "challenge_required":
		return &remote.ChallengeRequiredError{Detail: detail}
	case "rate_limited", "please_wait":
		return &remote.RateLimitedError{RetryAfterSeconds: int(gjson.GetBytes(body, "retry_after").Int())}
	case "bad_session", "login_required":
		return remote.ErrBadSession
	}

	switch status {
	case http.StatusUnauthorized:
		return remote.ErrInvalidCredentials
	case http.StatusTooManyRequests:
		return &remote.RateLimitedError{}
	case http.StatusBadRequest:
		// The platform answers 400 when it has quietly restricted list
		// access; treat it as a rate limit so the sync aborts cleanly
		// instead of persisting an empty snapshot.
		return &remote.RateLimitedError{}
	}
	if detail == "" {
		detail = code
	}
	return fmt.Errorf("gateway error (status %d): %s", status, detail)
}
