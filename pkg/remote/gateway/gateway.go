// Package gateway implements remote.Client against a protocol-gateway
// sidecar. The sidecar owns the platform's private wire protocol; this
// package only speaks plain JSON over HTTP to it.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/grmlab/gramscope/pkg/gram"
	"github.com/grmlab/gramscope/pkg/remote"
)

const (
	defaultTimeout = 30 * time.Second
	pageSize       = 100
)

// Dialer builds gateway-backed clients.
type Dialer struct {
	BaseURL string
	Proxy   string
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
}

var _ remote.Dialer = (*Dialer)(nil)

func (d *Dialer) NewClient(username string) remote.Client {
	return &Client{
		base:    d.BaseURL,
		http:    d.newHTTPClient(),
		device:  remote.DeviceForUser(username),
		timeout: d.timeout(),
	}
}

func (d *Dialer) Restore(blob remote.SessionBlob) (remote.Client, error) {
	username, err := blob.Username()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrBadSession, err)
	}
	c := &Client{
		base:    d.BaseURL,
		http:    d.newHTTPClient(),
		device:  remote.DeviceForUser(username),
		session: blob,
		timeout: d.timeout(),
	}
	return c, nil
}

func (d *Dialer) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return defaultTimeout
}

func (d *Dialer) newHTTPClient() *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 8 * time.Second
	rc.Logger = nil
	// Transient transport failures and server errors retry with backoff.
	// 429 must surface as a rate-limit signal, never be retried away.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return resp.StatusCode >= 500 && resp.StatusCode <= 504, nil
	}
	if d.Proxy != "" {
		if proxyURL, err := url.Parse(d.Proxy); err == nil {
			rc.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	return rc
}

// Client talks to the gateway on behalf of a single account session. Not safe
// for concurrent use; the syncer runs at most one of these per account.
type Client struct {
	base    string
	http    *retryablehttp.Client
	device  remote.Device
	session remote.SessionBlob
	timeout time.Duration
}

var _ remote.Client = (*Client)(nil)

func (c *Client) Login(ctx context.Context, username, password, code string) (gram.Profile, remote.SessionBlob, error) {
	payload := map[string]any{
		"username": username,
		"password": password,
		"device":   c.device,
	}
	if code != "" {
		payload["verification_code"] = code
	}
	body, err := c.post(ctx, "/session/login", payload)
	if err != nil {
		return gram.Profile{}, nil, err
	}
	return c.adoptSession(body, username)
}

func (c *Client) RequestChallenge(ctx context.Context) (remote.ChallengeChannel, error) {
	body, err := c.post(ctx, "/session/challenge/request", map[string]any{"device": c.device})
	if err != nil {
		return "", err
	}
	return classifyChannel(gjson.GetBytes(body, "step_name").String()), nil
}

func (c *Client) SubmitChallengeCode(ctx context.Context, code string) (gram.Profile, remote.SessionBlob, error) {
	body, err := c.post(ctx, "/session/challenge/submit", map[string]any{"code": code, "device": c.device})
	if err != nil {
		return gram.Profile{}, nil, err
	}
	username := gjson.GetBytes(body, "profile.username").String()
	return c.adoptSession(body, username)
}

// adoptSession extracts profile and session state from a successful auth
// response and tags the blob with the username for later restores.
func (c *Client) adoptSession(body []byte, username string) (gram.Profile, remote.SessionBlob, error) {
	profile := profileFrom(gjson.GetBytes(body, "profile"))
	session := gjson.GetBytes(body, "session")
	if !session.Exists() {
		return gram.Profile{}, nil, fmt.Errorf("gateway response carried no session state")
	}
	blob, err := remote.SessionBlob(session.Raw).TagUsername(username)
	if err != nil {
		return gram.Profile{}, nil, err
	}
	c.session = blob
	return profile, blob, nil
}

func (c *Client) Validate(ctx context.Context) bool {
	if c.session == nil {
		return false
	}
	_, err := c.get(ctx, "/account/self", nil)
	return err == nil
}

func (c *Client) GetProfile(ctx context.Context, accountID string) (gram.Profile, error) {
	body, err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/profile", nil)
	if err != nil {
		return gram.Profile{}, err
	}
	return profileFrom(gjson.ParseBytes(body)), nil
}

func (c *Client) ListFollowers(ctx context.Context, accountID string, opts remote.ListOptions) ([]gram.User, error) {
	return c.listRelations(ctx, accountID, "followers", opts)
}

func (c *Client) ListFollowing(ctx context.Context, accountID string, opts remote.ListOptions) ([]gram.User, error) {
	return c.listRelations(ctx, accountID, "following", opts)
}

// listRelations walks the cursor-paginated list endpoint, deduplicating by id
// so one snapshot never carries the same entity twice.
func (c *Client) listRelations(ctx context.Context, accountID, kind string, opts remote.ListOptions) ([]gram.User, error) {
	if c.session == nil {
		return nil, remote.ErrNotAuthenticated
	}
	var (
		users  []gram.User
		seen   = make(map[string]bool)
		cursor = ""
		total  = 0
	)
	for {
		q := url.Values{}
		q.Set("count", fmt.Sprint(pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		body, err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/"+kind, q)
		if err != nil {
			return nil, err
		}
		if t := int(gjson.GetBytes(body, "total").Int()); t > 0 {
			total = t
		}
		for _, raw := range gjson.GetBytes(body, "users").Array() {
			u := userFrom(raw)
			if u.ID == "" || seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			users = append(users, u)
			if opts.Max > 0 && len(users) >= opts.Max {
				break
			}
		}
		if opts.Progress != nil {
			opts.Progress(len(users), total)
		}
		cursor = gjson.GetBytes(body, "next_cursor").String()
		if cursor == "" || (opts.Max > 0 && len(users) >= opts.Max) {
			break
		}
	}
	return users, nil
}

// userFrom adapts one raw gateway record to a gram.User. Missing flags
// default to false, missing strings to empty.
func userFrom(r gjson.Result) gram.User {
	return gram.User{
		ID:         r.Get("pk").String(),
		Username:   r.Get("username").String(),
		FullName:   r.Get("full_name").String(),
		AvatarURL:  r.Get("profile_pic_url").String(),
		IsVerified: r.Get("is_verified").Bool(),
		IsPrivate:  r.Get("is_private").Bool(),
	}
}

func profileFrom(r gjson.Result) gram.Profile {
	return gram.Profile{
		ID:             r.Get("pk").String(),
		Username:       r.Get("username").String(),
		FullName:       r.Get("full_name").String(),
		AvatarURL:      r.Get("profile_pic_url").String(),
		FollowerCount:  int(r.Get("follower_count").Int()),
		FollowingCount: int(r.Get("following_count").Int()),
		MediaCount:     int(r.Get("media_count").Int()),
		IsPrivate:      r.Get("is_private").Bool(),
		IsVerified:     r.Get("is_verified").Bool(),
		Biography:      r.Get("biography").String(),
	}
}

// classifyChannel maps the gateway's challenge step name onto a channel.
// Undeterminable steps default to email, matching platform behavior.
func classifyChannel(step string) remote.ChallengeChannel {
	step = strings.ToLower(step)
	if strings.Contains(step, "phone") || strings.Contains(step, "sms") {
		return remote.ChannelSMS
	}
	return remote.ChannelEmail
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	if c.session != nil {
		payload["session"] = json.RawMessage(stripUsernameTag(c.session))
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.session != nil {
		req.Header.Set("X-Gateway-Session", string(stripUsernameTag(c.session)))
	}
	return c.do(req)
}

func (c *Client) do(req *retryablehttp.Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
	defer cancel()
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp.StatusCode, body)
	}
	return body, nil
}

// stripUsernameTag removes our private tag before the blob goes back to the
// gateway; the tag is a gramscope concern, not protocol state.
func stripUsernameTag(blob remote.SessionBlob) []byte {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(blob, &m); err != nil {
		return blob
	}
	delete(m, "_gramscope_username")
	out, err := json.Marshal(m)
	if err != nil {
		return blob
	}
	return out
}
