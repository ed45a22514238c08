package syncer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grmlab/gramscope/pkg/analytics"
	"github.com/grmlab/gramscope/pkg/authflow"
	"github.com/grmlab/gramscope/pkg/gram"
	"github.com/grmlab/gramscope/pkg/remote"
	"github.com/grmlab/gramscope/pkg/storage"
)

// ErrSyncInProgress is returned by Start when the account already has a
// run in flight.
var ErrSyncInProgress = errors.New("sync already in progress")

// CooldownError is returned by Start while the account is still inside the
// cooldown window after its last completed sync.
type CooldownError struct {
	SecondsRemaining int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("sync on cooldown, retry in %d seconds", e.SecondsRemaining)
}

// Prefetcher receives the freshly synced user lists for background work,
// typically avatar caching. Implementations must not block the caller.
type Prefetcher interface {
	Prefetch(profile gram.Profile, followers, following []gram.User)
}

// Config tunes a Syncer. Unset fields fall back to the defaults below.
type Config struct {
	// Cooldown is the minimum gap between two completed syncs per account.
	// Zero disables the guard; a negative value selects the default.
	Cooldown time.Duration
	// MaxPerFetch caps how many users a single list fetch may walk.
	MaxPerFetch int
	// MinDelay and MaxDelay bound the randomized pause between the two
	// list fetches, to keep request pacing irregular.
	MinDelay time.Duration
	MaxDelay time.Duration
	// RunTimeout aborts a run that hangs on the remote side.
	RunTimeout time.Duration
	// Jitter picks a pause duration in [min, max]. Overridable in tests.
	Jitter func(min, max time.Duration) time.Duration
}

const (
	defaultCooldown    = time.Hour
	defaultMaxPerFetch = 10000
	defaultMinDelay    = 2 * time.Second
	defaultMaxDelay    = 5 * time.Second
	defaultRunTimeout  = 30 * time.Minute
)

func (c *Config) fill() {
	if c.Cooldown < 0 {
		c.Cooldown = defaultCooldown
	}
	if c.MaxPerFetch <= 0 {
		c.MaxPerFetch = defaultMaxPerFetch
	}
	if c.MinDelay <= 0 {
		c.MinDelay = defaultMinDelay
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaultRunTimeout
	}
	if c.Jitter == nil {
		c.Jitter = func(min, max time.Duration) time.Duration {
			if max <= min {
				return min
			}
			return min + time.Duration(rand.Int63n(int64(max-min)))
		}
	}
}

// Syncer orchestrates snapshot refreshes: it restores the account session,
// pulls both relation lists, diffs against the previous snapshot and
// persists the result. One run per account at a time.
type Syncer struct {
	db       *storage.DB
	flow     *authflow.Flow
	registry *Registry
	images   Prefetcher
	cfg      Config
	log      *logrus.Logger
	now      func() time.Time
}

func New(db *storage.DB, flow *authflow.Flow, registry *Registry, images Prefetcher, cfg Config, log *logrus.Logger) *Syncer {
	cfg.fill()
	return &Syncer{
		db:       db,
		flow:     flow,
		registry: registry,
		images:   images,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Registry exposes the status registry for read-side consumers.
func (s *Syncer) Registry() *Registry { return s.registry }

// CanSync reports whether the cooldown allows a new run, and if not, how
// many seconds remain. A currently running sync also counts as unavailable.
func (s *Syncer) CanSync(ctx context.Context, accountID string) (bool, int, error) {
	if s.registry.syncing(accountID) {
		return false, 0, nil
	}
	acct, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return false, 0, err
	}
	if secs := s.cooldownLeft(acct.LastSyncAt); secs > 0 {
		return false, secs, nil
	}
	return true, 0, nil
}

func (s *Syncer) cooldownLeft(lastSync *time.Time) int {
	if s.cfg.Cooldown == 0 || lastSync == nil {
		return 0
	}
	remaining := lastSync.Add(s.cfg.Cooldown).Sub(s.now())
	if remaining <= 0 {
		return 0
	}
	secs := int(remaining / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Start kicks off a background run for the account and returns the initial
// status. It fails fast with ErrSyncInProgress or a CooldownError without
// touching the remote side.
func (s *Syncer) Start(ctx context.Context, accountID string) (gram.SyncStatus, error) {
	acct, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return gram.SyncStatus{}, err
	}
	if secs := s.cooldownLeft(acct.LastSyncAt); secs > 0 {
		return gram.SyncStatus{}, &CooldownError{SecondsRemaining: secs}
	}
	if !s.registry.begin(accountID) {
		return gram.SyncStatus{}, ErrSyncInProgress
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
		defer cancel()
		s.run(runCtx, *acct)
	}()

	st, _ := s.registry.Get(accountID)
	return st, nil
}

// run executes one sync end to end. All exits go through the registry's
// finish so the status never stays stuck in syncing.
func (s *Syncer) run(ctx context.Context, acct gram.Account) {
	id := acct.ID
	done := false
	fail := func(msg string, err error) {
		done = true
		s.log.Warnf("sync %s failed: %v", acct.Username, err)
		s.registry.finish(id, 0, msg, nil)
	}
	defer func() {
		if done {
			return
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.registry.finish(id, 0, "Sync timed out", nil)
			return
		}
		s.registry.finish(id, 0, "Sync failed", nil)
	}()

	s.registry.update(id, 5, "Restoring session...")
	client, err := s.flow.RestoreClient(acct.SessionBlob)
	if err != nil {
		fail("Session expired. Please login again.", err)
		return
	}

	s.registry.update(id, 8, "Validating session...")
	if !client.Validate(ctx) {
		fail("Session invalid. Please login again.", errors.New("session validation failed"))
		return
	}

	s.registry.update(id, 10, "Loading previous snapshot...")
	prevFollowers, err := s.db.PreviousFollowers(ctx, id)
	if err != nil {
		fail("Sync failed", err)
		return
	}

	s.registry.update(id, 20, "Fetching followers...")
	followers, err := s.fetchList(ctx, id, client.ListFollowers, 20, 25)
	if err != nil {
		if remote.IsRateLimited(err) {
			fail("Rate limited by remote. Try again later.", err)
			return
		}
		// A non-rate-limit fetch error degrades to an empty list so the
		// rest of the run can still complete.
		s.log.Warnf("sync %s: follower fetch degraded: %v", acct.Username, err)
		followers = []gram.User{}
	}

	s.pause(ctx)

	s.registry.update(id, 50, "Fetching following...")
	following, err := s.fetchList(ctx, id, client.ListFollowing, 50, 25)
	if err != nil {
		if remote.IsRateLimited(err) {
			fail("Rate limited by remote. Try again later.", err)
			return
		}
		s.log.Warnf("sync %s: following fetch degraded: %v", acct.Username, err)
		following = []gram.User{}
	}

	s.registry.update(id, 85, "Computing analytics...")
	now := s.now()
	report := analytics.Compute(followers, following, prevFollowers, now)

	s.registry.update(id, 90, "Saving snapshot...")
	snap := gram.Snapshot{
		AccountID:  id,
		CapturedAt: now,
		Followers:  followers,
		Following:  following,
	}
	if err := s.db.SaveSnapshot(ctx, snap); err != nil {
		fail("Sync failed", err)
		return
	}
	if err := s.db.UpsertAnalytics(ctx, id, report); err != nil {
		fail("Sync failed", err)
		return
	}
	if err := s.db.TouchLastSync(ctx, id, now); err != nil {
		fail("Sync failed", err)
		return
	}

	done = true
	s.registry.finish(id, 100, "Sync complete", &now)
	s.log.Infof("sync %s: %d followers, %d following, +%d/-%d",
		acct.Username, len(followers), len(following),
		len(report.NewFollowers), len(report.LostFollowers))

	if s.images != nil {
		profile, err := client.GetProfile(ctx, id)
		if err != nil {
			profile = gram.Profile{ID: acct.ID, Username: acct.Username, AvatarURL: acct.AvatarURL}
		}
		s.images.Prefetch(profile, followers, following)
	}
}

type listFunc func(ctx context.Context, accountID string, opts remote.ListOptions) ([]gram.User, error)

// fetchList pulls one relation list, reporting proportional progress inside
// [base, base+span]. When the remote total is unknown or zero the progress
// holds at base.
func (s *Syncer) fetchList(ctx context.Context, accountID string, fn listFunc, base, span int) ([]gram.User, error) {
	return fn(ctx, accountID, remote.ListOptions{
		Max: s.cfg.MaxPerFetch,
		Progress: func(current, total int) {
			p := base
			if total > 0 {
				p = base + current*span/total
				if p > base+span {
					p = base + span
				}
			}
			s.registry.update(accountID, p, fmt.Sprintf("Fetched %d users...", current))
		},
	})
}

// pause sleeps a jittered interval between the two list fetches, bailing
// out early if the run deadline fires.
func (s *Syncer) pause(ctx context.Context) {
	d := s.cfg.Jitter(s.cfg.MinDelay, s.cfg.MaxDelay)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RunScheduler periodically starts a sync for every stored account. Meant
// to be launched in its own goroutine by the server; it returns when ctx
// is cancelled.
func (s *Syncer) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			accounts, err := s.db.ListAccounts(ctx)
			if err != nil {
				s.log.Warnf("scheduler: listing accounts: %v", err)
				continue
			}
			for _, acct := range accounts {
				if _, err := s.Start(ctx, acct.ID); err != nil {
					var cd *CooldownError
					if errors.Is(err, ErrSyncInProgress) || errors.As(err, &cd) {
						continue
					}
					s.log.Warnf("scheduler: sync %s: %v", acct.Username, err)
				}
			}
		}
	}
}
