package imagecache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/grmlab/gramscope/pkg/gram"
)

// Avatar downloads are throttled hard: the URLs point at the platform's CDN
// and hammering it gets the whole account flagged.
const downloadsPerSecond = 1

// Status is a point-in-time view of the cache for the status endpoint. The
// per-pass counters reset when a new download pass starts and keep their
// final values after it ends.
type Status struct {
	CachedImages int        `json:"cached_images"`
	QueueLength  int        `json:"queue_length"`
	IsCaching    bool       `json:"is_caching"`
	Total        int        `json:"total"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	CurrentUser  string     `json:"current_user,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
}

// Cache stores avatar images on disk, one file per user id. Downloads run
// in a single background goroutine at one request per second; callers never
// wait on it.
type Cache struct {
	dir     string
	http    *retryablehttp.Client
	limiter *rate.Limiter
	log     *logrus.Logger

	mu        sync.Mutex
	running   bool
	queued    int
	total     int
	completed int
	failed    int
	current   string
	startedAt *time.Time
	lastRun   *time.Time
}

func New(dir string, log *logrus.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image cache dir: %w", err)
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.Logger = nil
	return &Cache{
		dir:     dir,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(downloadsPerSecond), 1),
		log:     log,
	}, nil
}

// Path returns the on-disk location of a cached avatar and whether it exists.
func (c *Cache) Path(userID string) (string, bool) {
	p := filepath.Join(c.dir, userID+".jpg")
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// Status reports cache size and download progress.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		CachedImages: c.countFiles(),
		QueueLength:  c.queued,
		IsCaching:    c.running,
		Total:        c.total,
		Completed:    c.completed,
		Failed:       c.failed,
		CurrentUser:  c.current,
		StartedAt:    c.startedAt,
		LastRun:      c.lastRun,
	}
}

func (c *Cache) countFiles() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

type job struct {
	userID string
	url    string
}

// Prefetch queues avatar downloads for a freshly synced account and returns
// immediately. The own profile comes first, then followers, then following;
// duplicates and already-cached images are skipped. If a download pass is
// already running the call is dropped, the next sync will pick the images
// up again.
func (c *Cache) Prefetch(profile gram.Profile, followers, following []gram.User) {
	jobs := c.buildQueue(profile, followers, following)
	if len(jobs) == 0 {
		return
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.log.Debugf("image cache: pass already running, dropping %d jobs", len(jobs))
		return
	}
	now := time.Now()
	c.running = true
	c.queued = len(jobs)
	c.total = len(jobs)
	c.completed = 0
	c.failed = 0
	c.current = ""
	c.startedAt = &now
	c.mu.Unlock()

	go c.drain(jobs)
}

func (c *Cache) buildQueue(profile gram.Profile, followers, following []gram.User) []job {
	seen := make(map[string]bool)
	var jobs []job
	add := func(id, url string) {
		if id == "" || url == "" || seen[id] {
			return
		}
		seen[id] = true
		if _, ok := c.Path(id); ok {
			return
		}
		jobs = append(jobs, job{userID: id, url: url})
	}
	add(profile.ID, profile.AvatarURL)
	for _, u := range followers {
		add(u.ID, u.AvatarURL)
	}
	for _, u := range following {
		add(u.ID, u.AvatarURL)
	}
	return jobs
}

func (c *Cache) drain(jobs []job) {
	ctx := context.Background()
	for i, j := range jobs {
		c.mu.Lock()
		c.current = j.userID
		c.mu.Unlock()
		if err := c.limiter.Wait(ctx); err != nil {
			break
		}
		err := c.download(ctx, j)
		if err != nil {
			c.log.Debugf("image cache: %s: %v", j.userID, err)
		}
		c.mu.Lock()
		if err != nil {
			c.failed++
		} else {
			c.completed++
		}
		c.queued = len(jobs) - i - 1
		c.mu.Unlock()
	}
	now := time.Now()
	c.mu.Lock()
	ok, failed := c.completed, c.failed
	c.running = false
	c.queued = 0
	c.current = ""
	c.lastRun = &now
	c.mu.Unlock()
	c.log.Infof("image cache: %d downloaded, %d failed", ok, failed)
}

func (c *Cache) download(ctx context.Context, j job) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", j.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Write to a temp file first so a partial download never shows up as a
	// cached image.
	final := filepath.Join(c.dir, j.userID+".jpg")
	tmp, err := os.CreateTemp(c.dir, "dl-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), final)
}
