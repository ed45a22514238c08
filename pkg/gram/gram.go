package gram

import "time"

// User is a single follower/following relationship entity. Identity is the
// platform-assigned ID; usernames are mutable and must never be used as keys.
// A fetch always produces fresh values, they are not mutated in place.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"full_name,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	IsVerified bool   `json:"is_verified"`
	IsPrivate  bool   `json:"is_private"`
}

// Profile is the richer self/targeted profile returned by the remote account.
type Profile struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name,omitempty"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
	MediaCount     int    `json:"media_count"`
	IsPrivate      bool   `json:"is_private"`
	IsVerified     bool   `json:"is_verified"`
	Biography      string `json:"biography,omitempty"`
}

// Snapshot is one timestamped capture of an account's full relationship lists.
// Within a snapshot each ID appears at most once per list.
type Snapshot struct {
	AccountID  string    `json:"account_id"`
	CapturedAt time.Time `json:"captured_at"`
	Followers  []User    `json:"followers"`
	Following  []User    `json:"following"`
}

// Overview holds the cardinalities of a computed report.
type Overview struct {
	TotalFollowers   int        `json:"total_followers"`
	TotalFollowing   int        `json:"total_following"`
	NotFollowingBack int        `json:"not_following_back"`
	NotFollowedBack  int        `json:"not_followed_back"`
	Mutual           int        `json:"mutual"`
	NewFollowers     int        `json:"new_followers"`
	LostFollowers    int        `json:"lost_followers"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
}

// Report is the full analytics result for one account. Exactly one live
// report exists per account; each successful sync overwrites the previous one.
type Report struct {
	Overview         Overview `json:"overview"`
	Followers        []User   `json:"followers"`
	Following        []User   `json:"following"`
	NotFollowingBack []User   `json:"not_following_back"`
	NotFollowedBack  []User   `json:"not_followed_back"`
	Mutual           []User   `json:"mutual"`
	NewFollowers     []User   `json:"new_followers"`
	LostFollowers    []User   `json:"lost_followers"`
}

// SyncStatus is the per-account progress record exposed to pollers while a
// sync runs in the background.
type SyncStatus struct {
	AccountID   string     `json:"account_id"`
	IsSyncing   bool       `json:"is_syncing"`
	Progress    int        `json:"progress"`
	CurrentTask string     `json:"current_task"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
}

// Account is the stored application user: one remote account plus its
// encrypted session blob.
type Account struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	FullName    string     `json:"full_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	SessionBlob string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
}
