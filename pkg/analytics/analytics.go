// Package analytics computes relationship reports from follower/following
// snapshots via id-set algebra. Compute is pure: no I/O, no shared state.
package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/grmlab/gramscope/pkg/gram"
)

// Compute builds the full report for one capture. previousFollowers may be
// nil on the first sync, yielding empty new/lost lists. Entities are always
// compared by ID; usernames are display data only.
func Compute(followers, following, previousFollowers []gram.User, now time.Time) gram.Report {
	followerIDs := idSet(followers)
	followingIDs := idSet(following)

	var notFollowingBack []gram.User
	for _, u := range following {
		if !followerIDs[u.ID] {
			notFollowingBack = append(notFollowingBack, u)
		}
	}

	var notFollowedBack, mutual []gram.User
	for _, u := range followers {
		if followingIDs[u.ID] {
			// Mutuals are sourced from the follower list so each id has a
			// single canonical representation in the report.
			mutual = append(mutual, u)
		} else {
			notFollowedBack = append(notFollowedBack, u)
		}
	}

	var newFollowers, lostFollowers []gram.User
	if previousFollowers != nil {
		prevIDs := idSet(previousFollowers)
		for _, u := range followers {
			if !prevIDs[u.ID] {
				newFollowers = append(newFollowers, u)
			}
		}
		// Lost followers are no longer reachable live; their display data
		// comes from the previous snapshot.
		for _, u := range previousFollowers {
			if !followerIDs[u.ID] {
				lostFollowers = append(lostFollowers, u)
			}
		}
	}

	capturedAt := now.UTC()
	return gram.Report{
		Overview: gram.Overview{
			TotalFollowers:   len(followers),
			TotalFollowing:   len(following),
			NotFollowingBack: len(notFollowingBack),
			NotFollowedBack:  len(notFollowedBack),
			Mutual:           len(mutual),
			NewFollowers:     len(newFollowers),
			LostFollowers:    len(lostFollowers),
			LastSync:         &capturedAt,
		},
		Followers:        sortedByUsername(followers),
		Following:        sortedByUsername(following),
		NotFollowingBack: sortedByUsername(notFollowingBack),
		NotFollowedBack:  sortedByUsername(notFollowedBack),
		Mutual:           sortedByUsername(mutual),
		NewFollowers:     newFollowers,
		LostFollowers:    lostFollowers,
	}
}

func idSet(users []gram.User) map[string]bool {
	s := make(map[string]bool, len(users))
	for _, u := range users {
		s[u.ID] = true
	}
	return s
}

// sortedByUsername orders entities case-insensitively by username for stable,
// diffable presentation, breaking ties on id. The input slice is not mutated.
func sortedByUsername(users []gram.User) []gram.User {
	out := make([]gram.User, len(users))
	copy(out, users)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Username), strings.ToLower(out[j].Username)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}
