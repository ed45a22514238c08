package analytics

import (
	"testing"
	"time"

	"github.com/grmlab/gramscope/pkg/gram"
)

func u(id, username string) gram.User {
	return gram.User{ID: id, Username: username}
}

func ids(users []gram.User) []string {
	out := make([]string, len(users))
	for i, x := range users {
		out[i] = x.ID
	}
	return out
}

func sameIDs(got []gram.User, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestComputeDisjointSets(t *testing.T) {
	followers := []gram.User{u("a", "alice"), u("b", "bob"), u("c", "carol")}
	following := []gram.User{u("b", "bob"), u("c", "carol"), u("d", "dave")}

	r := Compute(followers, following, nil, time.Now())

	if !sameIDs(r.Mutual, "b", "c") {
		t.Fatalf("mutual = %v, want [b c]", ids(r.Mutual))
	}
	if !sameIDs(r.NotFollowingBack, "d") {
		t.Fatalf("not following back = %v, want [d]", ids(r.NotFollowingBack))
	}
	if !sameIDs(r.NotFollowedBack, "a") {
		t.Fatalf("not followed back = %v, want [a]", ids(r.NotFollowedBack))
	}
}

func TestComputeNewAndLost(t *testing.T) {
	followers := []gram.User{u("a", "alice"), u("c", "carol")}
	previous := []gram.User{u("a", "alice"), u("b", "bob")}

	r := Compute(followers, nil, previous, time.Now())

	if !sameIDs(r.NewFollowers, "c") {
		t.Fatalf("new followers = %v, want [c]", ids(r.NewFollowers))
	}
	if !sameIDs(r.LostFollowers, "b") {
		t.Fatalf("lost followers = %v, want [b]", ids(r.LostFollowers))
	}
}

func TestComputeUnchangedFollowersHasNoDiff(t *testing.T) {
	followers := []gram.User{u("a", "alice"), u("b", "bob")}

	r := Compute(followers, nil, followers, time.Now())

	if len(r.NewFollowers) != 0 || len(r.LostFollowers) != 0 {
		t.Fatalf("unchanged follower set should diff empty, got new=%v lost=%v",
			ids(r.NewFollowers), ids(r.LostFollowers))
	}
}

func TestComputeFirstSyncHasNoDiff(t *testing.T) {
	followers := []gram.User{u("a", "alice")}

	r := Compute(followers, nil, nil, time.Now())

	if len(r.NewFollowers) != 0 || len(r.LostFollowers) != 0 {
		t.Fatalf("first sync should have empty diff lists, got new=%v lost=%v",
			ids(r.NewFollowers), ids(r.LostFollowers))
	}
}

func TestComputeOverviewCounts(t *testing.T) {
	followers := []gram.User{u("a", "alice"), u("b", "bob"), u("c", "carol")}
	following := []gram.User{u("b", "bob"), u("c", "carol"), u("d", "dave"), u("e", "erin")}

	r := Compute(followers, following, []gram.User{u("a", "alice")}, time.Now())
	o := r.Overview

	if o.TotalFollowers != 3 || o.TotalFollowing != 4 {
		t.Fatalf("totals = %d/%d, want 3/4", o.TotalFollowers, o.TotalFollowing)
	}
	if o.Mutual != 2 || o.NotFollowingBack != 2 || o.NotFollowedBack != 1 {
		t.Fatalf("overview = %+v", o)
	}
	if o.NewFollowers != 2 || o.LostFollowers != 0 {
		t.Fatalf("diff counts = %d/%d, want 2/0", o.NewFollowers, o.LostFollowers)
	}
}

func TestComputeSortsByUsername(t *testing.T) {
	followers := []gram.User{u("1", "Zed"), u("2", "amy"), u("3", "Bob")}

	r := Compute(followers, nil, nil, time.Now())

	if !sameIDs(r.Followers, "2", "3", "1") {
		t.Fatalf("followers order = %v, want case-insensitive username order", ids(r.Followers))
	}
}

func TestComputeDoesNotMutateInput(t *testing.T) {
	followers := []gram.User{u("1", "zed"), u("2", "amy")}

	Compute(followers, nil, nil, time.Now())

	if followers[0].ID != "1" || followers[1].ID != "2" {
		t.Fatalf("input slice reordered: %v", ids(followers))
	}
}
