package remote

import "testing"

func TestDeviceForUserIsStable(t *testing.T) {
	a := DeviceForUser("alice")
	b := DeviceForUser("alice")
	if a != b {
		t.Fatalf("device changed between calls: %+v vs %+v", a, b)
	}
	if a.DeviceID == "" || len(a.DeviceID) != 16 {
		t.Fatalf("device id = %q, want 16 hex chars", a.DeviceID)
	}
	if a.Model == "" {
		t.Fatal("device has no model")
	}
}

func TestDeviceForUserDistinctIDs(t *testing.T) {
	if DeviceForUser("alice").DeviceID == DeviceForUser("bob").DeviceID {
		t.Fatal("different usernames must get different device ids")
	}
}

func TestSessionBlobUsernameTag(t *testing.T) {
	blob := SessionBlob(`{"token":"x"}`)

	tagged, err := blob.TagUsername("alice")
	if err != nil {
		t.Fatalf("TagUsername: %v", err)
	}
	username, err := tagged.Username()
	if err != nil {
		t.Fatalf("Username: %v", err)
	}
	if username != "alice" {
		t.Fatalf("username = %q", username)
	}

	if _, err := blob.Username(); err == nil {
		t.Fatal("untagged blob should have no username")
	}
	if _, err := SessionBlob(`not json`).TagUsername("alice"); err == nil {
		t.Fatal("non-JSON blob should fail tagging")
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(&RateLimitedError{RetryAfterSeconds: 5}) {
		t.Fatal("direct RateLimitedError not detected")
	}
	if IsRateLimited(ErrInvalidCredentials) {
		t.Fatal("unrelated error detected as rate limit")
	}
}
