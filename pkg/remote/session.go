package remote

import (
	"encoding/json"
	"fmt"
)

// usernameKey tags session blobs with the originating username so a restore
// can rebuild the same device identity. The platform penalizes identity churn
// across one account's sessions.
const usernameKey = "_gramscope_username"

// SessionBlob is the opaque serialized session state handed back by a
// successful login. It is JSON underneath but callers must not depend on its
// shape beyond the username tag.
type SessionBlob []byte

// TagUsername returns a copy of the blob with the username tag set.
func (b SessionBlob) TagUsername(username string) (SessionBlob, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("tagging session blob: %w", err)
	}
	m[usernameKey] = username
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("tagging session blob: %w", err)
	}
	return out, nil
}

// Username recovers the tag written by TagUsername.
func (b SessionBlob) Username() (string, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return "", fmt.Errorf("reading session blob: %w", err)
	}
	u, _ := m[usernameKey].(string)
	if u == "" {
		return "", fmt.Errorf("session blob carries no username tag")
	}
	return u, nil
}
