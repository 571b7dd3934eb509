// Package namespace derives the isolation boundary that scopes one vector
// store and one raw-file directory to a (username, thread) pair, and caches
// one live knowledge store handle per namespace.
package namespace

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrInvalidIdentifier is returned when a username sanitizes to nothing.
var ErrInvalidIdentifier = fmt.Errorf("invalid identifier: empty after sanitization")

// Key identifies one namespace. A nil ThreadID selects the user's default
// (per-user, not per-thread) namespace.
type Key struct {
	Username string
	ThreadID *int64
}

// WithThread returns a Key for a specific thread.
func WithThread(username string, threadID int64) Key {
	return Key{Username: username, ThreadID: &threadID}
}

// ForUser returns the user's default namespace Key.
func ForUser(username string) Key {
	return Key{Username: username}
}

// String returns the canonical cache-key form of the Key.
func (k Key) String() string {
	if k.ThreadID == nil {
		return k.Username
	}
	return k.Username + "|thread_" + strconv.FormatInt(*k.ThreadID, 10)
}

// Namespace is the fully derived identity of one knowledge store: the
// persisted directory and the collection name. Both derivations are
// deterministic and stable across restarts since they double as lookup keys.
type Namespace struct {
	Key        Key
	SafeUser   string
	Dir        string
	Collection string
}

// Derive builds the Namespace for key under base. Two distinct keys never
// derive the same Dir: the sanitized username picks the parent directory and
// the thread id (or the fixed per-user leaf) picks the child.
func Derive(base string, key Key) (Namespace, error) {
	safe := Sanitize(key.Username)
	if safe == "" {
		return Namespace{}, fmt.Errorf("derive namespace for %q: %w", key.Username, ErrInvalidIdentifier)
	}
	ns := Namespace{Key: key, SafeUser: safe}
	if key.ThreadID != nil {
		tid := strconv.FormatInt(*key.ThreadID, 10)
		ns.Dir = filepath.Join(base, safe, "chroma_thread_"+tid)
		ns.Collection = "teacher_agent_" + safe + "_thread_" + tid
	} else {
		ns.Dir = filepath.Join(base, safe, "chroma_user")
		ns.Collection = "teacher_agent_" + safe
	}
	return ns, nil
}

// Sanitize reduces name to a filesystem- and collection-safe identifier:
// alphanumerics, underscore and hyphen pass through, everything else becomes
// an underscore. An input with no safe characters at all yields "".
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	kept := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
			kept = true
		default:
			b.WriteByte('_')
		}
	}
	if !kept {
		return ""
	}
	return b.String()
}

// legacySep joins username and thread id in the historical combined
// identifier form "username__thread_<id>".
const legacySep = "__thread_"

// ParseLegacyIdentifier decomposes the historical combined identifier
// "username__thread_<id>" into a Key. Identifiers without the marker, or with
// a non-numeric suffix, are treated as plain usernames. Kept isolated from
// Derive so it can be dropped independently once old clients are gone.
func ParseLegacyIdentifier(combined string) Key {
	i := strings.Index(combined, legacySep)
	if i < 0 {
		return ForUser(combined)
	}
	tid, err := strconv.ParseInt(combined[i+len(legacySep):], 10, 64)
	if err != nil {
		return ForUser(combined)
	}
	return WithThread(combined[:i], tid)
}
