package dedup

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
)

// DefaultWindow is how long a fingerprint suppresses repeats.
const DefaultWindow = 10 * time.Minute

// Fingerprint hashes the normalized form of text: lowercased, whitespace
// collapsed. Collisions are possible and accepted.
func Fingerprint(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], murmur3.Sum64([]byte(norm)))
	return hex.EncodeToString(buf[:])
}

// Window is the in-process dedup index. It is not safe for concurrent use;
// the registry guards it with its own lock.
type Window struct {
	window time.Duration
	seen   map[string]time.Time
}

func NewWindow(window time.Duration) *Window {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Window{window: window, seen: make(map[string]time.Time)}
}

// Accept records fp at now unless it was already seen inside the window.
// A rejected fingerprint leaves the index untouched.
func (w *Window) Accept(fp string, now time.Time) bool {
	if first, ok := w.seen[fp]; ok && first.After(now.Add(-w.window)) {
		return false
	}
	w.seen[fp] = now
	return true
}

// Prune drops entries older than the window and returns how many went.
func (w *Window) Prune(now time.Time) int {
	cutoff := now.Add(-w.window)
	n := 0
	for fp, first := range w.seen {
		if !first.After(cutoff) {
			delete(w.seen, fp)
			n++
		}
	}
	return n
}

func (w *Window) Len() int { return len(w.seen) }

// Reset forgets every fingerprint.
func (w *Window) Reset() { w.seen = make(map[string]time.Time) }
