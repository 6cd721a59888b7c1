// Package idgen generates identifiers for bot runs and event log rows.
package idgen

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 produces time-sortable RFC 9562 UUIDs. Event rows use it so that
// the primary key order follows insertion order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Short produces base-36 ids of the given length.
func Short(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// RunID produces ids such as "run_20260102T150405Z_k3v9x0qa", readable in
// log files and sortable by start time.
func RunID(now func() time.Time) Generator {
	if now == nil {
		now = time.Now
	}
	suffix := Short(8)
	return func() string {
		return "run_" + now().UTC().Format("20060102T150405Z") + "_" + suffix()
	}
}

// Default is used for event ids.
var Default Generator = UUIDv7()

// New produces an id with Default.
func New() string { return Default() }
