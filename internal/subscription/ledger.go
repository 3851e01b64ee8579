// ABOUTME: Ledger type mapping caller identities to subscription expiry times
// ABOUTME: Holds the pure expiry predicate and the JSON document codec

package subscription

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MaxExpiryUnix is the latest representable expiry, 9999-12-31T23:59:59Z.
const MaxExpiryUnix int64 = 253402300799

// Ledger maps an identity to its expiry in Unix seconds.
// It is always read and written as a whole document.
type Ledger map[string]int64

// Expiry returns the stored expiry for identity and whether an entry exists.
// A missing entry reports the Unix epoch, which no clock reading can be before.
func (l Ledger) Expiry(identity string) (time.Time, bool) {
	secs, ok := l[identity]
	if !ok {
		return time.Unix(0, 0).UTC(), false
	}
	return time.Unix(secs, 0).UTC(), true
}

// Clone returns an independent copy of the ledger.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// IsActive reports whether identity has an expiry strictly after now.
// Identities absent from the ledger are inactive.
func IsActive(identity string, ledger Ledger, now time.Time) bool {
	expiry, _ := ledger.Expiry(identity)
	return expiry.Unix() > now.Unix()
}

// decodeLedger parses a ledger document. Expiry values may be integers or
// fractional seconds; fractions are truncated and values past MaxExpiryUnix
// are clamped to it.
func decodeLedger(data []byte) (Ledger, error) {
	if len(data) == 0 {
		return Ledger{}, nil
	}

	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding ledger: %w", err)
	}

	ledger := make(Ledger, len(raw))
	for identity, secs := range raw {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < math.MinInt64 {
			return nil, fmt.Errorf("decoding ledger: expiry out of range for %q", identity)
		}
		if secs > float64(MaxExpiryUnix) {
			ledger[identity] = MaxExpiryUnix
			continue
		}
		ledger[identity] = int64(secs)
	}
	return ledger, nil
}

// encodeLedger renders the ledger as a JSON object. A nil ledger encodes as {}.
func encodeLedger(l Ledger) ([]byte, error) {
	if l == nil {
		l = Ledger{}
	}
	data, err := json.Marshal(map[string]int64(l))
	if err != nil {
		return nil, fmt.Errorf("encoding ledger: %w", err)
	}
	return data, nil
}
