// Package dedupe remembers the outcome of idempotent requests for a
// configurable window, so a retry with the same key replays the first
// response instead of repeating its side effect.
//
//	v, state := cache.Reserve(key)
//	switch state {
//	case dedupe.Done:    // replay v
//	case dedupe.Pending: // another request with this key is running
//	case dedupe.Fresh:   // do the work, then Complete or Release
//	}
package dedupe
