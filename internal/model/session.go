package model

// SessionKeyLifetime is the duration (§3, §6) a captured session passkey
// is considered valid for lookups: 290s, 10s shorter than the radio's own
// 300s validity window to leave room for clock skew and flight time.
const SessionKeyLifetime = 290 // seconds

// SessionKey is a cached per-node admin session passkey (§3).
type SessionKey struct {
	Node    uint32
	Key     []byte
	Expiry  int64 // unix seconds
}

// Valid reports whether the key is still usable at now.
func (k SessionKey) Valid(now int64) bool {
	return now < k.Expiry
}

// NewSessionKey builds a session key captured at receivedAt, expiring
// SessionKeyLifetime seconds later.
func NewSessionKey(node uint32, key []byte, receivedAt int64) SessionKey {
	return SessionKey{Node: node, Key: key, Expiry: receivedAt + SessionKeyLifetime}
}
