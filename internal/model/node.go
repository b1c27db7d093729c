// Package model holds the gateway's core domain types and the invariants
// spec.md §3 attaches to them. Nothing here does I/O; persistence goes
// through the Store Port (internal/store).
package model

import "fmt"

// PlaceholderLongNamePrefix/PlaceholderShortName are assigned to a node created
// implicitly on first observation, before any real identity is known.
// They are never overwritten once a real name has been recorded (§3).
const (
	PlaceholderLongNamePrefix = "Meshtastic "
	PlaceholderShortName      = "????"
)

// Node is the stable, mutable record the Protocol Engine maintains per
// mesh participant, keyed by its 32-bit node-number.
type Node struct {
	Num uint32

	LongName      string
	ShortName     string
	HwModel       uint32
	Role          uint32
	PublicKey     []byte

	Latitude          float64
	Longitude         float64
	Altitude          int32
	PositionPrecision uint32
	PositionChannel   uint32
	PositionTime      int64 // unix seconds the position was recorded at

	LastHeard int64 // unix seconds, monotonically non-decreasing

	LastSNR  float32
	LastRSSI int32
	HopsAway uint32

	Favorite bool
	Ignored  bool

	Mobile               bool
	HasRemoteAdmin       bool
	KeyMismatchDetected  bool
	KeyIsLowEntropy      bool

	WelcomedAt int64 // unix seconds; zero means never welcomed
}

// IDString renders the canonical "!xxxxxxxx" identity string for a
// node-number.
func IDString(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// IDString returns this node's canonical identity string.
func (n *Node) IDString() string {
	return IDString(n.Num)
}

// IsPlaceholderLongName reports whether name looks like the auto-assigned
// placeholder rather than a real radio-reported long name.
func IsPlaceholderLongName(name string) bool {
	return name == "" || len(name) >= len(PlaceholderLongNamePrefix) && name[:len(PlaceholderLongNamePrefix)] == PlaceholderLongNamePrefix
}

// IsPlaceholderShortName reports whether name is the placeholder short name.
func IsPlaceholderShortName(name string) bool {
	return name == "" || name == PlaceholderShortName
}

// NewPlaceholderNode creates a node with placeholder names observed for the
// first time at lastHeard.
func NewPlaceholderNode(num uint32, lastHeard int64) *Node {
	return &Node{
		Num:       num,
		LongName:  PlaceholderLongNamePrefix + IDString(num),
		ShortName: PlaceholderShortName,
		LastHeard: lastHeard,
	}
}

// CapLastHeard clamps a candidate last-heard timestamp to at most now, and
// never moves the node's last-heard backward (§3 invariant).
func (n *Node) CapLastHeard(candidate, now int64) {
	if candidate > now {
		candidate = now
	}
	if candidate > n.LastHeard {
		n.LastHeard = candidate
	}
}

// ApplyName sets LongName/ShortName, refusing to overwrite a real name with
// a placeholder (§3 invariant: "placeholder names are never overwritten
// once a real name has been recorded").
func (n *Node) ApplyName(longName, shortName string) {
	if longName != "" && (IsPlaceholderLongName(n.LongName) || !IsPlaceholderLongName(longName)) {
		n.LongName = longName
	}
	if shortName != "" && (IsPlaceholderShortName(n.ShortName) || !IsPlaceholderShortName(shortName)) {
		n.ShortName = shortName
	}
}

// ApplyPublicKey records a public key, never forgetting a previously
// observed one, and reports whether the incoming key differs from what
// was stored (used to resolve a key-mismatch flag, §4.5).
func (n *Node) ApplyPublicKey(key []byte) (changed bool) {
	if len(key) == 0 {
		return false
	}
	if len(n.PublicKey) == 0 {
		n.PublicKey = key
		return false
	}
	if string(n.PublicKey) != string(key) {
		n.PublicKey = key
		return true
	}
	return false
}

// PrecisionUpgradeAllowed implements §4.5/§8's position precision-upgrade
// policy: the new position may replace the stored one iff the new
// precision is strictly higher, or the stored position is older than the
// given max age.
func PrecisionUpgradeAllowed(storedPrecision uint32, storedAt, now int64, newPrecision uint32, maxAgeSeconds int64) bool {
	if newPrecision > storedPrecision {
		return true
	}
	return now-storedAt > maxAgeSeconds
}
