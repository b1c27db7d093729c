// Package session implements the Session/Admin Controller (§4.6): session
// passkey acquisition and expiry, per-node typed admin response caches,
// and the firmware-version gate on favorite/ignored/remove commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
	"github.com/dpaschal/meshcore-gateway/internal/model"
)

// MinFavoriteIgnoredRemoveFirmware is the §4.6 firmware-version gate for
// favorite/ignored/remove admin commands.
var MinFavoriteIgnoredRemoveFirmware = FirmwareVersion{Major: 2, Minor: 7, Patch: 0}

// ErrTimeout is returned when a poll exceeds its deadline.
var ErrTimeout = errors.New("session: timed out waiting for response")

// FirmwareNotSupportedError is the typed error for a command gated by
// firmware version (§4.6, §7).
type FirmwareNotSupportedError struct {
	Command  string
	Have     FirmwareVersion
	Required FirmwareVersion
}

func (e *FirmwareNotSupportedError) Error() string {
	return fmt.Sprintf("session: %s requires firmware >= %s, have %s", e.Command, e.Required, e.Have)
}

// FirmwareVersion is a parsed semantic firmware version.
type FirmwareVersion struct {
	Major, Minor, Patch int
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v is greater than or equal to min.
func (v FirmwareVersion) AtLeast(min FirmwareVersion) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	if v.Minor != min.Minor {
		return v.Minor > min.Minor
	}
	return v.Patch >= min.Patch
}

// ParseFirmwareVersion parses a "X.Y.Z..." firmware string, ignoring any
// trailing build metadata after the third component.
func ParseFirmwareVersion(s string) (FirmwareVersion, error) {
	parts := strings.SplitN(s, ".", 4)
	if len(parts) < 3 {
		return FirmwareVersion{}, fmt.Errorf("session: malformed firmware version %q", s)
	}
	var v FirmwareVersion
	var err error
	if v.Major, err = strconv.Atoi(parts[0]); err != nil {
		return FirmwareVersion{}, fmt.Errorf("session: malformed firmware version %q: %w", s, err)
	}
	if v.Minor, err = strconv.Atoi(parts[1]); err != nil {
		return FirmwareVersion{}, fmt.Errorf("session: malformed firmware version %q: %w", s, err)
	}
	patch := parts[2]
	if i := strings.IndexAny(patch, "-+ "); i >= 0 {
		patch = patch[:i]
	}
	if v.Patch, err = strconv.Atoi(patch); err != nil {
		return FirmwareVersion{}, fmt.Errorf("session: malformed firmware version %q: %w", s, err)
	}
	return v, nil
}

// FrameSender transmits an encoded ToRadio admin packet body.
type FrameSender interface {
	SendFrame(ctx context.Context, body []byte) error
}

type cacheKind uint8

const (
	cacheDeviceConfig cacheKind = iota
	cacheModuleConfig
	cacheOwner
	cacheDeviceMetadata
	cacheChannel0
)

type cacheKey struct {
	node uint32
	kind cacheKind
	sub  uint32 // channel index, when kind == cacheChannel0+index
}

// Controller is the Session/Admin Controller.
type Controller struct {
	Clock     clockwork.Clock
	LocalNode uint32
	Sender    FrameSender

	PollInterval      time.Duration // default 500ms, §4.6 step 2
	SessionKeyTimeout time.Duration // default 45s, §4.6 step 2
	ResponseTimeout   time.Duration // default 15s, §4.6 "10-20s"

	ids *meshwire.PacketIDGenerator

	keys   *xsync.Map[uint32, model.SessionKey]
	caches *xsync.Map[cacheKey, any]
}

// New builds a Controller with the spec's default poll/timeout values.
func New(clock clockwork.Clock, localNode uint32, sender FrameSender) *Controller {
	return &Controller{
		Clock:             clock,
		LocalNode:         localNode,
		Sender:            sender,
		PollInterval:      500 * time.Millisecond,
		SessionKeyTimeout: 45 * time.Second,
		ResponseTimeout:   15 * time.Second,
		ids:               meshwire.NewPacketIDGenerator(),
		keys:              xsync.NewMap[uint32, model.SessionKey](),
		caches:            xsync.NewMap[cacheKey, any](),
	}
}

func (c *Controller) now() int64 { return c.Clock.Now().Unix() }

// HandleAdminMessage implements engine.SessionAdmin (§4.6): captures a
// carried session passkey and routes the response into its typed cache.
func (c *Controller) HandleAdminMessage(_ context.Context, fromNode uint32, msg *meshwire.AdminMessage) error {
	if len(msg.SessionPasskey) > 0 {
		c.keys.Store(fromNode, model.NewSessionKey(fromNode, msg.SessionPasskey, c.now()))
	}
	switch msg.Which {
	case meshwire.AdminGetDeviceMetadataResponse:
		c.caches.Store(cacheKey{fromNode, cacheDeviceMetadata, 0}, msg.GetDeviceMetadataResponse)
	case meshwire.AdminGetOwnerResponse:
		c.caches.Store(cacheKey{fromNode, cacheOwner, 0}, msg.GetOwnerResponse)
	case meshwire.AdminGetChannelResponse:
		c.caches.Store(cacheKey{fromNode, cacheChannel0, msg.GetChannelRequestIndex}, msg.GetChannelResponse)
	case meshwire.AdminGetConfigResponse:
		c.caches.Store(cacheKey{fromNode, cacheDeviceConfig, 0}, msg.GetConfigResponse)
	case meshwire.AdminGetModuleConfigResponse:
		c.caches.Store(cacheKey{fromNode, cacheModuleConfig, 0}, msg.GetModuleConfigResponse)
	}
	return nil
}

// pollUntil polls check every interval until it succeeds or timeout
// elapses (compared against c.Clock, not wall-clock, so tests can use a
// zero timeout to assert the immediate-failure path deterministically).
func pollUntil[T any](ctx context.Context, clock clockwork.Clock, interval, timeout time.Duration, check func() (T, bool)) (T, error) {
	deadline := clock.Now().Add(timeout)
	for {
		if v, ok := check(); ok {
			return v, nil
		}
		if !clock.Now().Before(deadline) {
			var zero T
			return zero, ErrTimeout
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-clock.After(interval):
		}
	}
}

// EnsureSessionKey returns a non-expired session key for node, acquiring
// one if necessary (§4.6 steps 1-2). Local-node admin requires no key.
func (c *Controller) EnsureSessionKey(ctx context.Context, node uint32) ([]byte, error) {
	if node == c.LocalNode {
		return nil, nil
	}
	if k, ok := c.keys.Load(node); ok && k.Valid(c.now()) {
		return k.Key, nil
	}
	id := c.ids.Next()
	admin := &meshwire.AdminMessage{Which: meshwire.AdminGetDeviceMetadataRequest}
	frame, _ := encodeAdmin(id, c.LocalNode, node, admin, nil)
	if err := c.Sender.SendFrame(ctx, frame); err != nil {
		return nil, fmt.Errorf("session: request device metadata: %w", err)
	}
	k, err := pollUntil(ctx, c.Clock, c.PollInterval, c.SessionKeyTimeout, func() (model.SessionKey, bool) {
		k, ok := c.keys.Load(node)
		return k, ok && k.Valid(c.now())
	})
	if err != nil {
		return nil, err
	}
	return k.Key, nil
}

func encodeAdmin(id, from, to uint32, admin *meshwire.AdminMessage, key []byte) ([]byte, uint32) {
	pkt := &meshwire.MeshPacket{ID: id, From: from, To: to, HopLimit: 3, WantAck: true}
	if len(key) > 0 {
		admin.SessionPasskey = key
	}
	pkt.Decoded = &meshwire.Data{Portnum: meshwire.PortAdmin, Payload: admin.Marshal()}
	return meshwire.EncodeToRadioPacket(pkt), id
}

// RequestDeviceMetadata issues a getDeviceMetadataRequest to node and
// polls its typed cache for the response, clearing the slot first so a
// stale prior reply can never satisfy this call (§4.6).
func (c *Controller) RequestDeviceMetadata(ctx context.Context, node uint32) (*meshwire.DeviceMetadata, error) {
	// A getDeviceMetadataRequest is itself what elicits a session key, so it
	// carries a key only when a valid one is already held.
	var key []byte
	if k, ok := c.keys.Load(node); ok && k.Valid(c.now()) {
		key = k.Key
	}
	ck := cacheKey{node, cacheDeviceMetadata, 0}
	c.caches.Delete(ck)
	id := c.ids.Next()
	frame, _ := encodeAdmin(id, c.LocalNode, node, &meshwire.AdminMessage{Which: meshwire.AdminGetDeviceMetadataRequest}, key)
	if err := c.Sender.SendFrame(ctx, frame); err != nil {
		return nil, fmt.Errorf("session: request device metadata: %w", err)
	}
	return pollUntil(ctx, c.Clock, c.PollInterval, c.ResponseTimeout, func() (*meshwire.DeviceMetadata, bool) {
		v, ok := c.caches.Load(ck)
		if !ok {
			return nil, false
		}
		meta, ok := v.(*meshwire.DeviceMetadata)
		return meta, ok && meta != nil
	})
}

// RequireFirmware checks a node's cached device metadata against min,
// requesting it first when none is cached, and returns a
// FirmwareNotSupportedError if the version is below min (§4.6).
func (c *Controller) RequireFirmware(ctx context.Context, node uint32, command string, min FirmwareVersion) error {
	var meta *meshwire.DeviceMetadata
	if v, ok := c.caches.Load(cacheKey{node, cacheDeviceMetadata, 0}); ok {
		meta, _ = v.(*meshwire.DeviceMetadata)
	}
	if meta == nil {
		var err error
		if meta, err = c.RequestDeviceMetadata(ctx, node); err != nil {
			return err
		}
	}
	have, err := ParseFirmwareVersion(meta.FirmwareVersion)
	if err != nil {
		return err
	}
	if !have.AtLeast(min) {
		return &FirmwareNotSupportedError{Command: command, Have: have, Required: min}
	}
	return nil
}

// SendGatedAdmin sends an admin request that requires the §4.6 favorite/
// ignored/remove firmware gate, failing early with a typed error instead
// of transmitting to unsupported firmware.
func (c *Controller) SendGatedAdmin(ctx context.Context, node uint32, command string, admin *meshwire.AdminMessage) error {
	if err := c.RequireFirmware(ctx, node, command, MinFavoriteIgnoredRemoveFirmware); err != nil {
		return err
	}
	key, err := c.EnsureSessionKey(ctx, node)
	if err != nil {
		return err
	}
	id := c.ids.Next()
	frame, _ := encodeAdmin(id, c.LocalNode, node, admin, key)
	return c.Sender.SendFrame(ctx, frame)
}
