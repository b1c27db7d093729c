package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
)

const localNode uint32 = 1

type fakeSender struct {
	frames [][]byte
}

func (f *fakeSender) SendFrame(_ context.Context, body []byte) error {
	f.frames = append(f.frames, body)
	return nil
}

func TestFirmwareVersion_ParseAndCompare(t *testing.T) {
	v, err := ParseFirmwareVersion("2.7.1.abcd1234")
	require.NoError(t, err)
	require.Equal(t, FirmwareVersion{2, 7, 1}, v)
	require.True(t, v.AtLeast(MinFavoriteIgnoredRemoveFirmware))

	older, err := ParseFirmwareVersion("2.6.9")
	require.NoError(t, err)
	require.False(t, older.AtLeast(MinFavoriteIgnoredRemoveFirmware))
}

func TestController_EnsureSessionKey_LocalNodeNeedsNoKey(t *testing.T) {
	ctrl := New(clockwork.NewFakeClock(), localNode, &fakeSender{})
	key, err := ctrl.EnsureSessionKey(context.Background(), localNode)
	require.NoError(t, err)
	require.Nil(t, key)
}

func TestController_EnsureSessionKey_ReturnsCachedValidKey(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1000, 0))
	ctrl := New(clock, localNode, &fakeSender{})

	admin := &meshwire.AdminMessage{Which: meshwire.AdminGetDeviceMetadataResponse, SessionPasskey: []byte("s3cr3t")}
	require.NoError(t, ctrl.HandleAdminMessage(context.Background(), 42, admin))

	key, err := ctrl.EnsureSessionKey(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, []byte("s3cr3t"), key)
}

func TestController_EnsureSessionKey_TimesOutWithoutResponse(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(0, 0))
	ctrl := New(clock, localNode, &fakeSender{})
	ctrl.SessionKeyTimeout = 0

	_, err := ctrl.EnsureSessionKey(context.Background(), 99)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestController_RequestDeviceMetadata_ClearsStaleCacheBeforeSend(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(0, 0))
	sender := &fakeSender{}
	ctrl := New(clock, localNode, sender)
	ctrl.ResponseTimeout = 0

	stale := &meshwire.DeviceMetadata{FirmwareVersion: "1.0.0"}
	require.NoError(t, ctrl.HandleAdminMessage(context.Background(), 7, &meshwire.AdminMessage{
		Which: meshwire.AdminGetDeviceMetadataResponse, GetDeviceMetadataResponse: stale,
	}))
	// Clearing happens inside RequestDeviceMetadata right before the new
	// send, so with a zero response timeout and no fresh reply this must
	// time out rather than return the stale value.
	_, err := ctrl.RequestDeviceMetadata(context.Background(), 7)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestController_RequestDeviceMetadata_ReturnsFreshResponse(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctrl := New(clock, localNode, &fakeSender{})
	ctrl.ResponseTimeout = time.Hour

	type result struct {
		meta *meshwire.DeviceMetadata
		err  error
	}
	done := make(chan result, 1)
	go func() {
		meta, err := ctrl.RequestDeviceMetadata(context.Background(), 7)
		done <- result{meta, err}
	}()

	// Wait until RequestDeviceMetadata's poll loop is parked on the fake
	// clock (its first check, right after clearing the cache, always
	// misses), then deliver the response and advance past one poll tick.
	clock.BlockUntil(1)
	fresh := &meshwire.DeviceMetadata{FirmwareVersion: "2.7.0"}
	require.NoError(t, ctrl.HandleAdminMessage(context.Background(), 7, &meshwire.AdminMessage{
		Which: meshwire.AdminGetDeviceMetadataResponse, GetDeviceMetadataResponse: fresh,
	}))
	clock.Advance(ctrl.PollInterval)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "2.7.0", res.meta.FirmwareVersion)
}

func TestController_SendGatedAdmin_RejectsOldFirmware(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(0, 0))
	ctrl := New(clock, localNode, &fakeSender{})

	require.NoError(t, ctrl.HandleAdminMessage(context.Background(), 7, &meshwire.AdminMessage{
		Which:                     meshwire.AdminGetDeviceMetadataResponse,
		GetDeviceMetadataResponse: &meshwire.DeviceMetadata{FirmwareVersion: "2.6.0"},
	}))

	err := ctrl.SendGatedAdmin(context.Background(), 7, "setFavoriteNode", &meshwire.AdminMessage{Which: meshwire.AdminSetFavoriteNode})
	var fwErr *FirmwareNotSupportedError
	require.ErrorAs(t, err, &fwErr)
	require.Equal(t, "setFavoriteNode", fwErr.Command)
}
