package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventMarshalsExpectedFields(t *testing.T) {
	ev := Event{
		Kind:      EventGeofenceEnter,
		Node:      0x10,
		NodeID:    "!00000010",
		Message:   "entered home",
		FenceID:   "home",
		Timestamp: time.Unix(1000, 0).UTC(),
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "geofence_enter", decoded["kind"])
	require.Equal(t, "home", decoded["fenceId"])
	require.Equal(t, "entered home", decoded["message"])
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions("tcp://localhost:1883", "meshgw/events")
	require.Equal(t, "tcp://localhost:1883", opts.Broker)
	require.Equal(t, "meshgw/events", opts.Topic)
	require.Greater(t, opts.KeepAlive, time.Duration(0))
}
