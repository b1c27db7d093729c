// Package store defines the abstract Store Port (§4.11) the gateway core
// depends on. The tabular datastore itself — schema, query engine, HTTP/
// WebSocket surface reading from it — is an external collaborator out of
// the core's scope (§1); this package only names the operations the core
// calls through.
package store

import (
	"context"

	"github.com/dpaschal/meshcore-gateway/internal/model"
)

// Port is the full set of operations the gateway core needs from the
// persistent datastore. Anything beyond this belongs in the adapter,
// not the core (§4.11).
type Port interface {
	UpsertNode(ctx context.Context, n *model.Node) error
	GetNode(ctx context.Context, num uint32) (*model.Node, bool, error)
	ListActiveNodes(ctx context.Context, maxAgeHours int) ([]*model.Node, error)

	InsertMessage(ctx context.Context, m *model.Message) (inserted bool, err error)
	UpdateMessageDeliveryState(ctx context.Context, key model.MessageKey, state model.DeliveryState) error
	UpdateMessageTimestamps(ctx context.Context, key model.MessageKey, rxTime int64) error

	InsertTelemetry(ctx context.Context, p model.TelemetryPoint) error
	ListLatestTelemetryForType(ctx context.Context, node uint32, typ string) (model.TelemetryPoint, bool, error)

	UpsertChannel(ctx context.Context, c *model.Channel) error
	GetChannel(ctx context.Context, index uint32) (*model.Channel, bool, error)

	SaveNeighborInfo(ctx context.Context, reporter uint32, neighbors []model.Neighbor) error
	ClearNeighborInfo(ctx context.Context, reporter uint32) error

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	InsertTraceroute(ctx context.Context, tr model.Traceroute) (int64, error)
	InsertRouteSegment(ctx context.Context, seg model.RouteSegment) error
	RecordAutoTraceroute(ctx context.Context, node uint32, at int64) error

	// MarkWelcomedIfNotAlready atomically checks-and-sets a node's
	// welcomed-at timestamp, returning true only for the caller that
	// actually performed the write (§9, §8 auto-welcome atomicity).
	MarkWelcomedIfNotAlready(ctx context.Context, node uint32, at int64) (bool, error)
}
