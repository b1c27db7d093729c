// Package sqlite is a reference concrete implementation of store.Port
// backed by a cgo-free sqlite database. It exists so the gateway core's
// own tests can exercise a real Store Port adapter; the production
// datastore's schema and query surface remain an external collaborator
// per spec §1/§6.
package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/dpaschal/meshcore-gateway/internal/model"
)

// Store is a gorm-backed store.Port implementation.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) a sqlite database at dsn and runs
// migrations. Pass ":memory:" for an in-memory, process-lifetime database, the
// same convention DMRHub's test suite uses for its sqlite driver.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrating sqlite store: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202601010000_initial",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&nodeRow{}, &channelRow{}, &messageRow{}, &telemetryRow{},
					&neighborRow{}, &settingRow{}, &tracerouteRow{}, &routeSegmentRow{},
					&autoTracerouteRow{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					"node_rows", "channel_rows", "message_rows", "telemetry_rows",
					"neighbor_rows", "setting_rows", "traceroute_rows", "route_segment_rows",
					"auto_traceroute_rows",
				)
			},
		},
	})
	return m.Migrate()
}

func (s *Store) UpsertNode(ctx context.Context, n *model.Node) error {
	row := fromNode(n)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) GetNode(ctx context.Context, num uint32) (*model.Node, bool, error) {
	var row nodeRow
	err := s.db.WithContext(ctx).First(&row, "num = ?", num).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.toNode(), true, nil
}

func (s *Store) ListActiveNodes(ctx context.Context, maxAgeHours int) ([]*model.Node, error) {
	var rows []nodeRow
	cutoff := nowUnix() - int64(maxAgeHours)*3600
	if err := s.db.WithContext(ctx).Where("last_heard >= ?", cutoff).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Node, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toNode())
	}
	return out, nil
}

func (s *Store) InsertMessage(ctx context.Context, m *model.Message) (bool, error) {
	row := fromMessage(m)
	res := s.db.WithContext(ctx).FirstOrCreate(&row, "source_node = ? AND packet_id = ?", m.SourceNode, m.PacketID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateMessageDeliveryState(ctx context.Context, key model.MessageKey, state model.DeliveryState) error {
	return s.db.WithContext(ctx).Model(&messageRow{}).
		Where("source_node = ? AND packet_id = ?", key.Source, key.PacketID).
		Update("delivery_state", uint8(state)).Error
}

func (s *Store) UpdateMessageTimestamps(ctx context.Context, key model.MessageKey, rxTime int64) error {
	return s.db.WithContext(ctx).Model(&messageRow{}).
		Where("source_node = ? AND packet_id = ?", key.Source, key.PacketID).
		Update("rx_time", rxTime).Error
}

func (s *Store) InsertTelemetry(ctx context.Context, p model.TelemetryPoint) error {
	row := telemetryRow{Node: p.Node, Type: p.Type, Timestamp: p.Timestamp, Value: p.Value, Unit: p.Unit}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) ListLatestTelemetryForType(ctx context.Context, node uint32, typ string) (model.TelemetryPoint, bool, error) {
	var row telemetryRow
	err := s.db.WithContext(ctx).Where("node = ? AND type = ?", node, typ).Order("timestamp desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.TelemetryPoint{}, false, nil
	}
	if err != nil {
		return model.TelemetryPoint{}, false, err
	}
	return model.TelemetryPoint{Node: row.Node, Type: row.Type, Timestamp: row.Timestamp, Value: row.Value, Unit: row.Unit}, true, nil
}

func (s *Store) UpsertChannel(ctx context.Context, c *model.Channel) error {
	row := fromChannel(c)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) GetChannel(ctx context.Context, index uint32) (*model.Channel, bool, error) {
	var row channelRow
	err := s.db.WithContext(ctx).First(&row, "idx = ?", index).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.toChannel(), true, nil
}

func (s *Store) SaveNeighborInfo(ctx context.Context, reporter uint32, neighbors []model.Neighbor) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("reporter = ?", reporter).Delete(&neighborRow{}).Error; err != nil {
			return err
		}
		for _, n := range neighbors {
			row := neighborRow{Reporter: reporter, NodeID: n.NodeID, SNR: n.SNR}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ClearNeighborInfo(ctx context.Context, reporter uint32) error {
	return s.db.WithContext(ctx).Where("reporter = ?", reporter).Delete(&neighborRow{}).Error
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var row settingRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	row := settingRow{Key: key, Value: value}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) InsertTraceroute(ctx context.Context, tr model.Traceroute) (int64, error) {
	row := fromTraceroute(tr)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return int64(row.ID), nil
}

func (s *Store) InsertRouteSegment(ctx context.Context, seg model.RouteSegment) error {
	row := routeSegmentRow{
		TracerouteID: uint(seg.TracerouteID),
		FromNode:     seg.FromNode,
		ToNode:       seg.ToNode,
		DistanceM:    seg.DistanceM,
		SNR:          seg.SNR,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) RecordAutoTraceroute(ctx context.Context, node uint32, at int64) error {
	row := autoTracerouteRow{Node: node, At: at}
	return s.db.WithContext(ctx).Save(&row).Error
}

// MarkWelcomedIfNotAlready atomically sets a node's welcomed_at only if it
// is currently unset, returning true only to the caller whose update
// actually took effect (§8 auto-welcome atomicity).
func (s *Store) MarkWelcomedIfNotAlready(ctx context.Context, node uint32, at int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&nodeRow{}).
		Where("num = ? AND welcomed_at = 0", node).
		Update("welcomed_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
