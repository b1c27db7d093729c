package model

// TelemetryPoint is an append-only (node, type, timestamp, value, unit)
// observation (§3).
type TelemetryPoint struct {
	Node      uint32
	Type      string
	Timestamp int64
	Value     float64
	Unit      string
}

// Telemetry point types used for position, written as three separate
// points per §3.
const (
	TelemetryTypeLatitude  = "latitude"
	TelemetryTypeLongitude = "longitude"
	TelemetryTypeAltitude  = "altitude"

	TelemetryTypeEstimatedLatitude  = "estimated_latitude"
	TelemetryTypeEstimatedLongitude = "estimated_longitude"

	TelemetryTypeLinkQuality = "link_quality"
	TelemetryTypeRSSI        = "rssi"
	TelemetryTypeSNR         = "snr"

	TelemetryTypeActiveNodes = "active_nodes"
	TelemetryTypeDirectNodes = "direct_nodes"
	TelemetryTypeClockOffset = "clock_offset"
)

// MinPeriodicMetricInterval is the "on change or after a minimum interval,
// whichever comes first" threshold from §3 for periodic metrics like
// RSSI/SNR/link-quality.
const MinPeriodicMetricInterval = 10 * 60 // seconds

// ShouldWriteMetric reports whether a periodic metric observation should
// be persisted: either the value changed, or enough time has passed since
// the last write.
func ShouldWriteMetric(changed bool, lastWrite, now int64) bool {
	if changed {
		return true
	}
	return now-lastWrite >= MinPeriodicMetricInterval
}
