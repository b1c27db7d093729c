// Package notify implements the push-notification fan-out named as an
// external collaborator in §1 ("push-notification transport") and wired
// in SPEC_FULL.md §B: one MQTT message per welcome, geofence, and
// key-mismatch event, published by the gateway for any subscriber (a
// phone app, another bridge) to pick up. Grounded on the teacher's
// `public/mqtt` package name and the pack's paho client-options idiom.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Event is one notification payload (§9: welcome, geofence, key-mismatch).
type Event struct {
	Kind      string    `json:"kind"`
	Node      uint32    `json:"node"`
	NodeID    string    `json:"nodeId"`
	Message   string    `json:"message"`
	FenceID   string    `json:"fenceId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventWelcome       = "welcome"
	EventGeofenceEnter = "geofence_enter"
	EventGeofenceExit  = "geofence_exit"
	EventKeyMismatch   = "key_mismatch"
)

// Notifier publishes gateway events to an external subscriber.
type Notifier interface {
	Publish(ev Event) error
}

// Options configures the MQTT client (mirrors the pack's own
// connect-timeout/keepalive/reconnect-interval knobs).
type Options struct {
	Broker          string // e.g. "tcp://localhost:1883"
	ClientID        string
	Topic           string
	Username        string
	Password        string
	KeepAlive       time.Duration
	ConnectTimeout  time.Duration
	MaxReconnectInt time.Duration
}

// DefaultOptions gives sane MQTT timing defaults.
func DefaultOptions(broker, topic string) Options {
	return Options{
		Broker:          broker,
		ClientID:        "meshcore-gateway",
		Topic:           topic,
		KeepAlive:       30 * time.Second,
		ConnectTimeout:  10 * time.Second,
		MaxReconnectInt: time.Minute,
	}
}

// MQTTNotifier is the default Notifier adapter.
type MQTTNotifier struct {
	Opts   Options
	Logger *log.Logger

	client mqtt.Client
}

// NewMQTT builds and connects an MQTTNotifier. The connection is
// established synchronously so startup fails fast on a bad broker
// address; subsequent drops are handled by the client's auto-reconnect.
func NewMQTT(opts Options) (*MQTTNotifier, error) {
	co := mqtt.NewClientOptions().AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetKeepAlive(opts.KeepAlive)
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.SetMaxReconnectInterval(opts.MaxReconnectInt)
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)

	n := &MQTTNotifier{Opts: opts}
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		n.logger().Warn("mqtt connection lost", "err", err)
	})
	co.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		n.logger().Info("mqtt reconnecting")
	})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) || token.Error() != nil {
		return nil, fmt.Errorf("notify: mqtt connect: %w", token.Error())
	}
	n.client = client
	return n, nil
}

func (n *MQTTNotifier) logger() *log.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return log.Default()
}

// Publish implements Notifier.
func (n *MQTTNotifier) Publish(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	token := n.client.Publish(n.Opts.Topic, 1, false, body)
	if !token.WaitTimeout(n.Opts.ConnectTimeout) {
		return fmt.Errorf("notify: publish timed out")
	}
	return token.Error()
}

// Close disconnects the MQTT client.
func (n *MQTTNotifier) Close() {
	if n.client != nil {
		n.client.Disconnect(250)
	}
}
