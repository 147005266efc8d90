package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	devices "powerstation-cloud/internal/devices/domain"
)

const (
	mqttTopicPattern = "open/device/+/quota"
	mqttQOS          = 1
)

// Subscriber receives push telemetry over MQTT and feeds it through the
// same snapshot path as the poller. Push updates arrive within seconds of
// a state change, so event rules react much faster than the poll interval.
type Subscriber struct {
	client   mqtt.Client
	poller   *Poller
	registry devices.Repository
	logger   *log.Logger
	timeout  time.Duration
}

// SubscriberOption configures the subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger assigns a logger.
func WithSubscriberLogger(logger *log.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSubscriber connects to the broker and constructs a subscriber.
func NewSubscriber(broker, clientID, username, password string, poller *Poller, registry devices.Repository, opts ...SubscriberOption) (*Subscriber, error) {
	if broker == "" {
		return nil, errors.New("telemetry: empty mqtt broker")
	}
	if poller == nil {
		return nil, errors.New("telemetry: nil poller")
	}
	if registry == nil {
		return nil, errors.New("telemetry: nil device repository")
	}
	options := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(options)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	s := &Subscriber{
		client:   client,
		poller:   poller,
		registry: registry,
		logger:   log.Default(),
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start subscribes to the quota topic.
func (s *Subscriber) Start() error {
	token := s.client.Subscribe(mqttTopicPattern, mqttQOS, s.handle)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Stop unsubscribes and disconnects.
func (s *Subscriber) Stop() {
	s.client.Unsubscribe(mqttTopicPattern)
	s.client.Disconnect(250)
}

type quotaMessage struct {
	Online int   `json:"online"`
	Params Quota `json:"params"`
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	serial, err := serialFromTopic(msg.Topic())
	if err != nil {
		s.logger.Printf("telemetry: mqtt topic %q: %v", msg.Topic(), err)
		return
	}
	var payload quotaMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		s.logger.Printf("telemetry: mqtt payload for %s: %v", serial, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	device, err := s.registry.Get(ctx, serial)
	if err != nil {
		s.logger.Printf("telemetry: mqtt device lookup %s: %v", serial, err)
		return
	}
	if device == nil {
		// Push for a device the poller has not registered yet; the next
		// poll cycle will pick it up.
		return
	}

	quota := payload.Params
	m := devices.Metrics{
		DeviceID:         device.ID,
		Online:           payload.Online == 1,
		SOC:              quota.SOC,
		Temperature:      quota.Temperature,
		ACInputWatts:     quota.ACInputWatts,
		ACOutputWatts:    quota.ACOutputWatts,
		SolarInputWatts:  quota.SolarInputWatts,
		DCOutputWatts:    quota.DCOutputWatts,
		TotalInputWatts:  quota.TotalInputWatts,
		TotalOutputWatts: quota.TotalOutputWatts,
		ErrorCodes:       quota.ErrorCodes,
		HasError:         len(quota.ErrorCodes) > 0,
		CollectedAt:      s.poller.clock.Now(),
	}
	s.poller.feed(ctx, *device, m, "mqtt")
}

func serialFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[2] == "" {
		return "", fmt.Errorf("unexpected topic shape")
	}
	return parts[2], nil
}
