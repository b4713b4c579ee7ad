package report

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

// DefaultTopic for the progress events.
const DefaultTopic = "cogcal/progress"

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// NewMQTT connects to the given broker and returns a reporter that publishes every event as JSON.
func NewMQTT(broker, topic string) (*MQTT, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("cogcal_" + uuid.New().String()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logrus.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "cannot connect to MQTT broker %s", broker)
	}
	logrus.WithFields(logrus.Fields{
		"broker": broker,
		"topic":  topic,
	}).Info("connected to MQTT broker")

	return newMQTT(client, topic), nil
}

func newMQTT(client publisher, topic string) *MQTT {
	return &MQTT{
		client: client,
		topic:  topic,
	}
}

// MQTT publishes the events to an MQTT broker.
type MQTT struct {
	client publisher
	topic  string
}

// Report the event.
func (m *MQTT) Report(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logrus.WithError(err).Error("cannot marshal progress event")
		return
	}

	token := m.client.Publish(m.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		logrus.WithField("topic", m.topic).Warn("MQTT publish timeout")
		return
	}
	if token.Error() != nil {
		logrus.WithError(token.Error()).WithField("topic", m.topic).Warn("MQTT publish failed")
	}
}

// Close the connection to the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
