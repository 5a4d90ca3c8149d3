package integration

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/pandora-cas/pandora-cloud-client/internal/bus"
	"github.com/pandora-cas/pandora-cloud-client/internal/config"
	"github.com/pandora-cas/pandora-cloud-client/internal/models"
)

const publishTimeout = 5 * time.Second

// MQTTForwarder mirrors the bus topics onto an MQTT broker:
//
//	<prefix>/<device_id>/event    domain events
//	<prefix>/<device_id>/command  command terminations
//	<prefix>/account/<name>/status
type MQTTForwarder struct {
	cfg    config.MQTTConfig
	client mqtt.Client
}

// NewMQTTForwarder connects the broker client and subscribes to the bus.
func NewMQTTForwarder(cfg config.MQTTConfig, dispatcher *bus.Dispatcher) (*MQTTForwarder, error) {
	f := &MQTTForwarder{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	})

	f.client = mqtt.NewClient(opts)
	token := f.client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("connect MQTT broker: %w", token.Error())
	}

	dispatcher.OnEvent(f.forwardEvent)
	dispatcher.OnCommand(f.forwardCommand)
	dispatcher.OnStatus(f.forwardStatus)

	return f, nil
}

// Close disconnects the broker client.
func (f *MQTTForwarder) Close() {
	if f.client.IsConnected() {
		f.client.Disconnect(250)
	}
}

func (f *MQTTForwarder) forwardEvent(ev bus.EventPayload) {
	topic := fmt.Sprintf("%s/%d/event", f.cfg.TopicPrefix, ev.DeviceID)
	go f.publish(topic, ev)
}

func (f *MQTTForwarder) forwardCommand(ev models.CommandEvent) {
	topic := fmt.Sprintf("%s/%d/command", f.cfg.TopicPrefix, ev.DeviceID)
	go f.publish(topic, ev)
}

func (f *MQTTForwarder) forwardStatus(change models.StatusChange) {
	topic := fmt.Sprintf("%s/account/%s/status", f.cfg.TopicPrefix, change.Account)
	go f.publish(topic, change)
}

func (f *MQTTForwarder) publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal MQTT payload")
		return
	}

	token := f.client.Publish(topic, f.cfg.QoS, false, data)
	if token.WaitTimeout(publishTimeout) {
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("Failed to publish to MQTT")
		}
	} else {
		log.Error().Str("topic", topic).Msg("MQTT publish timeout")
	}
}
