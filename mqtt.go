package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttTimeout = 5 * time.Second

// Publisher delivers an encoded event to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTTBridge publishes events and feeds send requests from <topic>/send into
// the outbox.
type MQTTBridge struct {
	client mqtt.Client
	logger *slog.Logger
}

// ConnectMQTT connects to the configured broker. Connection loss is handled by
// the client's automatic reconnect; the send subscription is renewed on every
// connect.
func ConnectMQTT(config *Config, logger *slog.Logger, outbox *Outbox) (*MQTTBridge, error) {
	b := &MQTTBridge{logger: logger}
	sendTopic := config.MQTTTopic + "/send"

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MQTTBroker)
	opts.SetClientID(config.MQTTClientID)
	if config.MQTTUser != "" {
		opts.SetUsername(config.MQTTUser)
		opts.SetPassword(config.MQTTPassword)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("MQTT connected, subscribing", "topic", sendTopic)
		token := c.Subscribe(sendTopic, 0, func(_ mqtt.Client, m mqtt.Message) {
			b.handleSend(outbox, m.Payload())
		})
		if token.WaitTimeout(mqttTimeout) && token.Error() != nil {
			logger.Error("MQTT subscribe failed", "topic", sendTopic, "error", token.Error())
		}
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out", config.MQTTBroker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", config.MQTTBroker, err)
	}
	return b, nil
}

func (b *MQTTBridge) handleSend(outbox *Outbox, payload []byte) {
	req, err := decodeSMSRequest(payload)
	if err != nil {
		b.logger.Warn("Ignoring MQTT send request", "error", err)
		return
	}
	id, err := outbox.Enqueue(req)
	if err != nil {
		b.logger.Error("Dropping MQTT send request", "to", req.To, "error", err)
		return
	}
	b.logger.Info("SMS queued from MQTT", "id", id, "to", req.To)
}

// Publish sends payload at QoS 0 without retain.
func (b *MQTTBridge) Publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return errors.New("publish timed out")
	}
	return token.Error()
}

func (b *MQTTBridge) Close() {
	b.client.Disconnect(500)
}
