package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"guestgreet/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// ErrNotConnected wird beim Veröffentlichen ohne Broker-Verbindung zurückgegeben
var ErrNotConnected = errors.New("mqtt client is not connected")

const publishTimeout = 5 * time.Second

var logFields = log.Fields{"component": "mqtt"}

// MessageHandler verarbeitet eingehende Nachrichten des Vektor-Topics
type MessageHandler interface {
	HandleMessage(topic string, payload []byte)
}

// Client verbindet GuestGreet mit dem Broker: Vektoren kommen herein, Begrüßungen gehen hinaus
type Client struct {
	config   config.MQTTConfig
	client   mqtt.Client
	mu       sync.RWMutex
	handlers []MessageHandler
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// RegisterHandler hängt einen Handler für das Vektor-Topic an
func (c *Client) RegisterHandler(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.WithFields(logFields).Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := c.clientOptions()
	c.client = mqtt.NewClient(opts)

	log.WithFields(logFields).Infof("Connecting to MQTT broker at %s", opts.Servers[0])
	token := c.client.Connect()
	if !token.WaitTimeout(30*time.Second) {
		return fmt.Errorf("timed out connecting to MQTT broker %s", opts.Servers[0])
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

func (c *Client) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)).
		SetClientID(c.config.ClientID).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		// Abonnements werden im OnConnect-Handler nach jedem Reconnect erneuert
		SetCleanSession(true).
		SetOnConnectHandler(c.subscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithFields(logFields).Errorf("MQTT connection lost: %v", err)
		})

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	return opts
}

// Stop trennt die Verbindung und lässt ausstehende Nachrichten 250ms Zeit
func (c *Client) Stop() {
	if c.IsConnected() {
		log.WithFields(logFields).Info("Disconnecting MQTT client...")
		c.client.Disconnect(250)
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *Client) subscribe(client mqtt.Client) {
	log.WithFields(logFields).Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	topic := c.config.EmbeddingTopic
	if topic == "" {
		return
	}
	token := client.Subscribe(topic, c.qos(), func(_ mqtt.Client, msg mqtt.Message) {
		c.dispatch(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		log.WithFields(logFields).Errorf("Failed to subscribe to %s: %v", topic, token.Error())
		return
	}
	log.WithFields(logFields).Infof("Subscribed to embeddings on %s", topic)
}

// dispatch gibt jede Nachricht nebenläufig an alle Handler weiter, damit der Paho-Router nicht blockiert
func (c *Client) dispatch(topic string, payload []byte) {
	log.WithFields(logFields).Debugf("Received MQTT message on %s (%d bytes)", topic, len(payload))

	c.mu.RLock()
	handlers := c.handlers
	c.mu.RUnlock()

	for _, h := range handlers {
		go h.HandleMessage(topic, payload)
	}
}

// PublishJSON serialisiert v und veröffentlicht es auf topic
func (c *Client) PublishJSON(topic string, v any, retain bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", topic, err)
	}

	token := c.client.Publish(topic, c.qos(), retain, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	log.WithFields(logFields).Debugf("Published %d bytes to %s (retain=%v)", len(body), topic, retain)
	return nil
}

func (c *Client) qos() byte {
	if c.config.QoS < 0 || c.config.QoS > 2 {
		return 1
	}
	return byte(c.config.QoS)
}
