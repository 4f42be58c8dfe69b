package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/kwv/gcransac/ransac"
)

// RequestHandler is called for every fit request received on <prefix>/request/<scene>.
// err is set when the payload could not be decoded.
type RequestHandler func(scene string, req *FitRequest, err error)

// MQTTClient manages the broker connection and the fit request subscription
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     RequestHandler
	prefix      string
	isConnected bool
	mu          sync.RWMutex
	log         zerolog.Logger
}

// InitMQTT connects to the broker named by MQTT_BROKER or the config.
// If neither names a broker, MQTT is disabled and this returns nil, nil.
// Connection attempts stop when ctx is cancelled.
func InitMQTT(ctx context.Context, config *Config, handler RequestHandler, log zerolog.Logger) (*MQTTClient, error) {
	if config == nil {
		return nil, fmt.Errorf("MQTT requires a configuration")
	}
	log = log.With().Str("component", "mqtt").Logger()

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		log.Info().Msg("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	client := &MQTTClient{
		config:  config,
		handler: handler,
		prefix:  publishPrefix(config),
		log:     log,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = defaultPublishPrefix
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the request subscription across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry(ctx)

	return client, nil
}

// connectWithRetry attempts to connect with exponential backoff until it succeeds or ctx ends
func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.log.Info().Msg("connecting to MQTT broker")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.log.Info().Msg("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.log.Warn().Err(token.Error()).Msg("MQTT connection failed")
		} else {
			c.log.Warn().Msg("MQTT connection timeout")
		}

		c.log.Info().Dur("delay", retryDelay).Msg("retrying MQTT connection")
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// RequestTopic is the wildcard filter fit requests arrive on
func (c *MQTTClient) RequestTopic() string {
	return c.prefix + "/request/+"
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.RequestTopic()
	token := client.Subscribe(topic, 0, c.createRequestHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.log.Error().Err(token.Error()).Str("topic", topic).Msg("subscribing")
		return
	}
	c.log.Info().Str("topic", topic).Msg("subscribed")
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn().Err(err).Msg("MQTT connection interrupted, auto-reconnect will retry")
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.log.Info().Msg("MQTT reconnecting")
}

// createRequestHandler decodes request payloads. The scene is the last topic level.
func (c *MQTTClient) createRequestHandler() mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		topic := msg.Topic()
		scene := topic[strings.LastIndex(topic, "/")+1:]
		payload := msg.Payload()
		c.log.Debug().Str("scene", scene).Int("bytes", len(payload)).Msg("received fit request")

		req, err := DecodeFitRequest(payload, c.config.Settings)
		if err != nil {
			c.log.Warn().Err(err).Str("scene", scene).Msg("decoding fit request")
		}
		if c.handler != nil {
			c.handler(scene, req, err)
		}
	}
}

// DecodeFitRequest parses a request payload. Settings omitted from the payload
// keep the values of defaults.
func DecodeFitRequest(payload []byte, defaults ransac.Settings) (*FitRequest, error) {
	req := &FitRequest{}
	if err := json.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("decoding fit request: %w", err)
	}
	if len(req.Correspondences) == 0 {
		return nil, fmt.Errorf("fit request carries no correspondences")
	}
	if _, err := req.ResolveSettings(defaults); err != nil {
		return nil, err
	}
	return req, nil
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler RequestHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
		prefix:  publishPrefix(config),
		log:     zerolog.Nop(),
	}
}
