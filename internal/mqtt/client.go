// Package mqtt connects the smokers table to an MQTT broker: external
// suppliers place ingredient pairs and smoker status is published back.
package mqtt

import (
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/AaronLay10/SmokersTable/internal/config"
	"github.com/AaronLay10/SmokersTable/internal/log"
)

const (
	opTimeout     = 10 * time.Second
	retryInterval = 5 * time.Second
	keepAlive     = 30 * time.Second

	// Payloads of the retained availability topic.
	Online  = "online"
	Offline = "offline"
)

// Options configures a Client. Empty credentials fall back to
// SMOKERS_MQTT_USER/PASS (or their *_FILE variants).
type Options struct {
	URL      string
	ClientID string
	Username string
	Password string
	// WillTopic, when set, receives a retained Offline if the connection
	// drops without a clean Disconnect.
	WillTopic string
}

// Client wraps the Paho client with bounded waits on every token.
type Client struct {
	mu     sync.Mutex
	opts   *paho.ClientOptions
	client paho.Client
	will   string
	logger zerolog.Logger
}

// BrokerURL returns configured if set, then MQTT_URL, then the local default.
func BrokerURL(configured string) string {
	if configured != "" {
		return configured
	}
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	return "tcp://localhost:1883"
}

// NewClient builds a client without connecting. It fails only when a
// credential file cannot be read.
func NewClient(o Options) (*Client, error) {
	if o.Username == "" && o.Password == "" {
		user, pass, err := config.ResolveCredentials("SMOKERS_MQTT")
		if err != nil {
			return nil, err
		}
		o.Username, o.Password = user, pass
	}

	url := BrokerURL(o.URL)
	opts := paho.NewClientOptions().
		AddBroker(url).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetKeepAlive(keepAlive)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	if o.WillTopic != "" {
		opts.SetWill(o.WillTopic, Offline, 1, true)
	}

	logger := log.WithComponent("mqtt").With().Str("broker", url).Str("client_id", o.ClientID).Logger()
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("connection lost")
	})

	return &Client{
		opts:   opts,
		client: paho.NewClient(opts),
		will:   o.WillTopic,
		logger: logger,
	}, nil
}

// SetOnConnect registers fn to run after every (re)connect. Call before Connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.SetOnConnectHandler(func(paho.Client) { fn() })
	c.client = paho.NewClient(c.opts)
}

// Connect waits up to opTimeout for the first connection. On timeout the
// client keeps retrying in the background.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(opTimeout) {
		return &ConnectTimeoutError{}
	}
	if err := token.Error(); err != nil {
		return err
	}
	c.logger.Info().Msg("connected")
	return nil
}

// Subscribe registers handler for topic at QoS 1.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(opTimeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Publish sends payload at QoS 1.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(opTimeout) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect marks the client offline on the will topic, then disconnects.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.will != "" && c.client.IsConnected() {
		c.client.Publish(c.will, 1, true, Offline).WaitTimeout(time.Second)
	}
	c.client.Disconnect(1000)
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// PublishTimeoutError means the broker did not acknowledge a QoS 1 publish in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}
