package hybrid

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BatchHandler is called when a measurement batch arrives on a robot topic.
// Parameters: robotID, decoded batch (nil on decode failure), error
type BatchHandler func(robotID string, batch *MeasurementBatch, err error)

// MQTTClient manages the MQTT connection and per-robot subscriptions
type MQTTClient struct {
	client       mqtt.Client
	config       *Config
	batchHandler BatchHandler
	isConnected  bool
	mu           sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided configuration
// If MQTT_BROKER env var is empty and no broker is configured, MQTT is
// disabled and this returns nil
func InitMQTT(config *Config, handler BatchHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Robots) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no robot configuration provided")
	}

	client := &MQTTClient{
		config:       config,
		batchHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "hybridsam"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
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
	opts.SetCleanSession(false) // Preserve subscriptions on reconnect
	opts.SetOrderMatters(true)  // Batches for one robot must apply in order

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	// Connect asynchronously with retry
	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect is called when the MQTT connection is established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("[MQTT] connected, subscribing to robot topics...")
	c.setConnected(true)

	for _, robot := range c.config.Robots {
		if robot.Topic == "" {
			log.Printf("[MQTT] warning: robot %s has no topic configured", robot.ID)
			continue
		}

		log.Printf("[MQTT] subscribing to %s for robot %s", robot.Topic, robot.ID)
		token := client.Subscribe(robot.Topic, 1, c.createBatchHandler(robot.ID))

		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", robot.Topic, token.Error())
		} else {
			log.Printf("[MQTT] subscribed to %s", robot.Topic)
		}
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// onReconnecting is called when the client attempts to reconnect
func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// createBatchHandler creates a handler function for a specific robot's topic
func (c *MQTTClient) createBatchHandler(robotID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] received batch for %s (topic: %s, size: %d bytes)",
			robotID, msg.Topic(), len(payload))

		batch, err := DecodeBatch(payload)
		if err != nil {
			log.Printf("[MQTT] error decoding batch for %s: %v", robotID, err)
			if c.batchHandler != nil {
				c.batchHandler(robotID, nil, err)
			}
			return
		}
		if batch.Robot != robotID {
			log.Printf("[MQTT] batch robot id %q does not match topic robot %q, using topic",
				batch.Robot, robotID)
		}

		if c.batchHandler != nil {
			c.batchHandler(robotID, batch, nil)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// setConnected updates the connection status
func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying paho client, used by the publisher
func (c *MQTTClient) Client() mqtt.Client {
	if c == nil {
		return nil
	}
	return c.client
}
