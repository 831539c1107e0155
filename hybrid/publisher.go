package hybrid

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// EstimateMessage is the published MAP estimate for one robot: the selected
// mode per switch variable and the solved continuous states, both keyed by
// symbol name ("m1", "x0").
type EstimateMessage struct {
	RobotID   string               `json:"robotId"`
	Modes     map[string]int       `json:"modes,omitempty"`
	States    map[string][]float64 `json:"states"`
	Timestamp int64                `json:"timestamp"`
}

// NewEstimateMessage flattens a hybrid solution into its wire form.
func NewEstimateMessage(robotID string, hv HybridValues) *EstimateMessage {
	msg := &EstimateMessage{
		RobotID:   robotID,
		States:    make(map[string][]float64, len(hv.Continuous())),
		Timestamp: time.Now().Unix(),
	}
	if len(hv.Discrete()) > 0 {
		msg.Modes = make(map[string]int, len(hv.Discrete()))
		for k, v := range hv.Discrete() {
			msg.Modes[k.String()] = v
		}
	}
	for k, v := range hv.Continuous() {
		msg.States[k.String()] = v
	}
	return msg
}

// Publisher manages publishing MAP estimates to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	estimates     map[string]*EstimateMessage
	mu            sync.RWMutex
}

// NewPublisher creates a new estimate publisher
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "hybridsam"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true, // Retain for latest estimate
		estimates:     make(map[string]*EstimateMessage),
	}
}

// PublishEstimate publishes a single robot's MAP estimate to MQTT
// Publishes to both individual topic and combined estimates topic
func (p *Publisher) PublishEstimate(robotID string, hv HybridValues) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	msg := NewEstimateMessage(robotID, hv)

	p.mu.Lock()
	p.estimates[robotID] = msg
	p.mu.Unlock()

	if err := p.publishIndividual(msg); err != nil {
		log.Printf("[MQTT] error publishing estimate for %s: %v", robotID, err)
		return err
	}

	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] error publishing combined estimates: %v", err)
		return err
	}

	return nil
}

// publishIndividual publishes a single robot estimate to its individual topic
func (p *Publisher) publishIndividual(msg *EstimateMessage) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, msg.RobotID)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling estimate: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("[MQTT] published estimate for %s (%d states, %d modes)",
		msg.RobotID, len(msg.States), len(msg.Modes))
	return nil
}

// publishCombined publishes all robot estimates to the combined topic
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	estimates := make([]*EstimateMessage, 0, len(p.estimates))
	for _, msg := range p.estimates {
		estimates = append(estimates, msg)
	}
	p.mu.RUnlock()

	if len(estimates) == 0 {
		return nil
	}

	topic := fmt.Sprintf("%s/estimates", p.publishPrefix)

	message := map[string]interface{}{
		"robots":    estimates,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined estimates: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// GetEstimate returns the last published estimate for a robot
func (p *Publisher) GetEstimate(robotID string) (*EstimateMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msg, ok := p.estimates[robotID]
	return msg, ok
}

// ClearEstimate removes a robot's estimate (e.g., when offline)
func (p *Publisher) ClearEstimate(robotID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.estimates, robotID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
