package hybrid

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testMQTTConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{Broker: "tcp://localhost:1883"},
		Robots: []RobotConfig{
			{ID: "rob-a", Topic: "robots/rob-a/batches"},
			{ID: "rob-b", Topic: "robots/rob-b/batches"},
		},
	}
}

// received collects handler callbacks for assertions
type received struct {
	mu      sync.Mutex
	robotID string
	batch   *MeasurementBatch
	err     error
	calls   int
}

func (r *received) handler(robotID string, batch *MeasurementBatch, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.robotID = robotID
	r.batch = batch
	r.err = err
	r.calls++
}

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(&Config{Robots: []RobotConfig{{ID: "r1", Topic: "t"}}}, nil)
	assert.NoError(t, err)
	assert.Nil(t, client)
	assert.Nil(t, client.Client(), "nil MQTTClient should yield a nil paho client")
}

func TestInitMQTT_NoRobots(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	_, err := InitMQTT(&Config{MQTT: MQTTConfig{Broker: "tcp://localhost:1883"}}, nil)
	assert.Error(t, err, "broker set but no robots configured")
}

func TestOnConnect_SubscribesRobotTopics(t *testing.T) {
	rec := &received{}
	client := &MQTTClient{config: testMQTTConfig(), batchHandler: rec.handler}

	mock := NewMockClient()
	mock.SetConnected(true)
	client.onConnect(mock)

	assert.True(t, client.IsConnected(), "client should report connected after onConnect")

	batch := MeasurementBatch{
		Robot: "rob-a",
		Measurements: []Measurement{
			{Type: "prior", Index: 0, Value: 1.0, Sigma: 0.1},
		},
	}
	payload, _ := json.Marshal(batch)
	mock.SimulateMessage("robots/rob-a/batches", payload)

	assert.Equal(t, 1, rec.calls)
	assert.NoError(t, rec.err)
	assert.Equal(t, "rob-a", rec.robotID)
	if assert.NotNil(t, rec.batch) {
		assert.Len(t, rec.batch.Measurements, 1)
	}
}

func TestBatchHandler_DecodeError(t *testing.T) {
	rec := &received{}
	client := &MQTTClient{config: testMQTTConfig(), batchHandler: rec.handler}

	mock := NewMockClient()
	client.onConnect(mock)
	mock.SimulateMessage("robots/rob-b/batches", []byte("not json"))

	assert.Equal(t, 1, rec.calls)
	assert.Error(t, rec.err, "handler should receive the decode error")
	assert.Nil(t, rec.batch, "batch should be nil on decode failure")
	assert.Equal(t, "rob-b", rec.robotID)
}

func TestBatchHandler_TopicWins(t *testing.T) {
	// A batch claiming another robot's id is attributed to the topic's robot.
	rec := &received{}
	client := &MQTTClient{config: testMQTTConfig(), batchHandler: rec.handler}

	mock := NewMockClient()
	client.onConnect(mock)

	batch := MeasurementBatch{
		Robot: "rob-b",
		Measurements: []Measurement{
			{Type: "prior", Index: 0, Value: 1.0, Sigma: 0.1},
		},
	}
	payload, _ := json.Marshal(batch)
	mock.SimulateMessage("robots/rob-a/batches", payload)

	assert.Equal(t, "rob-a", rec.robotID)
}

func TestMQTTClient_ConnectionState(t *testing.T) {
	client := &MQTTClient{config: testMQTTConfig()}

	assert.False(t, client.IsConnected(), "fresh client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected())

	client.onConnectionLost(nil, nil)
	assert.False(t, client.IsConnected(), "connection loss should clear the flag")
}
