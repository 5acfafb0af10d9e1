package telemetry_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavinwade12/motodiag/internal/telemetry"
	"github.com/gavinwade12/motodiag/protocols/obd"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (t *fakeToken) Error() error { return t.err }

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	connectErr   error
	published    []message
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, message{topic, payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.disconnected = true
}

func TestPublishReading(t *testing.T) {
	client := &fakeClient{}
	p := telemetry.NewPublisherWithClient(client, "bike", nil)
	require.NoError(t, p.Connect())

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err := p.PublishReading(obd.Reading{
		Time: at,
		Values: map[string]obd.Response{
			"RPM":          {Value: 1200},
			"THROTTLE_POS": {},
		},
	})
	require.NoError(t, err)

	require.Len(t, client.published, 1)
	assert.Equal(t, "bike/live", client.published[0].topic)

	var got telemetry.LivePayload
	require.NoError(t, json.Unmarshal(client.published[0].payload, &got))
	assert.True(t, at.Equal(got.Timestamp))
	assert.Equal(t, map[string]interface{}{"RPM": float64(1200)}, got.Values)
}

func TestPublishDTCs(t *testing.T) {
	client := &fakeClient{}
	p := telemetry.NewPublisherWithClient(client, "", nil)

	require.NoError(t, p.PublishDTCs(nil, time.Now()))
	require.NoError(t, p.PublishDTCs([]obd.DTC{{Code: "P0301", Description: "Cylinder 1 Misfire"}}, time.Now()))

	require.Len(t, client.published, 2)
	assert.Equal(t, telemetry.DefaultTopicPrefix+"/dtc", client.published[0].topic)

	var empty telemetry.DTCPayload
	require.NoError(t, json.Unmarshal(client.published[0].payload, &empty))
	assert.NotNil(t, empty.Codes)
	assert.Empty(t, empty.Codes)

	var one telemetry.DTCPayload
	require.NoError(t, json.Unmarshal(client.published[1].payload, &one))
	assert.Equal(t, []obd.DTC{{Code: "P0301", Description: "Cylinder 1 Misfire"}}, one.Codes)

	p.Close()
	assert.True(t, client.disconnected)
}

func TestConnectError(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("refused")}
	p := telemetry.NewPublisherWithClient(client, "", nil)

	err := p.Connect()
	assert.Error(t, err)
}
