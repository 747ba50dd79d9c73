package automation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/logging"
)

type token struct {
	err  error
	done chan struct{}
}

func newToken(err error, completed bool) *token {
	t := &token{err: err, done: make(chan struct{})}
	if completed {
		close(t.done)
	}
	return t
}

func (t *token) Wait() bool                       { <-t.done; return true }
func (t *token) WaitTimeout(d time.Duration) bool { return false }
func (t *token) Done() <-chan struct{}            { return t.done }
func (t *token) Error() error                     { return t.err }

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	err       error
	pending   bool
	published []message
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, message{topic: topic, payload: payload.([]byte)})
	return newToken(c.err, !c.pending)
}

func TestSendDecision(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, "line1", 1, logging.Discard())
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	err := p.SendDecision(context.Background(), "f1", entity.DecisionBoth,
		map[string]any{entity.KeyDecision: entity.VerdictFail})
	require.NoError(t, err)

	require.Len(t, client.published, 1)
	require.Equal(t, "line1/automation", client.published[0].topic)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(client.published[0].payload, &msg))
	require.Equal(t, "f1", msg["frame_id"])
	require.Equal(t, "both", msg["decision"])
	require.Equal(t, 3.0, msg["flags"])
	require.Equal(t, map[string]any{"decision": "FAIL"}, msg["fields"])
	require.Equal(t, "2026-01-02T03:04:05Z", msg["timestamp"])

	require.Equal(t, uint64(1), p.Stats().Published["line1/automation"])
}

func TestReport(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, "line1", 0, logging.Discard())

	fields := map[string]any{
		entity.KeyTags:   []any{entity.VerdictPass},
		entity.KeyTiming: map[string]float64{"inference": 0.01},
	}
	require.NoError(t, p.Report(context.Background(), "f1", nil, fields))

	var msg ReportMessage
	require.NoError(t, json.Unmarshal(client.published[0].payload, &msg))
	require.Equal(t, "line1/factory", client.published[0].topic)
	require.Equal(t, []string{}, msg.Tags)
	require.Contains(t, msg.Fields, entity.KeyTiming)
}

func TestPublishErrors(t *testing.T) {
	boom := errors.New("not connected")
	p := NewMQTTPublisher(&fakeClient{err: boom}, "line1", 0, logging.Discard())

	err := p.Report(context.Background(), "f1", nil, nil)
	require.ErrorIs(t, err, boom)

	err = p.Report(context.Background(), "f1", nil, map[string]any{"bad": func() {}})
	require.Error(t, err)

	require.Equal(t, uint64(2), p.Stats().Errors)
}

func TestPublishCanceled(t *testing.T) {
	p := NewMQTTPublisher(&fakeClient{pending: true}, "line1", 0, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.SendDecision(ctx, "f1", entity.DecisionNone, nil)
	require.ErrorIs(t, err, context.Canceled)
}
