package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/siteinspect/apiserver/internal/mq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	channel string
	data    []byte
	attrs   map[string]string
	err     error
}

func (q *recordingQueue) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	q.channel = channel
	q.data = data
	q.attrs = attrs
	return "msg-1", q.err
}

func TestMQPublisherEncodesJSON(t *testing.T) {
	q := &recordingQueue{}
	p := &MQPublisher{queue: q, log: zerolog.Nop()}

	p.Publish(context.Background(), ReportCreated, ReportCreatedEvent{ReportID: "r1", JobID: "j1", ImageCount: 2})

	assert.Equal(t, ReportCreated, q.channel)
	assert.Equal(t, "application/json", q.attrs[mq.ContentTypeAttribute])
	var decoded ReportCreatedEvent
	require.NoError(t, json.Unmarshal(q.data, &decoded))
	assert.Equal(t, "r1", decoded.ReportID)
	assert.Equal(t, 2, decoded.ImageCount)
}

func TestMQPublisherSwallowsFailures(t *testing.T) {
	q := &recordingQueue{err: errors.New("broker down")}
	p := &MQPublisher{queue: q, log: zerolog.Nop()}

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), ReportStatusChanged, ReportStatusChangedEvent{ReportID: "r1"})
	})
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), ReportStatusChanged, make(chan int))
	})
}

func TestNewWithoutQueueIsNop(t *testing.T) {
	assert.IsType(t, Nop{}, New(nil, zerolog.Nop()))
}
