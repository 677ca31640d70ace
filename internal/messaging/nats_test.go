package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/punchamoorthee/packetverifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	data    []byte
}

type recordingPublisher struct {
	msgs []message
	err  error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{subject: subject, data: data})
	return nil
}

func TestSinkPublishesJSON(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewSink[domain.InvalidPacket](pub, SubjectInvalidPackets)

	require.NoError(t, sink.Write(context.Background(), domain.InvalidPacket{
		PayloadSize: 48,
		Reason:      domain.InvalidReasonInsufficientBalance,
		Gateway:     "gw-1",
	}))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "packets.invalid", pub.msgs[0].subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, "insufficient_balance", got["reason"])
	assert.Equal(t, float64(48), got["payload_size"])
	assert.Equal(t, "gw-1", got["gateway"])
}

func TestSinkErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("no servers")}
	sink := NewSink[domain.ValidPacket](pub, SubjectValidPackets)

	err := sink.Write(context.Background(), domain.ValidPacket{})
	assert.ErrorContains(t, err, "packets.valid")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Write(ctx, domain.ValidPacket{}), context.Canceled)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: "nats://localhost:4222"}.withDefaults()
	assert.Equal(t, "packet-verifier", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Positive(t, cfg.ConnectTimeout)
}
