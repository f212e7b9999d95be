package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	disconnects int
	err         error
}

func (c *fakeConn) Disconnect(context.Context) error {
	c.disconnects++
	return c.err
}

func newTestSubscriber(t *testing.T, conn *fakeConn) *Subscriber {
	t.Helper()
	s, err := NewSubscriber(Config{BrokerURL: "mqtt://localhost:1883"})
	require.NoError(t, err)
	s.connect = func(ctx context.Context, cfg autopaho.ClientConfig) (connection, error) {
		require.Equal(t, "sentrybox-relay", cfg.ClientConfig.ClientID)
		require.Len(t, cfg.ClientConfig.OnPublishReceived, 1)
		return conn, nil
	}
	return s
}

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := NewSubscriber(Config{})
	require.Error(t, err)

	_, err = NewSubscriber(Config{BrokerURL: "://bad"})
	require.Error(t, err)

	s, err := NewSubscriber(Config{BrokerURL: "tcp://broker:1883"})
	require.NoError(t, err)
	require.Equal(t, "#", s.cfg.Topic)
	require.Equal(t, "mqtt", s.Name())
}

func TestSubscriber_DeliversFrames(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSubscriber(t, conn)

	got := make(chan [][]byte, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Consume(context.Background(), func(ctx context.Context, frames [][]byte) error {
			got <- frames
			return nil
		})
	}()

	ok, err := s.onPublishReceived(paho.PublishReceived{Packet: &paho.Publish{
		Topic:   "telemetry/VIN1",
		Payload: []byte(`{"vin":"VIN1"}`),
	}})
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case frames := <-got:
		require.Equal(t, [][]byte{[]byte("telemetry/VIN1"), []byte(`{"vin":"VIN1"}`)}, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("frames not delivered")
	}

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, <-errCh)
	require.Equal(t, 1, conn.disconnects)

	require.NoError(t, s.Close())
	require.Equal(t, 1, conn.disconnects)

	// after close publishes are dropped without blocking
	for i := 0; i < 300; i++ {
		_, _ = s.onPublishReceived(paho.PublishReceived{Packet: &paho.Publish{Topic: "t"}})
	}
}

func TestSubscriber_HandlerErrorStops(t *testing.T) {
	s := newTestSubscriber(t, &fakeConn{})
	want := errors.New("handler failed")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Consume(context.Background(), func(context.Context, [][]byte) error { return want })
	}()
	_, _ = s.onPublishReceived(paho.PublishReceived{Packet: &paho.Publish{Topic: "t", Payload: []byte("{}")}})

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, want)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not stop")
	}
}

func TestSubscriber_ContextCancel(t *testing.T) {
	s := newTestSubscriber(t, &fakeConn{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.Consume(ctx, func(context.Context, [][]byte) error { return nil }), context.Canceled)
}

func TestSubscriber_ConnectError(t *testing.T) {
	s, err := NewSubscriber(Config{BrokerURL: "mqtt://localhost:1883"})
	require.NoError(t, err)
	s.connect = func(context.Context, autopaho.ClientConfig) (connection, error) {
		return nil, errors.New("refused")
	}
	require.Error(t, s.Consume(context.Background(), func(context.Context, [][]byte) error { return nil }))
}

func TestSubscriber_CloseDisconnectError(t *testing.T) {
	conn := &fakeConn{err: errors.New("broken pipe")}
	s := newTestSubscriber(t, conn)
	s.conn = conn

	require.Error(t, s.Close())
}
