package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
	commitErr error
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return r.commitErr
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestConsumer_Consume_FramesAndCommit(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("V"), Value: []byte(`{"vin":"V"}`)},
			{Value: []byte(`{"vin":"W"}`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got [][][]byte
	err := c.Consume(context.Background(), func(ctx context.Context, frames [][]byte) error {
		got = append(got, frames)
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch message")

	require.Len(t, got, 2)
	require.Equal(t, [][]byte{[]byte("V"), []byte(`{"vin":"V"}`)}, got[0])
	require.Equal(t, [][]byte{[]byte(`{"vin":"W"}`)}, got[1])
	require.Len(t, fr.committed, 2)
}

func TestConsumer_Consume_HandlerErrorStops(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(context.Context, [][]byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumer_Consume_CommitErrorDoesNotStop(t *testing.T) {
	fr := &fakeReader{
		msgs:      []kafka.Message{{Value: []byte("a")}, {Value: []byte("b")}},
		err:       errors.New("stop"),
		commitErr: errors.New("rebalance"),
	}
	calls := 0
	err := newConsumerWithReader(fr).Consume(context.Background(), func(context.Context, [][]byte) error {
		calls++
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
}

func TestConsumer_Consume_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fr := &fakeReader{err: context.Canceled}
	err := newConsumerWithReader(fr).Consume(ctx, func(context.Context, [][]byte) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestConsumer_Close(t *testing.T) {
	fr := &fakeReader{}
	c := newConsumerWithReader(fr)
	require.NoError(t, c.Close())
	require.True(t, fr.closed)
	require.Equal(t, "kafka", c.Name())
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
