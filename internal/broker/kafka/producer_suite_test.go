package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm)
}

type closingWriter struct {
	writerMock
	closed bool
}

func (w *closingWriter) Close() error {
	w.closed = true
	return nil
}

func (s *ProducerSuite) TestClose_DelegatesToWriter() {
	w := &closingWriter{}
	s.Require().NoError(newProducerWithWriter(w).Close())
	s.Require().True(w.closed)
}

func (s *ProducerSuite) TestClose_WithoutCloser() {
	s.Require().NoError(s.p.Close())
}

func (s *ProducerSuite) TestNewProducer_Close() {
	s.Require().NoError(NewProducer([]string{"localhost:0"}).Close())
}

func (s *ProducerSuite) TestPublish_OK() {
	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 {
				return false
			}
			return msgs[0].Topic == "alerts.outcome" && string(msgs[0].Key) == "42" && string(msgs[0].Value) == `{"outcome":"delivered"}`
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.Publish(context.Background(), "alerts.outcome", []byte("42"), []byte(`{"outcome":"delivered"}`)))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrapped() {
	want := errors.New("boom")
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(want).Once()

	err := s.p.Publish(context.Background(), "t", []byte("k"), []byte("v"))
	s.Require().ErrorIs(err, want)
	s.Require().Contains(err.Error(), "kafka publish")
	s.wm.AssertExpectations(s.T())
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}


