package alerts

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/SentryBox/internal/broker/messages"
	"github.com/BearBump/SentryBox/internal/i18n"
	"github.com/BearBump/SentryBox/internal/models"
	"github.com/BearBump/SentryBox/internal/services/retry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type senderMock struct{ mock.Mock }

func (m *senderMock) SendMessageToUser(ctx context.Context, userID, text string, kb *models.Keyboard) (bool, error) {
	args := m.Called(ctx, userID, text, kb)
	return args.Bool(0), args.Error(1)
}

type linksMock struct{ mock.Mock }

func (m *linksMock) RemoveLink(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type publisherMock struct {
	mu     sync.Mutex
	events []messages.AlertOutcome
	topics []string
}

func (p *publisherMock) Publish(ctx context.Context, topic string, key, value []byte) error {
	var ev messages.AlertOutcome
	if err := json.Unmarshal(value, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *publisherMock) outcomes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Outcome)
	}
	return out
}

type capturingRetrier struct {
	ops []retry.Operation
	ids []string
}

func (r *capturingRetrier) AddToRetry(op retry.Operation, lastErr error, id string) {
	r.ops = append(r.ops, op)
	r.ids = append(r.ids, id)
}

type CoordinatorSuite struct {
	suite.Suite

	sender  *senderMock
	links   *linksMock
	pub     *publisherMock
	retries *retry.Manager
	c       *Coordinator
}

func (s *CoordinatorSuite) SetupTest() {
	s.sender = &senderMock{}
	s.links = &linksMock{}
	s.pub = &publisherMock{}
	s.retries = retry.New()
	s.c = NewCoordinator(NewFormatter(i18n.New(), ""), s.sender, s.links, s.retries).
		WithPublisher(s.pub, "")
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) record() models.TelemetryRecord {
	return models.TelemetryRecord{VIN: "TEST123456", SentryMode: models.SentryModeAware}
}

func (s *CoordinatorSuite) TestDelivered() {
	s.sender.
		On("SendMessageToUser", mock.Anything, "42", mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "TESLA SENTRY ALERT") && strings.Contains(text, "TEST123456")
		}), (*models.Keyboard)(nil)).
		Return(true, nil).
		Once()

	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", nil)

	s.Require().NoError(err)
	s.Require().True(ok)
	s.sender.AssertNumberOfCalls(s.T(), "SendMessageToUser", 1)
	s.Require().Equal([]string{messages.OutcomeDelivered}, s.pub.outcomes())
	s.Require().Equal(DefaultOutcomeTopic, s.pub.topics[0])
}

func (s *CoordinatorSuite) TestKeyboardPassedThrough() {
	kb := NewFormatter(nil, "").Keyboard("42", "en")
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, kb).Return(true, nil).Once()

	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", kb)

	s.Require().NoError(err)
	s.Require().True(ok)
	s.sender.AssertExpectations(s.T())
}

func (s *CoordinatorSuite) TestSenderReturnsFalse() {
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).Return(false, nil).Once()

	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", nil)

	s.Require().NoError(err)
	s.Require().False(ok)
	s.Require().Equal(0, s.retries.Len())
}

func (s *CoordinatorSuite) TestPermanentRemovesLink() {
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(false, errors.New("Forbidden: bot was blocked by the user")).Once()
	s.links.On("RemoveLink", mock.Anything, "42").Return(nil).Once()

	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", nil)

	s.Require().NoError(err)
	s.Require().False(ok)
	s.links.AssertNumberOfCalls(s.T(), "RemoveLink", 1)
	s.Require().Equal(0, s.retries.Len())
	s.Require().Equal([]string{messages.OutcomeUnlinked}, s.pub.outcomes())
}

func (s *CoordinatorSuite) TestPermanentRemoveLinkErrorPropagates() {
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(false, errors.New("Bad Request: chat not found")).Once()
	s.links.On("RemoveLink", mock.Anything, "42").Return(errors.New("db down")).Once()

	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", nil)

	s.Require().Error(err)
	s.Require().Contains(err.Error(), "db down")
	s.Require().False(ok)
}

func (s *CoordinatorSuite) TestTransientQueuesRetry() {
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(false, errors.New("connect ETIMEDOUT 149.154.167.220:443")).Once()

	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", nil)

	s.Require().NoError(err)
	s.Require().False(ok)
	s.links.AssertNotCalled(s.T(), "RemoveLink", mock.Anything, mock.Anything)

	pending := s.retries.Pending()
	s.Require().Len(pending, 1)
	s.Require().True(strings.HasPrefix(pending[0].ID, "telegram-alert-"))
	s.Require().Contains(pending[0].ID, "42")
	s.Require().Equal(1, pending[0].Attempt)
	s.Require().Equal([]string{messages.OutcomeRetryScheduled}, s.pub.outcomes())
	s.Require().Equal(pending[0].ID, s.pub.events[0].CorrelationID)
}

func (s *CoordinatorSuite) TestFatalPropagates() {
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(false, errors.New("disk full")).Once()

	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", nil)

	s.Require().EqualError(err, "disk full")
	s.Require().False(ok)
	s.Require().Equal(0, s.retries.Len())
	s.links.AssertNotCalled(s.T(), "RemoveLink", mock.Anything, mock.Anything)
	s.Require().Equal([]string{messages.OutcomeFailed}, s.pub.outcomes())
}

func (s *CoordinatorSuite) TestSimulatedFixtureVehicle() {
	s.c.WithSimulation([]string{"TEST123456"}, 5*time.Millisecond)

	start := time.Now()
	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", nil)

	s.Require().NoError(err)
	s.Require().True(ok)
	s.Require().GreaterOrEqual(time.Since(start), 5*time.Millisecond)
	s.sender.AssertNotCalled(s.T(), "SendMessageToUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.Require().Equal([]string{messages.OutcomeSimulated}, s.pub.outcomes())
}

func (s *CoordinatorSuite) TestSimulationNeedsDelay() {
	s.c.WithSimulation([]string{"TEST123456"}, 0)
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).Return(true, nil).Once()

	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", nil)

	s.Require().NoError(err)
	s.Require().True(ok)
	s.sender.AssertNumberOfCalls(s.T(), "SendMessageToUser", 1)
}

func (s *CoordinatorSuite) TestSimulationOnlyForListedVINs() {
	s.c.WithSimulation([]string{"OTHERVIN"}, time.Hour)
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).Return(true, nil).Once()

	ok, err := s.c.SendAlert(context.Background(), "42", s.record(), "en", nil)

	s.Require().NoError(err)
	s.Require().True(ok)
}

func (s *CoordinatorSuite) TestSimulationHonoursCancel() {
	s.c.WithSimulation([]string{"TEST123456"}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := s.c.SendAlert(ctx, "42", s.record(), "en", nil)

	s.Require().ErrorIs(err, context.Canceled)
	s.Require().False(ok)
}

func (s *CoordinatorSuite) TestRetryOperation() {
	r := &capturingRetrier{}
	c := NewCoordinator(nil, s.sender, s.links, r).WithPublisher(s.pub, "outcomes")

	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(false, &fakeStatusErr{code: 503}).Once()
	ok, err := c.SendAlert(context.Background(), "42", s.record(), "en", nil)
	s.Require().NoError(err)
	s.Require().False(ok)
	s.Require().Len(r.ops, 1)

	// still failing: the error goes back to the retry manager
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(false, &fakeStatusErr{code: 429}).Once()
	s.Require().Error(r.ops[0](context.Background()))

	// not delivered without an error is still a failure
	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(false, nil).Once()
	s.Require().Error(r.ops[0](context.Background()))

	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(true, nil).Once()
	s.Require().NoError(r.ops[0](context.Background()))

	s.Require().Equal([]string{messages.OutcomeRetryScheduled, messages.OutcomeRetrySucceeded}, s.pub.outcomes())
	s.Require().Equal("outcomes", s.pub.topics[1])
}

func (s *CoordinatorSuite) TestRetryOperationPermanentUnlinks() {
	r := &capturingRetrier{}
	c := NewCoordinator(nil, s.sender, s.links, r)

	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(false, errors.New("ECONNRESET")).Once()
	_, err := c.SendAlert(context.Background(), "42", s.record(), "en", nil)
	s.Require().NoError(err)

	s.sender.On("SendMessageToUser", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(false, errors.New("Forbidden: bot was blocked by the user")).Once()
	s.links.On("RemoveLink", mock.Anything, "42").Return(nil).Once()

	s.Require().NoError(r.ops[0](context.Background()))
	s.links.AssertNumberOfCalls(s.T(), "RemoveLink", 1)
}

func (s *CoordinatorSuite) TestHandleRetryDropped() {
	s.c.HandleRetryDropped(retry.DroppedEntry{
		ID:        "telegram-alert-42-1700000000000",
		Attempts:  3,
		LastError: errors.New("ETIMEDOUT"),
	})

	s.Require().Len(s.pub.events, 1)
	ev := s.pub.events[0]
	s.Require().Equal(messages.OutcomeRetryDropped, ev.Outcome)
	s.Require().Equal("42", ev.UserID)
	s.Require().NotNil(ev.Error)
	s.Require().Equal("ETIMEDOUT", *ev.Error)
}

type fakeStatusErr struct{ code int }

func (e *fakeStatusErr) Error() string   { return "bot api error" }
func (e *fakeStatusErr) StatusCode() int { return e.code }

func TestUserFromRetryID(t *testing.T) {
	cases := map[string]string{
		"telegram-alert-42-1700000000000":  "42",
		"telegram-alert-a-b-1700000000000": "a-b",
		"telegram-alert-solo":              "solo",
		"other-42-1700000000000":           "",
	}
	for id, want := range cases {
		if got := userFromRetryID(id); got != want {
			t.Errorf("userFromRetryID(%q) = %q, want %q", id, got, want)
		}
	}
}
