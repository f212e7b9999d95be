package telegram

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/BearBump/SentryBox/internal/models"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Sender: часть Bot API, которой пользуется доставка алертов.
type Sender interface {
	SendMessageToUser(ctx context.Context, userID, text string, kb *models.Keyboard) (bool, error)
}

// APIError carries the Bot API error code next to the original error.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
	err         error
}

func (e *APIError) Error() string { return e.err.Error() }

func (e *APIError) Unwrap() error { return e.err }

func (e *APIError) StatusCode() int { return e.Code }

type Options struct {
	ServerURL   string
	SendTimeout time.Duration
	RPS         int
}

type Client struct {
	b           *bot.Bot
	limiter     *rate.Limiter
	sendTimeout time.Duration
}

func New(token string, opts Options) (*Client, error) {
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 20 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 25
	}

	botOpts := []bot.Option{bot.WithSkipGetMe()}
	if opts.ServerURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(opts.ServerURL))
	}
	b, err := bot.New(token, botOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}

	return &Client{
		b:           b,
		limiter:     rate.NewLimiter(rate.Limit(opts.RPS), opts.RPS),
		sendTimeout: opts.SendTimeout,
	}, nil
}

func (c *Client) SendMessageToUser(ctx context.Context, userID, text string, kb *models.Keyboard) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, errors.Wrap(err, "telegram throttle")
	}

	params := &bot.SendMessageParams{
		ChatID: chatID(userID),
		Text:   text,
	}
	if markup := toMarkup(kb); markup != nil {
		params.ReplyMarkup = markup
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	if _, err := c.b.SendMessage(sendCtx, params); err != nil {
		return false, wrapError(err)
	}
	return true, nil
}

// chatID: числовой id для приватных чатов, иначе строка как есть (@channel).
func chatID(userID string) any {
	if id, err := strconv.ParseInt(userID, 10, 64); err == nil {
		return id
	}
	return userID
}

func toMarkup(kb *models.Keyboard) *tgmodels.InlineKeyboardMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	rows := make([][]tgmodels.InlineKeyboardButton, 0, len(kb.Rows))
	for _, r := range kb.Rows {
		row := make([]tgmodels.InlineKeyboardButton, 0, len(r))
		for _, btn := range r {
			row = append(row, tgmodels.InlineKeyboardButton{Text: btn.Text, URL: btn.URL})
		}
		rows = append(rows, row)
	}
	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// Generic Bot API failures only carry the code inside the message text.
var responseCodeRe = regexp.MustCompile(`, (\d{3}) `)

func wrapError(err error) error {
	var tooMany *bot.TooManyRequestsError
	switch {
	case errors.As(err, &tooMany):
		return &APIError{
			Code:        429,
			Description: tooMany.Message,
			RetryAfter:  time.Duration(tooMany.RetryAfter) * time.Second,
			err:         err,
		}
	case errors.Is(err, bot.ErrorForbidden):
		return &APIError{Code: 403, Description: err.Error(), err: err}
	case errors.Is(err, bot.ErrorBadRequest):
		return &APIError{Code: 400, Description: err.Error(), err: err}
	case errors.Is(err, bot.ErrorUnauthorized):
		return &APIError{Code: 401, Description: err.Error(), err: err}
	case errors.Is(err, bot.ErrorNotFound):
		return &APIError{Code: 404, Description: err.Error(), err: err}
	}
	if m := responseCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &APIError{Code: code, Description: err.Error(), err: err}
	}
	return errors.Wrap(err, "telegram send")
}
