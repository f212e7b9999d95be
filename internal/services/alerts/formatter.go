package alerts

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/BearBump/SentryBox/internal/i18n"
	"github.com/BearBump/SentryBox/internal/models"
)

const defaultDeepLinkBase = "http://localhost:3000"

// Translator отдаёт локализованные строки (i18n.Localizer).
type Translator interface {
	Translate(key, locale string) string
}

// Message is the rendered alert text.
type Message struct {
	Text string
}

// Formatter renders alert messages. It holds no mutable state.
type Formatter struct {
	tr           Translator
	deepLinkBase string
}

func NewFormatter(tr Translator, deepLinkBase string) *Formatter {
	if tr == nil {
		tr = i18n.New()
	}
	deepLinkBase = strings.TrimRight(strings.TrimSpace(deepLinkBase), "/")
	if deepLinkBase == "" {
		deepLinkBase = defaultDeepLinkBase
	}
	return &Formatter{tr: tr, deepLinkBase: deepLinkBase}
}

// Format builds the three-line alert: title, vehicle, call to action.
func (f *Formatter) Format(rec models.TelemetryRecord, locale string) Message {
	locale = i18n.Resolve(locale)

	vehicle := rec.VIN
	if rec.DisplayName != nil && strings.TrimSpace(*rec.DisplayName) != "" {
		vehicle = *rec.DisplayName
	}

	lines := []string{
		f.tr.Translate(i18n.KeyAlertTitle, locale),
		fmt.Sprintf(f.tr.Translate(i18n.KeyAlertVehicle, locale), vehicle),
		f.tr.Translate(i18n.KeyAlertAction, locale),
	}
	return Message{Text: strings.Join(lines, "\n")}
}

// Keyboard returns a single URL button that opens the companion app.
func (f *Formatter) Keyboard(userID, locale string) *models.Keyboard {
	locale = i18n.Resolve(locale)

	return &models.Keyboard{
		Rows: [][]models.KeyboardButton{{
			{
				Text: f.tr.Translate(i18n.KeyOpenApp, locale),
				URL:  f.deepLinkBase + "/open-app?user=" + url.QueryEscape(userID) + "&lang=" + url.QueryEscape(locale),
			},
		}},
	}
}
