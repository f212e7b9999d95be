// Package i18n holds the static message catalog used for alert texts.
package i18n

import (
	"golang.org/x/text/language"
)

const (
	LocaleEN = "en"
	LocaleFR = "fr"

	KeyAlertTitle   = "alert.title"
	KeyAlertVehicle = "alert.vehicle"
	KeyAlertAction  = "alert.action"
	KeyOpenApp      = "alert.open_app"
)

var catalog = map[string]map[string]string{
	LocaleEN: {
		KeyAlertTitle:   "🚨 TESLA SENTRY ALERT 🚨",
		KeyAlertVehicle: "Vehicle: %s",
		KeyAlertAction:  "Open the Tesla app to check your vehicle's surroundings.",
		KeyOpenApp:      "Open Tesla app",
	},
	LocaleFR: {
		KeyAlertTitle:   "🚨 ALERTE SENTINELLE TESLA 🚨",
		KeyAlertVehicle: "Véhicule : %s",
		KeyAlertAction:  "Ouvrez l'application Tesla pour vérifier les alentours de votre véhicule.",
		KeyOpenApp:      "Ouvrir l'app Tesla",
	},
}

var matcher = language.NewMatcher([]language.Tag{
	language.English, // first tag is the fallback
	language.French,
})

// Resolve maps an arbitrary locale string ("fr", "fr-CA", "de", "") onto
// one of the supported catalog locales, falling back to English.
func Resolve(locale string) string {
	if locale == "" {
		return LocaleEN
	}
	_, idx, conf := matcher.Match(language.Make(locale))
	if conf == language.No || idx != 1 {
		return LocaleEN
	}
	return LocaleFR
}

// Localizer translates catalog keys.
type Localizer struct{}

func New() *Localizer { return &Localizer{} }

// Translate returns the message for key in the resolved locale. Unknown keys
// come back verbatim so a missing entry is visible rather than silent.
func (l *Localizer) Translate(key, locale string) string {
	if msg, ok := catalog[Resolve(locale)][key]; ok {
		return msg
	}
	if msg, ok := catalog[LocaleEN][key]; ok {
		return msg
	}
	return key
}
