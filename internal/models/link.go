package models

import "time"

// Link связывает пользователя Telegram с автомобилем.
// UserID это Telegram user id, для приватного чата он же chat_id.
type Link struct {
	UserID      string    `json:"user_id"`
	VIN         string    `json:"vin"`
	Locale      string    `json:"locale"`
	DisplayName *string   `json:"display_name,omitempty"`
	LinkedAt    time.Time `json:"linked_at"`
}
