package models

// KeyboardButton is an inline button that opens a URL.
type KeyboardButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Keyboard is an inline keyboard attached to an outgoing message.
type Keyboard struct {
	Rows [][]KeyboardButton `json:"rows"`
}
