package notify

import (
	"strconv"
	"strings"
)

// Update is the subset of a Telegram webhook update the agent uses.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is an incoming chat message.
type TelegramMessage struct {
	MessageID      int64            `json:"message_id"`
	From           *User            `json:"from,omitempty"`
	Chat           Chat             `json:"chat"`
	Date           int64            `json:"date"`
	Text           string           `json:"text,omitempty"`
	Caption        string           `json:"caption,omitempty"`
	Photo          []PhotoSize      `json:"photo,omitempty"`
	ReplyToMessage *TelegramMessage `json:"reply_to_message,omitempty"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DisplayName returns "@username" when set, else the full name.
func (u *User) DisplayName() string {
	if u == nil {
		return "unknown"
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Private chat type; groups are "group" or "supergroup".
const ChatPrivate = "private"

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// IDString returns the chat ID in the form the Bot API accepts.
func (c Chat) IDString() string {
	return strconv.FormatInt(c.ID, 10)
}

// PhotoSize is one resolution of an attached photo.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size,omitempty"`
}

// Content returns the text or photo caption of the message.
func (m *TelegramMessage) Content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// LargestPhoto returns the highest resolution attached photo, or nil.
func (m *TelegramMessage) LargestPhoto() *PhotoSize {
	var best *PhotoSize
	for i := range m.Photo {
		p := &m.Photo[i]
		if best == nil || p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// RepliesToBot reports whether m answers a message sent by a bot.
func (m *TelegramMessage) RepliesToBot() bool {
	return m.ReplyToMessage != nil && m.ReplyToMessage.From != nil && m.ReplyToMessage.From.IsBot
}

// Command splits a leading bot command ("/ask@my_bot rest") into the
// command name without the bot suffix and the remaining text. ok is
// false when text does not start with "/".
func Command(text string) (cmd, rest string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", text, false
	}
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head[1:], "@")
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
