package types

import (
	"time"
	"unicode/utf8"
)

type MessageKind string

const (
	KindText   MessageKind = "TEXT"
	KindSystem MessageKind = "SYSTEM"
)

const (
	MaxMessageLength = 2000
	maxEmojiBytes    = 16
)

// Format carries the optional formatting flags attached to a message body.
type Format struct {
	Bold   bool `json:"bold,omitempty" mapstructure:"bold"`
	Italic bool `json:"italic,omitempty" mapstructure:"italic"`
	Code   bool `json:"code,omitempty" mapstructure:"code"`
	Link   bool `json:"link,omitempty" mapstructure:"link"`
}

func (f *Format) IsZero() bool {
	return f == nil || *f == Format{}
}

// ChatMessage is the durable message shape. It is created only by the message pipeline; after creation only
// its reactions change.
type ChatMessage struct {
	Id         string      `json:"id"`
	RoomId     string      `json:"roomId"`
	SenderId   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	SenderRole Role        `json:"senderRole"`
	Message    string      `json:"message"`
	Format     *Format     `json:"format,omitempty"`
	Kind       MessageKind `json:"kind"`
	CreatedAt  time.Time   `json:"createdAt"`
	Reactions  Reactions   `json:"reactions"`
}

// ValidEmoji checks the reaction key: non-blank, short, valid UTF-8.
func ValidEmoji(emoji string) bool {
	if emoji == "" || len(emoji) > maxEmojiBytes || !utf8.ValidString(emoji) {
		return false
	}
	for _, r := range emoji {
		if r != ' ' && r != '\t' && r != '\n' {
			return true
		}
	}
	return false
}
