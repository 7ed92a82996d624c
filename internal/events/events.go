// Package events describes what the bot receives and what it answers,
// independent of the Telegram library. The transport converts updates into
// Event values and turns Result values back into API calls.
package events

import "strings"

// Type of an inbound event.
type Type string

const (
	TypeMessage    Type = "message"
	TypeCommand    Type = "command"
	TypeCallback   Type = "callback"
	TypeAttachment Type = "attachment"
)

// Kind of content an attachment or a content item carries.
type Kind string

const (
	KindText     Kind = "text"
	KindDocument Kind = "document"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindVoice    Kind = "voice"
	KindLink     Kind = "link"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindDocument, KindPhoto, KindVideo, KindAudio, KindVoice, KindLink:
		return true
	}
	return false
}

// IsMedia reports whether k is delivered by file reference.
func (k Kind) IsMedia() bool {
	switch k {
	case KindDocument, KindPhoto, KindVideo, KindAudio, KindVoice:
		return true
	}
	return false
}

// Attachment is a file sent by the user.
type Attachment struct {
	Kind       Kind
	PayloadRef string // Telegram file_id
	FileName   string
}

// Event is one inbound update.
type Event struct {
	SenderID   int64
	SenderName string
	ChatID     int64
	Type       Type

	Text    string   // message text or caption
	Command string   // lower-cased command without prefix, for TypeCommand
	Args    []string // command arguments

	Attachment   *Attachment
	CallbackData string
}

// Arg returns the i-th command argument or "".
func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return e.Args[i]
}

// CallbackArg splits callback data "action:arg" and returns arg when the
// action matches.
func (e Event) CallbackArg(action string) (string, bool) {
	p := action + ":"
	if !strings.HasPrefix(e.CallbackData, p) {
		return "", false
	}
	return strings.TrimPrefix(e.CallbackData, p), true
}

// Button of an inline keyboard. Either Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Btn creates a callback button.
func Btn(text, data string) Button { return Button{Text: text, Data: data} }

// LinkBtn creates a URL button.
func LinkBtn(text, url string) Button { return Button{Text: text, URL: url} }

// Row groups buttons into one keyboard row.
func Row(b ...Button) []Button { return b }

// Message is one outbound message. With Media set, the media is sent and
// Text becomes its caption.
type Message struct {
	// ChatID 0 means "reply to the sender".
	ChatID   int64
	Text     string
	Keyboard [][]Button
	Media    *Delivery
}

// Delivery sends content by reference.
type Delivery struct {
	ChatID     int64
	Kind       Kind
	PayloadRef string
	FileName   string
	Caption    string
}

// Result is everything the bot sends in response to one Event.
type Result struct {
	Messages []Message
	Deliver  *Delivery
	// CallbackText is shown as a toast when answering a callback query.
	CallbackText string
}

// Reply builds a Result with a single message to the sender.
func Reply(text string, keyboard ...[]Button) Result {
	return Result{Messages: []Message{{Text: text, Keyboard: keyboard}}}
}

// Add appends a message to the sender.
func (r Result) Add(text string, keyboard ...[]Button) Result {
	r.Messages = append(r.Messages, Message{Text: text, Keyboard: keyboard})
	return r
}

// Toast sets the callback answer text.
func (r Result) Toast(text string) Result {
	r.CallbackText = text
	return r
}

// Empty reports whether nothing needs to be sent.
func (r Result) Empty() bool {
	return len(r.Messages) == 0 && r.Deliver == nil && r.CallbackText == ""
}
