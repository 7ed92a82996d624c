package bot

import (
	"strings"

	"github.com/mymmrac/telego"

	"serotonyl.ru/filegate-bot/internal/events"
)

// toEvent converts a private message or a callback query. Group messages,
// channel posts and service messages are ignored. queryID is set for
// callbacks so the caller can answer them.
func (b *Bot) toEvent(update telego.Update) (ev events.Event, queryID string, ok bool) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		return events.Event{
			SenderID:     cb.From.ID,
			SenderName:   displayName(cb.From),
			ChatID:       cb.From.ID,
			Type:         events.TypeCallback,
			CallbackData: cb.Data,
		}, cb.ID, true

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat.Type != telego.ChatTypePrivate {
			return events.Event{}, "", false
		}
		ev = events.Event{
			SenderID:   msg.From.ID,
			SenderName: displayName(*msg.From),
			ChatID:     msg.Chat.ID,
			Type:       events.TypeMessage,
			Text:       msg.Text,
		}
		if att := attachmentOf(msg); att != nil {
			ev.Type = events.TypeAttachment
			ev.Attachment = att
			ev.Text = msg.Caption
			return ev, "", true
		}
		if cmd, args, isCommand := b.parser.ParseCommand(msg.Text); isCommand {
			ev.Type = events.TypeCommand
			ev.Command = cmd
			ev.Args = args
		}
		if ev.Text == "" && ev.Type == events.TypeMessage {
			return events.Event{}, "", false
		}
		return ev, "", true
	}
	return events.Event{}, "", false
}

func attachmentOf(msg *telego.Message) *events.Attachment {
	switch {
	case msg.Document != nil:
		return &events.Attachment{Kind: events.KindDocument, PayloadRef: msg.Document.FileID, FileName: msg.Document.FileName}
	case len(msg.Photo) > 0:
		// the last size is the largest
		return &events.Attachment{Kind: events.KindPhoto, PayloadRef: msg.Photo[len(msg.Photo)-1].FileID}
	case msg.Video != nil:
		return &events.Attachment{Kind: events.KindVideo, PayloadRef: msg.Video.FileID, FileName: msg.Video.FileName}
	case msg.Audio != nil:
		return &events.Attachment{Kind: events.KindAudio, PayloadRef: msg.Audio.FileID, FileName: msg.Audio.FileName}
	case msg.Voice != nil:
		return &events.Attachment{Kind: events.KindVoice, PayloadRef: msg.Voice.FileID}
	}
	return nil
}

func displayName(u telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.Username != "" {
		return "@" + u.Username
	}
	return name
}

// CommandParser splits "/cmd@bot arg1 arg2" into a command and arguments.
type CommandParser struct {
	botName string
}

// NewCommandParser creates a parser. Commands addressed to another bot
// ("/cmd@other_bot") are rejected when botName is known.
func NewCommandParser(botName string) *CommandParser {
	return &CommandParser{botName: strings.ToLower(botName)}
}

// ParseCommand reports whether text is a command and returns its parts.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}

	parts := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if name, target, found := strings.Cut(command, "@"); found {
		if p.botName != "" && target != p.botName {
			return "", nil, false
		}
		command = name
	}
	if command == "" {
		return "", nil, false
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
