// Package bot — client.go wraps the telego API calls the rest of the bot
// needs: sending messages and media, membership checks and file URLs.
package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"serotonyl.ru/filegate-bot/internal/events"
)

// Client sends events.Message values through the Bot API.
type Client struct {
	api *telego.Bot
}

// NewClient wraps api.
func NewClient(api *telego.Bot) *Client {
	return &Client{api: api}
}

// Send delivers one message. With Media set the media is sent and Text is
// its caption.
func (c *Client) Send(ctx context.Context, msg events.Message) error {
	if msg.Media != nil {
		d := *msg.Media
		d.ChatID = msg.ChatID
		if msg.Text != "" {
			d.Caption = msg.Text
		}
		return c.deliver(ctx, &d, msg.Keyboard, telego.ModeHTML)
	}

	params := tu.Message(tu.ID(msg.ChatID), msg.Text).WithParseMode(telego.ModeHTML)
	if kb := keyboard(msg.Keyboard); kb != nil {
		params = params.WithReplyMarkup(kb)
	}
	_, err := c.api.SendMessage(ctx, params)
	return err
}

// Deliver sends a content item. Captions are user text and go out without
// parse mode.
func (c *Client) Deliver(ctx context.Context, d *events.Delivery) error {
	return c.deliver(ctx, d, nil, "")
}

func (c *Client) deliver(ctx context.Context, d *events.Delivery, rows [][]events.Button, parseMode string) error {
	chat := tu.ID(d.ChatID)
	kb := keyboard(rows)
	file := tu.FileFromID(d.PayloadRef)

	var err error
	switch d.Kind {
	case events.KindDocument:
		p := tu.Document(chat, file).WithCaption(d.Caption).WithParseMode(parseMode)
		if kb != nil {
			p = p.WithReplyMarkup(kb)
		}
		_, err = c.api.SendDocument(ctx, p)
	case events.KindPhoto:
		p := tu.Photo(chat, file).WithCaption(d.Caption).WithParseMode(parseMode)
		if kb != nil {
			p = p.WithReplyMarkup(kb)
		}
		_, err = c.api.SendPhoto(ctx, p)
	case events.KindVideo:
		p := tu.Video(chat, file).WithCaption(d.Caption).WithParseMode(parseMode)
		if kb != nil {
			p = p.WithReplyMarkup(kb)
		}
		_, err = c.api.SendVideo(ctx, p)
	case events.KindAudio:
		p := tu.Audio(chat, file).WithCaption(d.Caption).WithParseMode(parseMode)
		if kb != nil {
			p = p.WithReplyMarkup(kb)
		}
		_, err = c.api.SendAudio(ctx, p)
	case events.KindVoice:
		p := tu.Voice(chat, file).WithCaption(d.Caption).WithParseMode(parseMode)
		if kb != nil {
			p = p.WithReplyMarkup(kb)
		}
		_, err = c.api.SendVoice(ctx, p)
	case events.KindText, events.KindLink:
		text := d.Caption
		if text == "" {
			text = d.PayloadRef
		}
		p := tu.Message(chat, text).WithParseMode(parseMode)
		if kb != nil {
			p = p.WithReplyMarkup(kb)
		}
		_, err = c.api.SendMessage(ctx, p)
	default:
		return fmt.Errorf("unsupported delivery kind %q", d.Kind)
	}
	return err
}

// IsMember reports whether userID is a member of chatID.
func (c *Client) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	m, err := c.api.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	})
	if err != nil {
		return false, err
	}
	switch m.MemberStatus() {
	case telego.MemberStatusCreator, telego.MemberStatusAdministrator,
		telego.MemberStatusMember, telego.MemberStatusRestricted:
		return true, nil
	}
	return false, nil
}

// FileURL resolves a file_id to a temporary download URL.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	f, err := c.api.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", err
	}
	return c.api.FileDownloadURL(f.FilePath), nil
}

// AnswerCallback shows text as a toast, or just stops the button spinner.
func (c *Client) AnswerCallback(ctx context.Context, queryID, text string) error {
	p := tu.CallbackQuery(queryID)
	if text != "" {
		p = p.WithText(text)
	}
	return c.api.AnswerCallbackQuery(ctx, p)
}

func keyboard(rows [][]events.Button) *telego.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]telego.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btn := tu.InlineKeyboardButton(b.Text)
			if b.URL != "" {
				btn = btn.WithURL(b.URL)
			} else {
				btn = btn.WithCallbackData(b.Data)
			}
			r = append(r, btn)
		}
		out = append(out, tu.InlineKeyboardRow(r...))
	}
	if len(out) == 0 {
		return nil
	}
	return tu.InlineKeyboard(out...)
}
