package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/relay"
)

const (
	maxMessageBytes  = 4096
	maxCallbackBytes = 200
	buttonsPerRow    = 5

	// Base64 grows a photo by 4/3; this keeps the relay body under 10 MiB.
	maxPhotoBytes = 7 << 20
)

type Options struct {
	Token      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Debug      bool
}

type Client struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, tgbotapi.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	bot.Debug = opts.Debug

	return &Client{
		bot:        bot,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With().Str("mod", "telegram").Logger(),
	}, nil
}

func (c *Client) Username() string {
	return c.bot.Self.UserName
}

type Update = tgbotapi.Update

type UpdatesOptions struct {
	Timeout time.Duration
}

func (c *Client) Updates(opts UpdatesOptions) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	if opts.Timeout > 0 {
		u.Timeout = int(opts.Timeout.Seconds())
	} else {
		u.Timeout = 30
	}
	u.AllowedUpdates = []string{"message", "callback_query"}
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

func (c *Client) SendTyping(chatID int64) {
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		c.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("chat action failed")
	}
}

func (c *Client) SendText(chatID int64, text string) error {
	for _, p := range splitByBytes(text, maxMessageBytes) {
		if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, p)); err != nil {
			return err
		}
	}
	return nil
}

// SendSuggestions posts the numbered list with one button per item. Button
// data is callbackPrefix + ":" + index.
func (c *Client) SendSuggestions(chatID int64, title string, suggestions []string, callbackPrefix string) error {
	msg := tgbotapi.NewMessage(chatID, truncateByBytes(FormatSuggestions(title, suggestions), maxMessageBytes))
	if kb, ok := SuggestionKeyboard(callbackPrefix, len(suggestions)); ok {
		msg.ReplyMarkup = kb
	}
	_, err := c.bot.Send(msg)
	return err
}

func (c *Client) AnswerCallback(callbackID, text string, alert bool) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	_, err := c.bot.Request(cb)
	return err
}

// DownloadPhoto fetches a Telegram file and returns it as a relay image.
func (c *Client) DownloadPhoto(ctx context.Context, fileID string) (*relay.Image, error) {
	const op = "telegram.download"

	fileURL, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, op, "could not look up the photo", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, op, "could not download the photo", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, op, "could not download the photo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, apperr.New(apperr.KindNetwork, op,
			fmt.Sprintf("photo download %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, op, "could not download the photo", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, apperr.New(apperr.KindInput, op, "photo is too large")
	}

	return &relay.Image{
		Base64:   base64.StdEncoding.EncodeToString(data),
		MimeType: detectMimeType(resp.Header.Get("content-type"), data),
	}, nil
}

func detectMimeType(header string, data []byte) string {
	mimeType := stripParams(header)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = stripParams(http.DetectContentType(data))
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = relay.DefaultImageMimeType
	}
	return mimeType
}

func stripParams(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}
