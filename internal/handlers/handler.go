package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/features"
	"pawpal-relay/internal/mediagroup"
	"pawpal-relay/internal/relay"
	"pawpal-relay/internal/suggest"
)

const defaultPhotoFeature = "caption"

// Messenger is the part of the Telegram client the handler talks to.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendSuggestions(chatID int64, title string, suggestions []string, callbackPrefix string) error
	AnswerCallback(callbackID, text string, alert bool) error
	DownloadPhoto(ctx context.Context, fileID string) (*relay.Image, error)
}

type Suggester interface {
	Suggest(ctx context.Context, req relay.Request) ([]string, error)
}

type Options struct {
	Messenger Messenger
	Suggester Suggester
	Catalog   *features.Catalog
	Tracker   *suggest.Tracker
	Logger    zerolog.Logger
}

type Handler struct {
	tg         Messenger
	relay      Suggester
	catalog    *features.Catalog
	tracker    *suggest.Tracker
	logger     zerolog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	tracker := opts.Tracker
	if tracker == nil {
		tracker = suggest.NewTracker(suggest.Options{})
	}

	return &Handler{
		tg:      opts.Messenger,
		relay:   opts.Suggester,
		catalog: opts.Catalog,
		tracker: tracker,
		logger:  opts.Logger.With().Str("mod", "handlers").Logger(),
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return nil
	}

	msg := update.Message
	key := suggest.Key{ChatID: msg.Chat.ID, UserID: msg.From.ID}

	if msg.IsCommand() {
		return h.handleCommand(ctx, key, msg)
	}
	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, key, msg)
	}
	if text := strings.TrimSpace(msg.Text); text != "" {
		return h.handleText(ctx, key, text)
	}
	return nil
}

// HandleMediaGroup relays the first photo of an album.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	key := suggest.Key{ChatID: group.ChatID, UserID: group.UserID}
	if group.Count > 1 {
		_ = h.tg.SendText(group.ChatID, "I'll use the first photo of the album.")
	}
	if err := h.runPhoto(ctx, key, group.FileID, group.Caption); err != nil {
		h.logger.Error().Err(err).Int64("chat_id", group.ChatID).Msg("album processing failed")
	}
}

func (h *Handler) handleCommand(ctx context.Context, key suggest.Key, msg *tgbotapi.Message) error {
	cmd := strings.ToLower(msg.Command())
	args := strings.TrimSpace(msg.CommandArguments())

	switch cmd {
	case "start":
		return h.tg.SendText(key.ChatID, "🐾 PawPal suggestions\n\n"+
			"Send me a message you received and I'll suggest replies.\n"+
			"Send a photo of your pet and I'll suggest captions.\n\n"+h.commandList())
	case "help":
		return h.tg.SendText(key.ChatID, h.commandList())
	case "clear":
		h.tracker.Clear(key)
		return h.tg.SendText(key.ChatID, "✅ Cleared.")
	}

	f, ok := h.catalog.Get(cmd)
	if !ok {
		return h.tg.SendText(key.ChatID, "Unknown command. Try /help.")
	}

	switch {
	case f.Input == features.InputPhoto:
		h.tracker.SetPending(key, suggest.Pending{Feature: f.Key, Text: args})
		return h.tg.SendText(key.ChatID, fmt.Sprintf("📷 Send a photo for %s.", f.Title))
	case args != "":
		return h.run(ctx, key, f.Key, args, nil)
	case f.Input == features.InputAny:
		h.tracker.SetPending(key, suggest.Pending{Feature: f.Key})
		return h.tg.SendText(key.ChatID, fmt.Sprintf("✍️ Send some text or a photo for %s.", f.Title))
	default:
		h.tracker.SetPending(key, suggest.Pending{Feature: f.Key})
		return h.tg.SendText(key.ChatID, fmt.Sprintf("✍️ Send the text for %s.", f.Title))
	}
}

func (h *Handler) handleText(ctx context.Context, key suggest.Key, text string) error {
	feature := "reply"
	if p, ok := h.tracker.TakePending(key); ok {
		feature = p.Feature
		if f, ok := h.catalog.Get(p.Feature); ok && f.Input == features.InputPhoto {
			h.tracker.SetPending(key, p)
			return h.tg.SendText(key.ChatID, fmt.Sprintf("📷 %s needs a photo.", f.Title))
		}
	}
	return h.run(ctx, key, feature, text, nil)
}

func (h *Handler) handlePhoto(ctx context.Context, key suggest.Key, msg *tgbotapi.Message) error {
	fileID := msg.Photo[len(msg.Photo)-1].FileID

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       key.ChatID,
			UserID:       key.UserID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       fileID,
		})
		return nil
	}

	return h.runPhoto(ctx, key, fileID, msg.Caption)
}

func (h *Handler) runPhoto(ctx context.Context, key suggest.Key, fileID, caption string) error {
	feature := defaultPhotoFeature
	text := strings.TrimSpace(caption)
	if p, ok := h.tracker.TakePending(key); ok {
		feature = p.Feature
		if text == "" {
			text = p.Text
		}
	}

	h.tg.SendTyping(key.ChatID)
	img, err := h.tg.DownloadPhoto(ctx, fileID)
	if err != nil {
		return h.fail(key, err)
	}
	return h.run(ctx, key, feature, text, img)
}

// run relays one request and shows the result unless a newer request for the
// same conversation started meanwhile.
func (h *Handler) run(ctx context.Context, key suggest.Key, feature, text string, img *relay.Image) error {
	req, err := h.catalog.Build(feature, text, img)
	if err != nil {
		return h.fail(key, err)
	}

	ticket := h.tracker.Begin(key, feature)
	h.tg.SendTyping(key.ChatID)

	list, err := h.relay.Suggest(ctx, req)
	if !h.tracker.Current(ticket) {
		h.logger.Debug().Int64("chat_id", key.ChatID).Uint64("gen", ticket.Generation).Msg("dropping stale result")
		return nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return h.fail(key, err)
	}
	if len(list) == 0 {
		return h.tg.SendText(key.ChatID, "⚠️ No suggestions came back. Try rephrasing.")
	}
	if !h.tracker.Commit(ticket, list) {
		return nil
	}

	title := feature
	if f, ok := h.catalog.Get(feature); ok {
		title = f.Title
	}
	return h.tg.SendSuggestions(key.ChatID, title, list, pickPrefix(ticket.Generation))
}

func (h *Handler) fail(key suggest.Key, err error) error {
	kind := apperr.KindOf(err)
	ev := h.logger.Warn()
	if kind == apperr.KindConfig || kind == apperr.KindUnknown {
		ev = h.logger.Error()
	}
	ev.Err(err).Str("kind", string(kind)).Int64("chat_id", key.ChatID).Msg("suggestion failed")

	return h.tg.SendText(key.ChatID, "⚠️ "+apperr.UserMessage(err))
}

func (h *Handler) commandList() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, f := range h.catalog.List() {
		fmt.Fprintf(&b, "/%s - %s\n", f.Key, f.Description)
	}
	b.WriteString("/clear - forget the last suggestions\n")
	b.WriteString("/help - this list")
	return b.String()
}
