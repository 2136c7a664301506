package handlers

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pawpal-relay/internal/suggest"
)

const pickCallbackPrefix = "pick"

func pickPrefix(gen uint64) string {
	return pickCallbackPrefix + ":" + strconv.FormatUint(gen, 10)
}

// parsePick decodes "pick:<generation>:<index>".
func parsePick(data string) (gen uint64, idx int, ok bool) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) != 3 || parts[0] != pickCallbackPrefix {
		return 0, 0, false
	}
	gen, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	idx, err = strconv.Atoi(parts[2])
	if err != nil || idx < 0 {
		return 0, 0, false
	}
	return gen, idx, true
}

func (h *Handler) handleCallback(q *tgbotapi.CallbackQuery) error {
	if q.Message == nil || q.Message.Chat == nil || q.From == nil {
		return nil
	}

	gen, idx, ok := parsePick(q.Data)
	if !ok {
		return h.tg.AnswerCallback(q.ID, "", false)
	}

	key := suggest.Key{ChatID: q.Message.Chat.ID, UserID: q.From.ID}
	text, ok := h.tracker.Pick(key, gen, idx)
	if !ok {
		return h.tg.AnswerCallback(q.ID, "This list is outdated.", false)
	}

	if err := h.tg.AnswerCallback(q.ID, "", false); err != nil {
		h.logger.Debug().Err(err).Msg("answer callback failed")
	}
	return h.tg.SendText(key.ChatID, text)
}
