package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func FormatSuggestions(title string, suggestions []string) string {
	var b strings.Builder
	if title = strings.TrimSpace(title); title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	for i, s := range suggestions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	if len(suggestions) > 0 {
		b.WriteString("\nTap a number to get that one as its own message.")
	}
	return strings.TrimSpace(b.String())
}

// SuggestionKeyboard returns one numbered button per suggestion. It reports
// false when there is nothing to show or the callback data would not fit.
func SuggestionKeyboard(callbackPrefix string, n int) (tgbotapi.InlineKeyboardMarkup, bool) {
	if n <= 0 || len(callbackPrefix)+1+len(strconv.Itoa(n-1)) > maxCallbackBytes {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i := 0; i < n; i++ {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			strconv.Itoa(i+1),
			callbackPrefix+":"+strconv.Itoa(i),
		))
		if len(row) == buttonsPerRow {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func splitByBytes(text string, maxBytes int) []string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	buf.Grow(maxBytes)

	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}

		if buf.Len() > 0 && buf.Len()+runeBytes > maxBytes {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}

	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

func truncateByBytes(text string, maxBytes int) string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return text
	}

	var buf strings.Builder
	buf.Grow(maxBytes)
	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}
		if buf.Len()+runeBytes > maxBytes {
			break
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
