package twitch

import (
	"strings"

	"twitch-chat-client/model"
)

// ParseEmotes разбирает значение тега emotes вида id:start-end,start-end/id:start-end.
// Группы и диапазоны неверного вида пропускаются, порядок сохраняется.
func ParseEmotes(value string) []model.TwitchEmote {
	value = strings.TrimRight(value, ";/,")
	if value == "" {
		return nil
	}

	var emotes []model.TwitchEmote
	for _, group := range strings.Split(value, "/") {
		id, ranges, ok := strings.Cut(group, ":")
		if !ok || id == "" {
			continue
		}
		var spans []model.EmoteSpan
		for _, r := range strings.Split(ranges, ",") {
			start, end, ok := strings.Cut(r, "-")
			if !ok || !isDigits(start) || !isDigits(end) {
				continue
			}
			spans = append(spans, model.EmoteSpan{Start: start, End: end})
		}
		if len(spans) == 0 {
			continue
		}
		emotes = append(emotes, model.TwitchEmote{ID: id, Spans: spans})
	}
	return emotes
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
