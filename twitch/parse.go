package twitch

import (
	"strconv"
	"strings"

	"twitch-chat-client/model"
)

// Tags — IRCv3-теги строки. При повторе ключа остаётся последнее значение.
type Tags map[string]string

// Line — строка протокола, разложенная на теги, префикс, команду и параметры.
type Line struct {
	Raw         string
	Tags        Tags
	Prefix      string
	Command     string
	Params      []string
	Trailing    string
	HasTrailing bool
}

// ParseLine раскладывает строку без CR LF. Ошибок не бывает: всё, что не
// удалось распознать, просто остаётся пустым.
func ParseLine(raw string) Line {
	l := Line{Raw: raw}
	s := strings.TrimPrefix(raw, "\uFEFF")

	if strings.HasPrefix(s, "@") {
		block := s[1:]
		s = ""
		if sp := strings.IndexByte(block, ' '); sp >= 0 {
			block, s = block[:sp], block[sp+1:]
		}
		l.Tags = parseTags(block)
	}

	s = strings.TrimLeft(s, " ")
	if strings.HasPrefix(s, ":") {
		l.Prefix, s = cutWord(s[1:])
	}

	s = strings.TrimLeft(s, " ")
	l.Command, s = cutWord(s)
	l.Command = strings.ToUpper(l.Command)

	for {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			break
		}
		if s[0] == ':' {
			l.Trailing = s[1:]
			l.HasTrailing = true
			break
		}
		var p string
		p, s = cutWord(s)
		l.Params = append(l.Params, p)
	}
	return l
}

// Nick возвращает ник из префикса nick!user@host.
func (l Line) Nick() string {
	nick := l.Prefix
	if i := strings.IndexAny(nick, "!@"); i >= 0 {
		nick = nick[:i]
	}
	if strings.Contains(nick, ".") {
		// префикс сервера, а не пользователя
		return ""
	}
	return nick
}

// Channel возвращает первый параметр-канал без '#' в нижнем регистре.
func (l Line) Channel() string {
	for _, p := range l.Params {
		if strings.HasPrefix(p, "#") {
			return NormalizeChannel(p)
		}
	}
	return ""
}

// NormalizeChannel убирает пробелы и '#', приводит к нижнему регистру.
func NormalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

func cutWord(s string) (word, rest string) {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func parseTags(block string) Tags {
	tags := make(Tags)
	for _, kv := range strings.Split(block, ";") {
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			continue
		}
		tags[kv[:eq]] = unescapeTag(kv[eq+1:])
	}
	return tags
}

var tagUnescaper = strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")

func unescapeTag(v string) string {
	if strings.IndexByte(v, '\\') < 0 {
		return v
	}
	return tagUnescaper.Replace(v)
}

// flag разбирает булев тег: истина, если значение является числом больше нуля.
func flag(v string) (bool, bool) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return false, false
	}
	return n > 0, true
}

// applyRoomState переносит в state только пришедшие поля ROOMSTATE.
// Нечисловые значения пропускаются, остальные поля не трогаются.
func applyRoomState(state *model.RoomState, tags Tags) {
	for key, value := range tags {
		switch key {
		case "broadcaster-lang":
			state.BroadcasterLang = value
		case "emote-only":
			if v, ok := flag(value); ok {
				state.EmoteOnly = v
			}
		case "r9k":
			if v, ok := flag(value); ok {
				state.R9K = v
			}
		case "subs-only":
			if v, ok := flag(value); ok {
				state.SubsOnly = v
			}
		case "followers-only":
			if n, err := strconv.Atoi(value); err == nil {
				state.FollowersOnly = n
			}
		case "slow":
			if n, err := strconv.Atoi(value); err == nil {
				state.SlowMode = n
			}
		case "room-id":
			state.RoomID = value
		}
	}
}

// parseBadges разбирает значение тега badges: name/version через запятую.
// Пары с нечисловой или отрицательной версией пропускаются.
func parseBadges(value string) []model.Badge {
	if value == "" {
		return nil
	}
	var badges []model.Badge
	for _, item := range strings.Split(value, ",") {
		name, ver, ok := strings.Cut(item, "/")
		if !ok || name == "" {
			continue
		}
		v, err := strconv.Atoi(ver)
		if err != nil || v < 0 {
			continue
		}
		badges = append(badges, model.Badge{Name: name, Version: v})
	}
	return badges
}

// buildUser собирает ChatUser из тегов кадра. nick используется, если
// display-name пуст.
func buildUser(tags Tags, nick string) model.ChatUser {
	u := model.ChatUser{Badges: parseBadges(tags["badges"])}
	for _, b := range u.Badges {
		switch b.Name {
		case "broadcaster":
			u.IsBroadcaster = true
		case "vip":
			u.IsVIP = true
		}
	}

	for key, value := range tags {
		switch key {
		case "color":
			u.Color = value
		case "display-name":
			u.DisplayName = value
		case "mod":
			if v, ok := flag(value); ok {
				u.IsMod = v
			}
		case "subscriber":
			if v, ok := flag(value); ok {
				u.IsSubscriber = v
			}
		case "user-id":
			u.UserID = value
		}
	}

	if u.DisplayName == "" {
		u.DisplayName = nick
	}
	return u
}

// userKey возвращает ключ кеша для ещё не собранного пользователя.
func userKey(tags Tags, nick string) string {
	if id := tags["user-id"]; id != "" {
		return id
	}
	if name := tags["display-name"]; name != "" {
		return strings.ToLower(name)
	}
	return strings.ToLower(nick)
}

const actionPrefix = "\x01ACTION "

// splitAction снимает CTCP-обёртку /me.
func splitAction(content string) (string, bool) {
	if strings.HasPrefix(content, actionPrefix) && strings.HasSuffix(content, "\x01") && len(content) > len(actionPrefix) {
		return content[len(actionPrefix) : len(content)-1], true
	}
	return content, false
}
