// Copyright 2024-2026 Aiku AI

// Package wechatfmt normalizes WeChat message text into plain Unicode text.
package wechatfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	emojiSpanRe = regexp.MustCompile(`<span class="emoji emoji([0-9a-fA-F]+)"></span>`)
	breakRe     = regexp.MustCompile(`(?i)<br\s*/?>`)
	bracketRe   = regexp.MustCompile(`\[[^\[\]]{1,12}\]`)
)

// locationSuffix marks the text form of a shared location.
const locationSuffix = "pictype=location"

// bracketEmoji maps the bracketed emoticon codes WeChat inserts into text.
// Both the Chinese and the English client spellings are listed.
var bracketEmoji = map[string]string{
	"[微笑]": "🙂", "[Smile]": "🙂",
	"[撇嘴]": "😖", "[Grimace]": "😖",
	"[色]": "😍", "[Drool]": "😍",
	"[发呆]": "😳", "[Scowl]": "😳",
	"[得意]": "😎", "[CoolGuy]": "😎",
	"[流泪]": "😭", "[Sob]": "😭",
	"[害羞]": "☺️", "[Shy]": "☺️",
	"[闭嘴]": "🤐", "[Silent]": "🤐",
	"[睡]": "😴", "[Sleep]": "😴",
	"[大哭]": "😣", "[Cry]": "😣",
	"[尴尬]": "😰", "[Awkward]": "😰",
	"[发怒]": "😡", "[Angry]": "😡",
	"[调皮]": "😜", "[Tongue]": "😜",
	"[呲牙]": "😁", "[Grin]": "😁",
	"[惊讶]": "😲", "[Surprise]": "😲",
	"[难过]": "🙁", "[Frown]": "🙁",
	"[囧]": "😨", "[Blush]": "😨",
	"[抓狂]": "😫", "[Scream]": "😫",
	"[吐]": "🤮", "[Puke]": "🤮",
	"[偷笑]": "🤭", "[Chuckle]": "🤭",
	"[愉快]": "😊", "[Joyful]": "😊",
	"[白眼]": "🙄", "[Slight]": "🙄",
	"[傲慢]": "😤", "[Smug]": "😤",
	"[困]": "😪", "[Drowsy]": "😪",
	"[惊恐]": "😱", "[Panic]": "😱",
	"[憨笑]": "😄", "[Laugh]": "😄",
	"[悠闲]": "😌", "[Commando]": "😌",
	"[奋斗]": "💪", "[Determined]": "💪",
	"[咒骂]": "🤬", "[Scold]": "🤬",
	"[疑问]": "❓", "[Shocked]": "❓",
	"[嘘]": "🤫", "[Shhh]": "🤫",
	"[晕]": "😵", "[Dizzy]": "😵",
	"[衰]": "😩", "[Toasted]": "😩",
	"[骷髅]": "💀", "[Skull]": "💀",
	"[敲打]": "🔨", "[Hammer]": "🔨",
	"[再见]": "👋", "[Wave]": "👋",
	"[擦汗]": "😓", "[Speechless]": "😓",
	"[抠鼻]": "🤧", "[NosePick]": "🤧",
	"[鼓掌]": "👏", "[Clap]": "👏",
	"[坏笑]": "😏", "[Trick]": "😏",
	"[哈欠]": "🥱", "[Yawn]": "🥱",
	"[鄙视]": "😒", "[Lookdown]": "😒",
	"[委屈]": "🥺", "[Puling]": "🥺",
	"[亲亲]": "😘", "[Kiss]": "😘",
	"[可怜]": "😟", "[Whimper]": "😟",
	"[笑脸]": "😃", "[Happy]": "😃",
	"[生病]": "😷", "[Sick]": "😷",
	"[脸红]": "😳", "[Flushed]": "😳",
	"[破涕为笑]": "😂", "[Lol]": "😂",
	"[恐惧]": "😨", "[Terror]": "😨",
	"[失望]": "😞", "[LetDown]": "😞",
	"[无语]": "😑", "[Duh]": "😑",
	"[嘿哈]": "😆", "[Hey]": "😆",
	"[捂脸]": "🤦", "[Facepalm]": "🤦",
	"[奸笑]": "😼", "[Smirk]": "😼",
	"[机智]": "🤓", "[Smart]": "🤓",
	"[皱眉]": "😣", "[Concerned]": "😣",
	"[耶]": "✌️", "[Yeah!]": "✌️",
	"[玫瑰]": "🌹", "[Rose]": "🌹",
	"[凋谢]": "🥀", "[Wilt]": "🥀",
	"[爱心]": "❤️", "[Heart]": "❤️",
	"[心碎]": "💔", "[BrokenHeart]": "💔",
	"[蛋糕]": "🎂", "[Cake]": "🎂",
	"[炸弹]": "💣", "[Bomb]": "💣",
	"[便便]": "💩", "[Poop]": "💩",
	"[月亮]": "🌙", "[Moon]": "🌙",
	"[太阳]": "☀️", "[Sun]": "☀️",
	"[拥抱]": "🤗", "[Hug]": "🤗",
	"[强]": "👍", "[ThumbsUp]": "👍",
	"[弱]": "👎", "[ThumbsDown]": "👎",
	"[握手]": "🤝", "[Shake]": "🤝",
	"[胜利]": "✌️", "[Peace]": "✌️",
	"[抱拳]": "🙏", "[Fight]": "🙏",
	"[勾引]": "👉", "[Beckon]": "👉",
	"[拳头]": "✊", "[Fist]": "✊",
	"[OK]": "👌",
	"[合十]": "🙏", "[Worship]": "🙏",
	"[啤酒]": "🍺", "[Beer]": "🍺",
	"[咖啡]": "☕", "[Coffee]": "☕",
	"[红包]": "🧧", "[Packet]": "🧧",
	"[發]": "🀅", "[Rich]": "🀅",
	"[福]": "🧧", "[Blessing]": "🧧",
	"[烟花]": "🎆", "[Fireworks]": "🎆",
	"[爆竹]": "🧨", "[Firecracker]": "🧨",
	"[猪头]": "🐷", "[Pig]": "🐷",
	"[跳跳]": "💃", "[Waddle]": "💃",
	"[发抖]": "🥶", "[Tremble]": "🥶",
	"[转圈]": "💫", "[Twirl]": "💫",
}

// Normalize converts WeChat emoji markup, bracket codes, line breaks and
// HTML entities into plain text.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = emojiSpanRe.ReplaceAllStringFunc(text, func(match string) string {
		code := emojiSpanRe.FindStringSubmatch(match)[1]
		if decoded, ok := decodeCodepoints(code); ok {
			return decoded
		}
		return match
	})
	text = breakRe.ReplaceAllString(text, "\n")
	text = bracketRe.ReplaceAllStringFunc(text, func(match string) string {
		if emoji, ok := bracketEmoji[match]; ok {
			return emoji
		}
		return match
	})
	return html.UnescapeString(text)
}

// decodeCodepoints parses the hex code of an emoji span. Multi-codepoint
// emoji such as flags are concatenated five hex digits at a time.
func decodeCodepoints(code string) (string, bool) {
	if r, ok := parseRune(code); ok {
		return string(r), true
	}
	if len(code)%5 != 0 {
		return "", false
	}
	var sb strings.Builder
	for i := 0; i < len(code); i += 5 {
		r, ok := parseRune(code[i : i+5])
		if !ok {
			return "", false
		}
		sb.WriteRune(r)
	}
	return sb.String(), true
}

func parseRune(hex string) (rune, bool) {
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || n > utf8.MaxRune {
		return 0, false
	}
	r := rune(n)
	return r, utf8.ValidRune(r)
}

// IsLocation reports whether text is the text form of a shared location.
func IsLocation(text string) bool {
	return strings.HasSuffix(text, locationSuffix)
}

// LocationLabel extracts the place name from a shared location text.
func LocationLabel(text string) string {
	first, _, _ := strings.Cut(text, "\n")
	return strings.Replace(first, ":", "", 1)
}
