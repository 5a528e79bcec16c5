package voice

import (
	"regexp"
	"strings"
	"unicode"
)

type speechRule struct {
	pattern *regexp.Regexp
	repl    string
}

// Applied in order to the whole reply before it is split into lines.
var speechRules = []speechRule{
	{regexp.MustCompile("(?s)```.*?```"), "\n"},
	{regexp.MustCompile("`([^`]*)`"), "$1"},
	{regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
	{regexp.MustCompile(`\s&\s`), " and "},
}

// Bullets and numbered list markers at the start of a line.
var listMarkerPattern = regexp.MustCompile(`^(?:[-*+\x{2022}]|\d{1,2}[.)])\s+`)

var markupReplacer = strings.NewReplacer(
	"*", " ", "_", " ", "#", " ", "~", " ",
	"|", " ", "/", " ", "\\", " ", "<", " ", ">", " ",
)

// SpeechText turns a chat reply into text suitable for synthesis. Markdown,
// links, quotes and emoji are dropped, and each list item or line becomes
// its own sentence so the voice pauses between them.
func SpeechText(raw string) string {
	for _, rule := range speechRules {
		raw = rule.pattern.ReplaceAllString(raw, rule.repl)
	}

	var sentences []string
	for _, line := range strings.Split(raw, "\n") {
		line = listMarkerPattern.ReplaceAllString(strings.TrimSpace(line), "")
		line = speakable(markupReplacer.Replace(line))
		if !strings.ContainsFunc(line, isWordRune) {
			continue
		}
		if !strings.ContainsRune(".!?:;,", rune(line[len(line)-1])) {
			line += "."
		}
		sentences = append(sentences, line)
	}
	return strings.Join(sentences, " ")
}

// speakable keeps letters, digits and the punctuation a voice can render,
// collapsing everything else into single spaces.
func speakable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	gap := func() {
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	for _, r := range s {
		switch {
		case r == '"' || r == '\u201c' || r == '\u201d' || r == '\u00ab' || r == '\u00bb':
			continue
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			gap()
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			continue
		case strings.ContainsRune(".,!?:;'-()", r):
			b.WriteRune(r)
			space = false
		case unicode.IsPunct(r):
			gap()
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
