package transcribe

import (
	"strings"
	"unicode/utf8"
)

const terminalMarks = "。！？，、；："

var interrogativePrefixes = []string{"什么", "怎么", "为什么", "哪里", "哪个", "如何", "是否", "能否", "可以", "会不会"}

// Punctuate trims an utterance and closes it with ？ or 。 when it has no
// trailing mark. The result is prefixed with one space, ready to append to a
// running transcript. Blank input yields "".
func Punctuate(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	last, _ := utf8.DecodeLastRuneInString(text)
	if !strings.ContainsRune(terminalMarks, last) {
		if isQuestion(text) {
			text += "？"
		} else {
			text += "。"
		}
	}
	return " " + text
}

func isQuestion(text string) bool {
	if strings.HasSuffix(text, "吗") {
		return true
	}
	lower := strings.ToLower(text)
	for _, p := range interrogativePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
