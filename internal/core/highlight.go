package core

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/CeliaPro/ysm2-sub000/internal/utils"
)

// HighlightDiff renders newText with word-level changes against oldText
// marked inline: removed words as [-old-], inserted words as {+new+}.
// Words are aligned with difflib's SequenceMatcher; spacing and
// punctuation are taken from newText.
func HighlightDiff(oldText, newText string) string {
	a := utils.Tokenize(oldText)
	b := utils.Tokenize(newText)
	if len(a) == 0 && len(b) == 0 {
		return newText
	}

	matcher := difflib.NewMatcher(termsOf(a), termsOf(b))

	var out strings.Builder
	cursor := 0
	gapTo := func(pos int) {
		if pos > cursor {
			out.WriteString(newText[cursor:pos])
			cursor = pos
		}
	}

	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			end := b[op.J2-1].End
			out.WriteString(newText[cursor:end])
			cursor = end
		case 'd':
			if op.J1 < len(b) {
				gapTo(b[op.J1].Start)
			} else if cursor > 0 {
				out.WriteByte(' ')
			}
			out.WriteString("[-" + oldText[a[op.I1].Start:a[op.I2-1].End] + "-]")
			if op.J1 < len(b) {
				out.WriteByte(' ')
			}
		case 'i':
			gapTo(b[op.J1].Start)
			end := b[op.J2-1].End
			out.WriteString("{+" + newText[b[op.J1].Start:end] + "+}")
			cursor = end
		case 'r':
			gapTo(b[op.J1].Start)
			end := b[op.J2-1].End
			out.WriteString("[-" + oldText[a[op.I1].Start:a[op.I2-1].End] + "-]")
			out.WriteString("{+" + newText[b[op.J1].Start:end] + "+}")
			cursor = end
		}
	}
	out.WriteString(newText[cursor:])
	return out.String()
}

func termsOf(tokens []utils.Token) []string {
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}
