package core

import (
	"strings"
)

// DefaultMaxChunkChars bounds a chunk produced by SplitText.
const DefaultMaxChunkChars = 1500

// SplitText cuts a document into paragraph chunks. Paragraphs are separated
// by blank lines; a paragraph longer than maxChars is split at word
// boundaries. Each form feed starts a new page, numbered from 1.
func SplitText(text string, maxChars int) []ChunkInput {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	var chunks []ChunkInput
	for p, page := range strings.Split(text, "\f") {
		pageNumber := p + 1
		for _, para := range splitParagraphs(page) {
			for _, piece := range splitLong(para, maxChars) {
				pn := pageNumber
				chunks = append(chunks, ChunkInput{Text: piece, PageNumber: &pn})
			}
		}
	}
	return chunks
}

func splitParagraphs(page string) []string {
	page = strings.ReplaceAll(page, "\r\n", "\n")
	var paras []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			paras = append(paras, strings.Join(current, "\n"))
			current = current[:0]
		}
	}
	for _, line := range strings.Split(page, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, strings.TrimRight(line, " \t"))
	}
	flush()
	return paras
}

func splitLong(para string, maxChars int) []string {
	if len(para) <= maxChars {
		return []string{para}
	}
	var pieces []string
	var b strings.Builder
	for _, word := range strings.Fields(para) {
		if b.Len() > 0 && b.Len()+1+len(word) > maxChars {
			pieces = append(pieces, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	return pieces
}
