// Package codec encodes and decodes the structured commit messages that
// carry all flowline state: plan commits, task initialization commits, and
// worker progress commits. Decoding is deliberately tolerant — a malformed
// section degrades to a models.ParseWarning rather than aborting the scan of
// an entire branch's history.
package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/harrison/flowline/internal/models"
)

var md = goldmark.New()

// rawSection is one `## Header` block in document order, before any
// known/unknown classification is applied.
type rawSection struct {
	Key    string // header text lowercased with spaces turned into underscores
	Header string // header text verbatim, as it appeared in the message
	Body   string
}

// splitSectionsOrdered breaks a commit message into its `## Header` blocks,
// in the order they appear. A new section starts at each level-2 heading
// line and runs until the next one (or end of message). Heading lines are
// located by walking the goldmark AST rather than testing each line for a
// "##" prefix, so a "##" appearing inside a fenced code block is not
// mistaken for a section boundary.
func splitSectionsOrdered(message string) []rawSection {
	lines := strings.Split(message, "\n")
	source := []byte(message)
	doc := md.Parser().Parse(text.NewReader(source))

	type heading struct {
		lineIdx int
		header  string
	}
	var headings []heading
	offset := 0
	lineStart := make([]int, 0, len(lines))
	for _, l := range lines {
		lineStart = append(lineStart, offset)
		offset += len(l) + 1
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 {
			return ast.WalkContinue, nil
		}
		start := h.Lines().At(0).Start
		lineIdx := lineIndexForOffset(lineStart, start)
		headings = append(headings, heading{lineIdx: lineIdx, header: headingText(h, source)})
		return ast.WalkContinue, nil
	})

	if len(headings) == 0 {
		return nil
	}

	sections := make([]rawSection, 0, len(headings))
	for i, hd := range headings {
		end := len(lines)
		if i+1 < len(headings) {
			end = headings[i+1].lineIdx
		}
		contentLines := lines[min(hd.lineIdx+1, len(lines)):min(end, len(lines))]
		sections = append(sections, rawSection{
			Key:    sectionKey(hd.header),
			Header: hd.header,
			Body:   strings.TrimSpace(strings.Join(contentLines, "\n")),
		})
	}
	return sections
}

// splitSections is splitSectionsOrdered collapsed to a key->body map, for
// callers that only need a known, fixed set of sections by name.
func splitSections(message string) map[string]string {
	ordered := splitSectionsOrdered(message)
	sections := make(map[string]string, len(ordered))
	for _, s := range ordered {
		sections[s.Key] = s.Body
	}
	return sections
}

// unknownSections filters ordered down to the sections whose key is not in
// known, preserving their original order and header text. This is how
// Decode* functions preserve a section they don't recognize so Encode* can
// re-emit it verbatim (forward compatibility with commits written by a
// newer version of the grammar).
func unknownSections(ordered []rawSection, known map[string]bool) []models.RawSection {
	var out []models.RawSection
	for _, s := range ordered {
		if known[s.Key] {
			continue
		}
		out = append(out, models.RawSection{Header: s.Header, Body: s.Body})
	}
	return out
}

// writeUnknownSections re-emits sections preserved by unknownSections,
// each as its own "## Header" block, in their original relative order.
func writeUnknownSections(b *strings.Builder, sections []models.RawSection) {
	for _, s := range sections {
		fmt.Fprintf(b, "## %s\n%s\n\n", s.Header, s.Body)
	}
}

func sectionKey(heading string) string {
	return strings.ToLower(strings.Join(strings.Fields(heading), "_"))
}

func headingText(h *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return buf.String()
}

func lineIndexForOffset(lineStart []int, offset int) int {
	idx := 0
	for i, s := range lineStart {
		if s <= offset {
			idx = i
		} else {
			break
		}
	}
	return idx
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// firstLine returns the text of the message's title line, i.e. everything
// before the first newline.
func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}
