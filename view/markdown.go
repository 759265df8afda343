// Package view projects accumulated analysis text into renderable structure
// and renders sessions as HTML components.
package view

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// BlockKind identifies a top-level block of projected text
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockList
)

// SpanKind identifies inline formatting
type SpanKind int

const (
	SpanText SpanKind = iota
	SpanBold
	SpanItalic
)

// Span is a run of inline text with one formatting kind
type Span struct {
	Kind SpanKind
	Text string
}

// Block is a heading, paragraph, or list. Headings and paragraphs carry
// Spans; lists carry one span slice per item.
type Block struct {
	Kind    BlockKind
	Level   int
	Ordered bool
	Spans   []Span
	Items   [][]Span
}

var (
	headingPattern   = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	bulletPattern    = regexp.MustCompile(`^\s*[-*+•]\s+(.*)$`)
	orderedPattern   = regexp.MustCompile(`^\s*\d{1,3}[.)]\s+(.*)$`)
	jsonFenceOpening = regexp.MustCompile("(?m)^[ \t]*```[ \t]*(json|JSON)?[ \t]*$")
)

// StripMachineBlocks removes structured JSON the model appends after its
// prose: trailing ```json fences, including one still being streamed, and
// a trailing bare JSON object. Anything else is returned untouched.
func StripMachineBlocks(text string) string {
	for {
		trimmed := strings.TrimRight(text, " \t\r\n")
		next := stripTrailingFence(trimmed)
		if next == trimmed {
			next = stripTrailingObject(trimmed)
		}
		if next == trimmed {
			return trimmed
		}
		text = next
	}
}

// stripTrailingFence drops the last fenced block when it holds JSON, or when
// a json fence was opened and never closed
func stripTrailingFence(text string) string {
	openings := jsonFenceOpening.FindAllStringSubmatchIndex(text, -1)
	if len(openings) == 0 {
		return text
	}

	if strings.HasSuffix(text, "```") && len(openings) >= 2 {
		open := openings[len(openings)-2]
		closing := openings[len(openings)-1]
		body := text[open[1]:closing[0]]
		if closing[1] == len(text) && gjson.Valid(strings.TrimSpace(body)) {
			return text[:open[0]]
		}
		return text
	}

	last := openings[len(openings)-1]
	if last[2] >= 0 && countFences(text[:last[0]])%2 == 0 {
		// unterminated json fence, still streaming
		return text[:last[0]]
	}
	return text
}

func countFences(text string) int {
	return len(jsonFenceOpening.FindAllStringIndex(text, -1))
}

// stripTrailingObject drops a bare JSON object, or an array of objects, that
// starts a line and runs to the end of the text. Other JSON values such as a
// "[1]" citation line are prose.
func stripTrailingObject(text string) string {
	if !strings.HasSuffix(text, "}") && !strings.HasSuffix(text, "]") {
		return text
	}
	for i := 0; i < len(text); i++ {
		if i > 0 && text[i-1] != '\n' {
			continue
		}
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		if isMachineJSON(text[i:]) {
			return text[:i]
		}
	}
	return text
}

func isMachineJSON(text string) bool {
	if !gjson.Valid(text) {
		return false
	}
	value := gjson.Parse(text)
	if value.IsObject() {
		return true
	}
	if !value.IsArray() {
		return false
	}
	items := value.Array()
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.IsObject() {
			return false
		}
	}
	return true
}

// Parse segments text into blocks. Input that does not look like markdown
// comes back as plain paragraphs; Parse never fails.
func Parse(text string) []Block {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		blocks    []Block
		paragraph []string
		list      *Block
	)

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		blocks = append(blocks, Block{
			Kind:  BlockParagraph,
			Spans: ParseInline(strings.Join(paragraph, " ")),
		})
		paragraph = nil
	}
	flushList := func() {
		if list == nil {
			return
		}
		blocks = append(blocks, *list)
		list = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isFenceLine(trimmed) {
			flushParagraph()
			flushList()
			continue
		}

		if m := headingPattern.FindStringSubmatch(trimmed); m != nil {
			flushParagraph()
			flushList()
			blocks = append(blocks, Block{
				Kind:  BlockHeading,
				Level: len(m[1]),
				Spans: ParseInline(m[2]),
			})
			continue
		}

		if item, ordered, ok := listItem(line); ok {
			flushParagraph()
			if list != nil && list.Ordered != ordered {
				flushList()
			}
			if list == nil {
				list = &Block{Kind: BlockList, Ordered: ordered}
			}
			list.Items = append(list.Items, ParseInline(item))
			continue
		}

		if list != nil && len(list.Items) > 0 && startsIndented(line) {
			// continuation of the previous item
			last := len(list.Items) - 1
			list.Items[last] = append(list.Items[last], Span{Kind: SpanText, Text: " "})
			list.Items[last] = mergeText(append(list.Items[last], ParseInline(trimmed)...))
			continue
		}

		flushList()
		paragraph = append(paragraph, trimmed)
	}

	flushParagraph()
	flushList()
	return blocks
}

func listItem(line string) (string, bool, bool) {
	if m := bulletPattern.FindStringSubmatch(line); m != nil {
		return m[1], false, true
	}
	if m := orderedPattern.FindStringSubmatch(line); m != nil {
		return m[1], true, true
	}
	return "", false, false
}

func isFenceLine(line string) bool {
	return strings.HasPrefix(line, "```")
}

func startsIndented(line string) bool {
	return strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t")
}

// ParseInline splits one line into text, bold and italic spans. Markers
// without a partner are kept as literal text.
func ParseInline(line string) []Span {
	var spans []Span
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			spans = append(spans, Span{Kind: SpanText, Text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(line); {
		if marker, kind, ok := openingMarker(line, i); ok {
			if end := closingMarker(line, i+len(marker), marker); end > 0 {
				flush()
				spans = append(spans, Span{Kind: kind, Text: line[i+len(marker) : end]})
				i = end + len(marker)
				continue
			}
		}
		text.WriteByte(line[i])
		i++
	}

	flush()
	return mergeText(spans)
}

func openingMarker(line string, i int) (string, SpanKind, bool) {
	rest := line[i:]
	switch {
	case strings.HasPrefix(rest, "**"):
		return "**", SpanBold, true
	case strings.HasPrefix(rest, "__") && wordBoundaryBefore(line, i):
		return "__", SpanBold, true
	case strings.HasPrefix(rest, "*"):
		return "*", SpanItalic, true
	case strings.HasPrefix(rest, "_") && wordBoundaryBefore(line, i):
		return "_", SpanItalic, true
	}
	return "", SpanText, false
}

// closingMarker returns the index of the marker closing a span that opened
// at from, or -1. Spans must be non-empty and must not start or end with a
// space.
func closingMarker(line string, from int, marker string) int {
	if from >= len(line) || line[from] == ' ' {
		return -1
	}
	for j := from + 1; j+len(marker) <= len(line); j++ {
		if line[j:j+len(marker)] != marker || line[j-1] == ' ' {
			continue
		}
		if len(marker) == 1 && j+1 < len(line) && line[j+1] == marker[0] {
			// part of a double marker
			j++
			continue
		}
		if marker[0] == '_' && !wordBoundaryAfter(line, j+len(marker)) {
			continue
		}
		return j
	}
	return -1
}

func wordBoundaryBefore(line string, i int) bool {
	return i == 0 || !isWordByte(line[i-1])
}

func wordBoundaryAfter(line string, i int) bool {
	return i >= len(line) || !isWordByte(line[i])
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// mergeText joins adjacent text spans
func mergeText(spans []Span) []Span {
	out := spans[:0:0]
	for _, s := range spans {
		if s.Text == "" {
			continue
		}
		if n := len(out); n > 0 && s.Kind == SpanText && out[n-1].Kind == SpanText {
			out[n-1].Text += s.Text
			continue
		}
		out = append(out, s)
	}
	return out
}

// PlainText flattens spans, dropping formatting
func PlainText(spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}
