package translator

import (
	"regexp"
	"strings"
)

// Inline reasoning markers some backends embed in ordinary text instead
// of using the reasoning_content side channel.
const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

var collapseNewlines = regexp.MustCompile(`\n\n+`)

// Segment is one classified piece of scanned text.
type Segment struct {
	Thinking bool
	Text     string
}

// ExtractThinking scans a complete string and returns the reasoning
// spans in order plus the residual text with the spans removed. Adjacent
// whitespace left behind by a removed span is collapsed. Text preceding
// an orphaned close marker is kept as plain text.
func ExtractThinking(s string) (spans []string, residual string) {
	var sc ThinkingScanner
	var text strings.Builder
	for _, seg := range append(sc.Scan(s), sc.Flush()...) {
		if seg.Thinking {
			spans = append(spans, seg.Text)
		} else {
			text.WriteString(seg.Text)
		}
	}
	residual = strings.TrimSpace(collapseNewlines.ReplaceAllString(text.String(), "\n"))
	return spans, residual
}

// ThinkingScanner incrementally classifies streamed text into thinking
// and plain-text segments. A marker split across chunk boundaries is
// buffered until the next chunk completes or disproves it. The zero
// value is ready for use; one scanner serves one stream.
type ThinkingScanner struct {
	pending string
}

// Pending returns the currently buffered fragment (a possibly-split
// marker or an unterminated thinking span).
func (sc *ThinkingScanner) Pending() string { return sc.pending }

// Scan consumes one chunk of text and returns the completed segments.
func (sc *ThinkingScanner) Scan(chunk string) []Segment {
	buf := sc.pending + chunk
	sc.pending = ""

	var segs []Segment
	emit := func(thinking bool, text string) {
		if text != "" {
			segs = append(segs, Segment{Thinking: thinking, Text: text})
		}
	}

	for buf != "" {
		start := strings.Index(buf, thinkOpen)
		end := strings.Index(buf, thinkClose)

		if start == -1 && end == -1 {
			// No complete marker. Hold back a trailing fragment that
			// could still become one.
			keep := partialMarkerLen(buf)
			emit(false, buf[:len(buf)-keep])
			sc.pending = buf[len(buf)-keep:]
			return segs
		}

		// Orphaned close marker: everything before it is plain text.
		if end != -1 && (start == -1 || end < start) {
			emit(false, buf[:end])
			buf = buf[end+len(thinkClose):]
			continue
		}

		if end == -1 {
			// Open without close: emit the preceding text, buffer the rest.
			emit(false, buf[:start])
			sc.pending = buf[start:]
			return segs
		}

		emit(false, buf[:start])
		emit(true, buf[start+len(thinkOpen):end])
		buf = buf[end+len(thinkClose):]
	}
	return segs
}

// Flush returns whatever is still buffered as plain text. Called at
// stream end so an unterminated marker is not silently dropped.
func (sc *ThinkingScanner) Flush() []Segment {
	if sc.pending == "" {
		return nil
	}
	seg := Segment{Text: sc.pending}
	sc.pending = ""
	return []Segment{seg}
}

// partialMarkerLen returns the length of the longest suffix of s that is
// a proper prefix of an inline marker, or 0 if the tail cannot extend
// into one.
func partialMarkerLen(s string) int {
	max := len(thinkClose) - 1
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		tail := s[len(s)-n:]
		if strings.HasPrefix(thinkOpen, tail) || strings.HasPrefix(thinkClose, tail) {
			return n
		}
	}
	return 0
}
