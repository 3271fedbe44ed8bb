package parser

import (
	"fmt"
	"strings"
	"unicode"

	"document-qa/internal/models"
)

// ChunkOptions sizes are counted in characters (runes)
type ChunkOptions struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultChunkOptions returns 1000 character windows overlapping by 200
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{ChunkSize: models.DefaultChunkSize, ChunkOverlap: models.DefaultChunkOverlap}
}

// Segment is one window of the source text. Offset is the rune offset of the
// window start in the source.
type Segment struct {
	Text     string
	Position int
	Offset   int
}

// SplitText cuts text into overlapping windows. Window i starts at
// i*(ChunkSize-ChunkOverlap) and ends at most ChunkSize characters later.
// Inside the overlap region the end moves back to a paragraph break, a
// sentence end or a word boundary, in that order of preference, so
// consecutive windows always share at least one character.
func SplitText(text string, opts ChunkOptions) ([]Segment, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidInput, opts.ChunkSize)
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d",
			models.ErrInvalidInput, opts.ChunkSize, opts.ChunkOverlap)
	}

	content := []rune(text)
	contentLen := len(content)
	if contentLen == 0 {
		return nil, nil
	}
	if contentLen <= opts.ChunkSize {
		return []Segment{{Text: text, Position: 0, Offset: 0}}, nil
	}

	step := opts.ChunkSize - opts.ChunkOverlap
	lookBack := min(opts.ChunkSize/10, opts.ChunkOverlap)

	segments := make([]Segment, 0, (contentLen+step-1)/step)
	for start := 0; start < contentLen; start += step {
		end := min(start+opts.ChunkSize, contentLen)
		if end < contentLen && lookBack > 0 {
			end = naturalBreak(content, end, end-lookBack)
		}
		segments = append(segments, Segment{
			Text:     string(content[start:end]),
			Position: len(segments),
			Offset:   start,
		})
	}
	return segments, nil
}

// naturalBreak returns the best cut in (floor, end], or end for a hard cut
func naturalBreak(content []rune, end, floor int) int {
	for _, isBreak := range []func([]rune, int) bool{isParagraphBreak, isSentenceEnd, isWordBoundary} {
		for i := end; i > floor; i-- {
			if isBreak(content, i) {
				return i
			}
		}
	}
	return end
}

func isParagraphBreak(content []rune, cut int) bool {
	return cut >= 2 && content[cut-1] == '\n' && content[cut-2] == '\n'
}

func isSentenceEnd(content []rune, cut int) bool {
	if cut < 1 {
		return false
	}
	last := content[cut-1]
	if strings.ContainsRune(".!?", last) {
		return true
	}
	return cut >= 2 && unicode.IsSpace(last) && strings.ContainsRune(".!?", content[cut-2])
}

func isWordBoundary(content []rune, cut int) bool {
	return cut >= 1 && unicode.IsSpace(content[cut-1])
}

// Reassemble rebuilds the source text from segments in position order,
// dropping from each segment the prefix already covered by the ones before.
func Reassemble(segments []Segment) string {
	var (
		text    strings.Builder
		covered int
	)
	for _, seg := range segments {
		runes := []rune(seg.Text)
		segEnd := seg.Offset + len(runes)
		if segEnd <= covered {
			continue
		}
		skip := max(covered-seg.Offset, 0)
		text.WriteString(string(runes[skip:]))
		covered = segEnd
	}
	return text.String()
}
