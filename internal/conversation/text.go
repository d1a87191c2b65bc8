package conversation

import "strings"

const (
	DefaultPunctuation       = "；！？。?!.;"
	DefaultSentenceMinLength = 6
)

var pictographRanges = [][2]rune{
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F300, 0x1F5FF}, // symbols and pictographs
	{0x1F680, 0x1F6FF}, // transport and map
	{0x2700, 0x27BF},   // dingbats
	{0x1F1E0, 0x1F1FF}, // regional indicators
}

func isPictograph(r rune) bool {
	for _, rg := range pictographRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

// StripPictographs removes emoji and collapses the whitespace they leave.
// An empty result means there is nothing worth synthesizing.
func StripPictographs(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if isPictograph(r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(cleaned), " ")
}

// segmenter cuts a growing reply into sentences at punctuation. A sentence
// is only cut once it is longer than minLen runes; shorter spans are joined
// with the next one.
type segmenter struct {
	punct  string
	minLen int

	text      []rune
	processed int
}

func newSegmenter(punct string, minLen int) *segmenter {
	if punct == "" {
		punct = DefaultPunctuation
	}
	if minLen < 0 {
		minLen = 0
	}
	return &segmenter{punct: punct, minLen: minLen}
}

// Push appends delta and returns the sentences it completed.
func (s *segmenter) Push(delta string) []string {
	if delta == "" {
		return nil
	}
	s.text = append(s.text, []rune(delta)...)

	var out []string
	begin := s.processed
	for begin < len(s.text) {
		idx := s.nextPunct(begin)
		if idx < 0 {
			break
		}
		if idx-s.processed > s.minLen {
			out = append(out, string(s.text[s.processed:idx+1]))
			s.processed = idx + 1
		}
		begin = idx + 1
	}
	return out
}

// Flush returns whatever has not been emitted yet.
func (s *segmenter) Flush() string {
	if s.processed >= len(s.text) {
		return ""
	}
	rest := string(s.text[s.processed:])
	s.processed = len(s.text)
	return rest
}

func (s *segmenter) nextPunct(from int) int {
	for i := from; i < len(s.text); i++ {
		if strings.ContainsRune(s.punct, s.text[i]) {
			return i
		}
	}
	return -1
}
