package textnorm

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/kyokomi/emoji/v2"
)

const variationSelector16 = "\ufe0f"

var (
	emojiOnce     sync.Once
	emojiReplacer *strings.Replacer
)

// ReplaceEmoji rewrites every standard Unicode emoji sequence in s as its :shortcode:.
// The longest sequence wins, so skin tones and ZWJ families map to their own codes.
func ReplaceEmoji(s string) string {
	if isASCII(s) {
		return s
	}
	emojiOnce.Do(buildEmojiReplacer)
	return emojiReplacer.Replace(s)
}

func buildEmojiReplacer() {
	codes := make(map[string]string)
	for seq, aliases := range emoji.RevCodeMap() {
		if len(aliases) == 0 || isASCII(seq) {
			continue
		}
		codes[seq] = aliases[0]
	}
	// Clients commonly send text-presentation forms without VS16; map them too.
	bare := make(map[string]string)
	for seq, code := range codes {
		trimmed := strings.TrimSuffix(seq, variationSelector16)
		if trimmed == seq || trimmed == "" || isASCII(trimmed) {
			continue
		}
		if _, ok := codes[trimmed]; !ok {
			bare[trimmed] = code
		}
	}
	for seq, code := range bare {
		codes[seq] = code
	}

	seqs := make([]string, 0, len(codes))
	for seq := range codes {
		seqs = append(seqs, seq)
	}
	// strings.Replacer prefers earlier pairs at the same position: longest first,
	// then lexical for a deterministic table.
	sort.Slice(seqs, func(i, j int) bool {
		if len(seqs[i]) != len(seqs[j]) {
			return len(seqs[i]) > len(seqs[j])
		}
		return seqs[i] < seqs[j]
	})

	pairs := make([]string, 0, len(seqs)*2)
	for _, seq := range seqs {
		pairs = append(pairs, seq, codes[seq])
	}
	emojiReplacer = strings.NewReplacer(pairs...)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
