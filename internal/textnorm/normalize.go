// Package textnorm rewrites message content for clients that cannot render rich tokens.
//
// DESIGN: Normalization is an ordered list of independent substitution passes.
// Order matters because the token patterns overlap ("<@id>" vs "<a:name:id>"):
//
//  1. userMention:    <@ID>          -> @name   (only when ID resolves, else untouched)
//  2. channelMention: <#ID>          -> #name   (only when ID resolves, else untouched)
//  3. customEmoji:    <:n:ID>/<a:n:ID> -> :n:
//  4. unicodeEmoji:   U+1F600        -> :grinning:
//
// IDs are ASCII digit runs of length >= 15. Output escaping to ASCII happens later,
// over the whole JSON payload (see utils.EscapeNonASCII).
package textnorm

import (
	"regexp"
)

// Lookup resolves an id to a display name. *refcache.Cache satisfies it.
type Lookup interface {
	Get(id string) (string, bool)
}

// Kind identifies a substitution pass.
type Kind int

const (
	UserMention Kind = iota
	ChannelMention
	CustomEmoji
	UnicodeEmoji
)

func (k Kind) String() string {
	switch k {
	case UserMention:
		return "user"
	case ChannelMention:
		return "channel"
	case CustomEmoji:
		return "custom_emoji"
	case UnicodeEmoji:
		return "unicode_emoji"
	default:
		return "unknown"
	}
}

// Observer is told whether each mention token resolved. Optional.
type Observer func(kind Kind, resolved bool)

var (
	userMentionRe    = regexp.MustCompile(`<@(\d{15,})>`)
	channelMentionRe = regexp.MustCompile(`<#(\d{15,})>`)
	customEmojiRe    = regexp.MustCompile(`<a?(:\w*:)\d{15,}>`)
)

type pass struct {
	kind  Kind
	apply func(n *Normalizer, s string) string
}

// passes run in this exact order.
var passes = []pass{
	{UserMention, func(n *Normalizer, s string) string {
		return n.resolve(s, userMentionRe, n.users, "@", UserMention)
	}},
	{ChannelMention, func(n *Normalizer, s string) string {
		return n.resolve(s, channelMentionRe, n.channels, "#", ChannelMention)
	}},
	{CustomEmoji, func(_ *Normalizer, s string) string {
		return customEmojiRe.ReplaceAllString(s, "$1")
	}},
	{UnicodeEmoji, func(_ *Normalizer, s string) string {
		return ReplaceEmoji(s)
	}},
}

// Normalizer applies the substitution passes using the given reference lookups.
type Normalizer struct {
	users    Lookup
	channels Lookup
	observe  Observer
}

// New creates a normalizer. Either lookup may be nil, in which case its mentions never resolve.
func New(users, channels Lookup) *Normalizer {
	return &Normalizer{users: users, channels: channels}
}

// WithObserver returns a copy of n that reports mention resolution to fn.
func (n *Normalizer) WithObserver(fn Observer) *Normalizer {
	cp := *n
	cp.observe = fn
	return &cp
}

// Normalize returns the rewritten content and whether it differs from the input.
func (n *Normalizer) Normalize(content string) (string, bool) {
	out := content
	for _, p := range passes {
		out = p.apply(n, out)
	}
	return out, out != content
}

// resolve replaces each match of re whose first group resolves in lookup with prefix+name.
// Unresolved tokens are left byte-identical.
func (n *Normalizer) resolve(s string, re *regexp.Regexp, lookup Lookup, prefix string, kind Kind) string {
	return replaceSubmatch(s, re, func(token, id string) string {
		if lookup != nil {
			if name, ok := lookup.Get(id); ok {
				n.report(kind, true)
				return prefix + name
			}
		}
		n.report(kind, false)
		return token
	})
}

func (n *Normalizer) report(kind Kind, resolved bool) {
	if n.observe != nil {
		n.observe(kind, resolved)
	}
}

// replaceSubmatch is ReplaceAllStringFunc with access to the first capture group.
// Replacement text is inserted literally ($ is not expanded).
func replaceSubmatch(s string, re *regexp.Regexp, fn func(token, group string) string) string {
	idx := re.FindAllStringSubmatchIndex(s, -1)
	if len(idx) == 0 {
		return s
	}

	var b []byte
	last := 0
	for _, m := range idx {
		b = append(b, s[last:m[0]]...)
		b = append(b, fn(s[m[0]:m[1]], s[m[2]:m[3]])...)
		last = m[1]
	}
	b = append(b, s[last:]...)
	return string(b)
}
