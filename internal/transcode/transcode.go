// Package transcode maps upstream REST payloads to the compact views legacy clients parse.
//
// DESIGN: One exported method per upstream resource. Each method:
//  1. Validates the upstream body shape (array of objects / object)
//  2. Records id -> name pairs into the reference caches where the resource reveals them
//  3. Applies the resource's Projection table
//
// Output is UTF-8 JSON. Escaping to ASCII is the caller's job (utils.EscapeNonASCII).
package transcode

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/refcache"
	"github.com/liteproxy/liteproxy/internal/textnorm"
	"github.com/liteproxy/liteproxy/internal/utils"
)

// ErrMalformed is returned when an upstream body does not have the expected shape.
var ErrMalformed = errors.New("malformed upstream payload")

// Transcoder holds the shared state transcoders read and populate.
type Transcoder struct {
	refs               *refcache.Set
	norm               *textnorm.Normalizer
	legacyMemberAvatar bool
}

// New creates a Transcoder. refs may be nil (nothing is cached); norm may be nil (content passes through).
func New(refs *refcache.Set, norm *textnorm.Normalizer, legacyMemberAvatar bool) *Transcoder {
	return &Transcoder{
		refs:               refs,
		norm:               norm,
		legacyMemberAvatar: legacyMemberAvatar,
	}
}

// =============================================================================
// PROJECTION TABLES
// =============================================================================

// GuildFields is the guild list view.
var GuildFields = Projection{
	{Name: "id", Path: "id"},
	{Name: "name", Path: "name"},
	{Name: "icon", Path: "icon", When: NonNull("icon")},
}

// ChannelFields is the guild channel list view.
var ChannelFields = Projection{
	{Name: "id", Path: "id"},
	{Name: "type", Path: "type"},
	{Name: "guild_id", Path: "guild_id"},
	{Name: "name", Path: "name"},
	{Name: "position", Path: "position"},
	{Name: "last_message_id", Path: "last_message_id"},
}

var dmRecipientFields = Projection{
	{Name: "global_name", Path: "global_name"},
	{Name: "id", Path: "id", When: NonNull("avatar")},
	{Name: "avatar", Path: "avatar", When: NonNull("avatar")},
	{Name: "username", Path: "username", When: IsNull("global_name")},
}

var (
	isGroupDM = NumberOneOf("type", 3)
	isDirect  = func(s *Scope) bool { return !isGroupDM(s) }
)

// DMFields is the private channel list view.
var DMFields = Projection{
	{Name: "id", Path: "id"},
	{Name: "type", Path: "type"},
	{Name: "last_message_id", Path: "last_message_id"},
	{Name: "name", Path: "name", When: isGroupDM},
	{Name: "icon", Path: "icon", When: All(isGroupDM, NonNull("icon"))},
	{Name: "recipients", When: isDirect, Value: First("recipients", dmRecipientFields)},
}

var messageAuthorFields = Projection{
	{Name: "id", Path: "id"},
	{Name: "avatar", Path: "avatar"},
	{Name: "global_name", Path: "global_name"},
	{Name: "username", Path: "username", When: Any(IsNull("global_name"), Extended)},
}

var referencedAuthorFields = Projection{
	{Name: "global_name", Path: "global_name"},
	{Name: "id", Path: "id"},
	{Name: "avatar", Path: "avatar"},
	{Name: "username", Path: "username", When: Any(IsNull("global_name"), Extended)},
}

var referencedMessageFields = Projection{
	{Name: "author", Value: Nested("author", referencedAuthorFields)},
	{Name: "content", Value: referencedContent},
}

var attachmentFields = Projection{
	{Name: "filename", Path: "filename"},
	{Name: "size", Path: "size"},
	{Name: "width", Path: "width"},
	{Name: "height", Path: "height"},
	{Name: "proxy_url", Path: "proxy_url"},
	{Name: "content_type", Path: "content_type", When: Extended},
}

var stickerFields = Projection{
	{Name: "name", Path: "name"},
}

var embedFields = Projection{
	{Name: "title", Path: "title"},
	{Name: "description", Path: "description"},
	{Name: "url", Path: "url", When: Extended},
	{Name: "author", Path: "author", When: Extended},
	{Name: "provider", Path: "provider", When: Extended},
	{Name: "footer", Path: "footer", When: Extended},
	{Name: "timestamp", Path: "timestamp", When: Extended},
	{Name: "color", Path: "color", When: Extended},
	{Name: "thumbnail", Path: "thumbnail", When: Extended},
	{Name: "image", Path: "image", When: Extended},
	{Name: "video", Path: "video", When: Extended},
	{Name: "fields", Path: "fields", When: Extended},
}

var mentionFields = Projection{
	{Name: "id", Path: "id"},
	{Name: "global_name", Path: "global_name"},
	{Name: "username", Path: "username", When: IsNull("global_name")},
}

// Join/leave system messages (recipient add/remove) need the first mentioned user.
var isMembershipNotice = NumberOneOf("type", 1, 2)

// MessageFields is the message list view.
var MessageFields = Projection{
	{Name: "id", Path: "id"},
	{Name: "author", Value: Nested("author", messageAuthorFields)},
	{Name: "type", Path: "type", When: NumberIn("type", 1, 11)},
	{Name: "content", When: Truthy("content"), Value: normalizedContent},
	{Name: "_rc", Path: "content", When: All(Truthy("content"), contentChanged)},
	{Name: "referenced_message", When: Truthy("referenced_message"), Value: Nested("referenced_message", referencedMessageFields)},
	{Name: "attachments", When: NonEmpty("attachments"), Value: Each("attachments", attachmentFields)},
	{Name: "sticker_items", When: NonEmpty("sticker_items"), Value: First("sticker_items", stickerFields)},
	{Name: "embeds", When: NonEmpty("embeds"), Value: Each("embeds", embedFields)},
	{Name: "mentions", When: All(isMembershipNotice, NonEmpty("mentions")), Value: First("mentions", mentionFields)},
}

// MemberFields is the guild member view with separate nick and avatar keys.
var MemberFields = Projection{
	{Name: "user", Path: "user"},
	{Name: "roles", Path: "roles"},
	{Name: "joined_at", Path: "joined_at"},
	{Name: "nick", Path: "nick", When: NonNull("nick")},
	{Name: "avatar", Path: "avatar", When: NonNull("avatar")},
	{Name: "permissions", Path: "permissions", When: NonNull("permissions")},
}

// LegacyMemberFields writes nick into "avatar" and lets a real avatar overwrite it.
// Older clients read the display override from that key.
var LegacyMemberFields = Projection{
	{Name: "user", Path: "user"},
	{Name: "roles", Path: "roles"},
	{Name: "joined_at", Path: "joined_at"},
	{Name: "avatar", Path: "nick", When: NonNull("nick")},
	{Name: "avatar", Path: "avatar", When: NonNull("avatar")},
	{Name: "permissions", Path: "permissions", When: NonNull("permissions")},
}

// RoleFields is the role list view.
var RoleFields = Projection{
	{Name: "id", Path: "id"},
	{Name: "color", Path: "color"},
	{Name: "name", Path: "name", When: Extended},
	{Name: "position", Path: "position", When: Extended},
	{Name: "permissions", Path: "permissions", When: Extended},
}

// SelfUserFields is the current user view. The marker tells clients they are behind this gateway.
var SelfUserFields = Projection{
	{Name: "id", Path: "id"},
	{Name: "_liteproxy", Value: Literal("true")},
}

func normalizedContent(s *Scope) ([]byte, error) {
	text, _ := s.normalize("content")
	return utils.MarshalNoEscape(text)
}

func contentChanged(s *Scope) bool {
	_, changed := s.normalize("content")
	return changed
}

func referencedContent(s *Scope) ([]byte, error) {
	text, _ := s.normalize("content")
	return utils.MarshalNoEscape(truncatePreview(text))
}

// truncatePreview shortens a reply preview to ReferencedContentKeep code points plus "...".
func truncatePreview(text string) string {
	if utf8.RuneCountInString(text) <= config.ReferencedContentMax {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:config.ReferencedContentKeep])) + "..."
}

// =============================================================================
// RESOURCES
// =============================================================================

// Guilds transcodes GET /users/@me/guilds.
func (t *Transcoder) Guilds(body []byte, opts Options) ([]byte, error) {
	items, err := parseObjects(body)
	if err != nil {
		return nil, err
	}
	return t.project(items, GuildFields, opts)
}

// Channels transcodes GET /guilds/{guild}/channels.
// Every channel name is cached; only text (0) and announcement (5) channels are returned.
func (t *Transcoder) Channels(body []byte, opts Options) ([]byte, error) {
	items, err := parseObjects(body)
	if err != nil {
		return nil, err
	}

	if t.refs != nil {
		for _, ch := range items {
			t.refs.Channels.Put(ch.Get("id").String(), ch.Get("name").String())
		}
	}

	return t.project(filter(items, t.scopeTest(NumberOneOf("type", 0, 5), opts)), ChannelFields, opts)
}

// DMChannels transcodes GET /users/@me/channels, keeping DMs (1) and group DMs (3).
func (t *Transcoder) DMChannels(body []byte, opts Options) ([]byte, error) {
	items, err := parseObjects(body)
	if err != nil {
		return nil, err
	}
	return t.project(filter(items, t.scopeTest(NumberOneOf("type", 1, 3), opts)), DMFields, opts)
}

// Messages transcodes GET /channels/{channel}/messages.
// Author usernames are cached before any content is normalized.
func (t *Transcoder) Messages(body []byte, opts Options) ([]byte, error) {
	items, err := parseObjects(body)
	if err != nil {
		return nil, err
	}

	if t.refs != nil {
		for _, msg := range items {
			t.refs.Users.Put(msg.Get("author.id").String(), msg.Get("author.username").String())
		}
	}

	return t.project(items, MessageFields, opts)
}

// Member transcodes GET /guilds/{guild}/members/{member}.
func (t *Transcoder) Member(body []byte, opts Options) ([]byte, error) {
	obj, err := parseObject(body)
	if err != nil {
		return nil, err
	}
	fields := MemberFields
	if t.legacyMemberAvatar {
		fields = LegacyMemberFields
	}
	return fields.Apply(t.scope(obj, opts))
}

// Roles transcodes GET /guilds/{guild}/roles, ordered by position ascending (stable).
func (t *Transcoder) Roles(body []byte, opts Options) ([]byte, error) {
	items, err := parseObjects(body)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Get("position").Float() < items[j].Get("position").Float()
	})
	return t.project(items, RoleFields, opts)
}

// SelfUser transcodes GET /users/@me.
func (t *Transcoder) SelfUser(body []byte, opts Options) ([]byte, error) {
	obj, err := parseObject(body)
	if err != nil {
		return nil, err
	}
	return SelfUserFields.Apply(t.scope(obj, opts))
}

func (t *Transcoder) project(items []gjson.Result, p Projection, opts Options) ([]byte, error) {
	parts := make([][]byte, 0, len(items))
	for _, item := range items {
		obj, err := p.Apply(t.scope(item, opts))
		if err != nil {
			return nil, err
		}
		parts = append(parts, obj)
	}
	return joinArray(parts), nil
}

func (t *Transcoder) scopeTest(p Predicate, opts Options) func(gjson.Result) bool {
	return func(r gjson.Result) bool { return p(t.scope(r, opts)) }
}

func filter(items []gjson.Result, keep func(gjson.Result) bool) []gjson.Result {
	out := items[:0:0]
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

func parseObjects(body []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected array", ErrMalformed)
	}
	items := root.Array()
	for i, item := range items {
		if !item.IsObject() {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrMalformed, i)
		}
	}
	return items, nil
}

func parseObject(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: expected object", ErrMalformed)
	}
	return root, nil
}
