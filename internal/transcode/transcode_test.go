package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/liteproxy/liteproxy/internal/refcache"
	"github.com/liteproxy/liteproxy/internal/textnorm"
)

const (
	aliceID   = "111111111111111111"
	bobID     = "222222222222222222"
	generalID = "333333333333333333"
)

func newTestTranscoder(legacy bool) (*Transcoder, *refcache.Set) {
	refs := refcache.NewSet(100)
	norm := textnorm.New(refs.Users, refs.Channels)
	return New(refs, norm, legacy), refs
}

var (
	basic    = Options{}
	extended = Options{Extended: true}
)

// =============================================================================
// GUILDS
// =============================================================================

func TestGuilds(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	out, err := tr.Guilds([]byte(`[
		{"id":"1","name":"One","icon":"abc","owner":true,"features":["X"]},
		{"id":"2","name":"Two","icon":null}
	]`), basic)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1","name":"One","icon":"abc"},{"id":"2","name":"Two"}]`, string(out))
}

func TestGuilds_Empty(t *testing.T) {
	tr, _ := newTestTranscoder(false)
	out, err := tr.Guilds([]byte(`[]`), basic)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(out))
}

// =============================================================================
// CHANNELS
// =============================================================================

func TestChannels_FiltersTextTypes(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	out, err := tr.Channels([]byte(`[
		{"id":"1","type":0,"guild_id":"g","name":"general","position":0,"last_message_id":"m1","topic":"x"},
		{"id":"2","type":2,"guild_id":"g","name":"voice","position":1},
		{"id":"3","type":5,"guild_id":"g","name":"news","position":2,"last_message_id":null},
		{"id":"4","type":4,"guild_id":"g","name":"category","position":3}
	]`), basic)
	require.NoError(t, err)

	assert.Equal(t,
		`[{"id":"1","type":0,"guild_id":"g","name":"general","position":0,"last_message_id":"m1"},`+
			`{"id":"3","type":5,"guild_id":"g","name":"news","position":2,"last_message_id":null}]`,
		string(out))
}

func TestChannels_OnlyKeepsIDOne(t *testing.T) {
	tr, _ := newTestTranscoder(false)
	out, err := tr.Channels([]byte(`[{"id":"1","type":0},{"id":"2","type":2}]`), basic)
	require.NoError(t, err)

	ids := gjson.GetBytes(out, "#.id").Array()
	require.Len(t, ids, 1)
	assert.Equal(t, "1", ids[0].String())
}

func TestChannels_CachesAllNames(t *testing.T) {
	tr, refs := newTestTranscoder(false)

	_, err := tr.Channels([]byte(`[
		{"id":"`+generalID+`","type":0,"name":"general"},
		{"id":"444444444444444444","type":2,"name":"voice"}
	]`), basic)
	require.NoError(t, err)

	name, ok := refs.Channels.Get(generalID)
	require.True(t, ok)
	assert.Equal(t, "general", name)

	// Filtered-out channels are still cached.
	name, ok = refs.Channels.Get("444444444444444444")
	require.True(t, ok)
	assert.Equal(t, "voice", name)
}

// =============================================================================
// DM CHANNELS
// =============================================================================

func TestDMChannels(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	out, err := tr.DMChannels([]byte(`[
		{"id":"10","type":1,"last_message_id":"m","recipients":[{"id":"u1","avatar":"av","global_name":"Alice","username":"alice"}]},
		{"id":"11","type":1,"last_message_id":"m","recipients":[{"id":"u2","avatar":null,"global_name":null,"username":"bob"}]},
		{"id":"12","type":3,"last_message_id":"m","name":"group","icon":"ic","recipients":[]},
		{"id":"13","type":3,"last_message_id":null,"name":null,"icon":null},
		{"id":"14","type":0,"last_message_id":"m"}
	]`), basic)
	require.NoError(t, err)

	assert.Equal(t, `[`+
		`{"id":"10","type":1,"last_message_id":"m","recipients":[{"global_name":"Alice","id":"u1","avatar":"av"}]},`+
		`{"id":"11","type":1,"last_message_id":"m","recipients":[{"global_name":null,"username":"bob"}]},`+
		`{"id":"12","type":3,"last_message_id":"m","name":"group","icon":"ic"},`+
		`{"id":"13","type":3,"last_message_id":null,"name":null}`+
		`]`, string(out))
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestMessages_Basic(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	out, err := tr.Messages([]byte(`[{
		"id":"m1","type":0,"content":"hello","channel_id":"c","tts":false,
		"author":{"id":"`+aliceID+`","username":"alice","avatar":"a1","global_name":"Alice","discriminator":"0"},
		"attachments":[],"embeds":[],"mentions":[]
	}]`), basic)
	require.NoError(t, err)

	assert.Equal(t, `[{"id":"m1","author":{"id":"`+aliceID+`","avatar":"a1","global_name":"Alice"},"content":"hello"}]`, string(out))
}

func TestMessages_NoRawContentWhenUnchanged(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	out, err := tr.Messages([]byte(`[
		{"id":"1","content":"plain text","author":{"id":"u"}},
		{"id":"2","content":"<@999999999999999999> unknown","author":{"id":"u"}}
	]`), basic)
	require.NoError(t, err)

	for _, msg := range gjson.ParseBytes(out).Array() {
		assert.False(t, msg.Get("_rc").Exists(), "message %s should not carry _rc", msg.Get("id"))
	}
}

func TestMessages_ResolvesMentionsFromSameResponse(t *testing.T) {
	tr, refs := newTestTranscoder(false)
	refs.Channels.Put(generalID, "general")

	out, err := tr.Messages([]byte(`[
		{"id":"1","content":"hey <@`+bobID+`> see <#`+generalID+`>","author":{"id":"`+aliceID+`","username":"alice","global_name":"Alice"}},
		{"id":"2","content":"hi","author":{"id":"`+bobID+`","username":"bob","global_name":null}}
	]`), basic)
	require.NoError(t, err)

	first := gjson.ParseBytes(out).Array()[0]
	assert.Equal(t, "hey @bob see #general", first.Get("content").String())
	assert.Equal(t, "hey <@"+bobID+"> see <#"+generalID+">", first.Get("_rc").String())

	second := gjson.ParseBytes(out).Array()[1]
	assert.Equal(t, "bob", second.Get("author.username").String(), "username present when global_name is null")

	name, ok := refs.Users.Get(aliceID)
	require.True(t, ok)
	assert.Equal(t, "alice", name)
}

func TestMessages_TypeRange(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	out, err := tr.Messages([]byte(`[
		{"id":"a","type":0,"author":{"id":"u"}},
		{"id":"b","type":7,"author":{"id":"u"}},
		{"id":"c","type":19,"author":{"id":"u"}},
		{"id":"d","type":11,"author":{"id":"u"}}
	]`), basic)
	require.NoError(t, err)

	msgs := gjson.ParseBytes(out).Array()
	assert.False(t, msgs[0].Get("type").Exists())
	assert.Equal(t, int64(7), msgs[1].Get("type").Int())
	assert.False(t, msgs[2].Get("type").Exists())
	assert.Equal(t, int64(11), msgs[3].Get("type").Int())
}

func TestMessages_EmptyContentOmitted(t *testing.T) {
	tr, _ := newTestTranscoder(false)
	out, err := tr.Messages([]byte(`[{"id":"1","content":"","author":{"id":"u"}}]`), basic)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1","author":{"id":"u"}}]`, string(out))
}

func TestMessages_ReferencedMessage(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	long := strings.Repeat("a", 46) + "  " + strings.Repeat("b", 10)
	out, err := tr.Messages([]byte(`[
		{"id":"1","author":{"id":"u"},"referenced_message":{"content":"short `+"\U0001f600"+`","author":{"id":"r","avatar":null,"global_name":"Ref","username":"ref"}}},
		{"id":"2","author":{"id":"u"},"referenced_message":{"content":"`+long+`","author":{"id":"r","global_name":null,"username":"ref"}}},
		{"id":"3","author":{"id":"u"},"referenced_message":null}
	]`), basic)
	require.NoError(t, err)

	msgs := gjson.ParseBytes(out).Array()
	assert.Equal(t, `{"author":{"global_name":"Ref","id":"r","avatar":null},"content":"short :grinning:"}`,
		msgs[0].Get("referenced_message").Raw)

	ref := msgs[1].Get("referenced_message")
	assert.Equal(t, strings.Repeat("a", 46)+"...", ref.Get("content").String(), "truncated to 47 then trimmed")
	assert.Equal(t, "ref", ref.Get("author.username").String())

	assert.False(t, msgs[2].Get("referenced_message").Exists())
}

func TestTruncatePreview(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short", "hello", "hello"},
		{"exactly fifty", strings.Repeat("x", 50), strings.Repeat("x", 50)},
		{"fifty one", strings.Repeat("x", 51), strings.Repeat("x", 47) + "..."},
		{"counts code points", strings.Repeat("é", 50), strings.Repeat("é", 50)},
		{"multibyte truncation", strings.Repeat("é", 60), strings.Repeat("é", 47) + "..."},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncatePreview(tt.input))
		})
	}
}

func TestMessages_AttachmentsStickersEmbeds(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	body := []byte(`[{
		"id":"1","author":{"id":"u"},
		"attachments":[{"id":"x","filename":"a.png","size":10,"width":1,"height":2,"proxy_url":"p","url":"u","content_type":"image/png"}],
		"sticker_items":[{"id":"s1","name":"wave","format_type":1},{"id":"s2","name":"second"}],
		"embeds":[{"title":"T","description":"D","url":"https://x","color":5,"type":"rich"}]
	}]`)

	out, err := tr.Messages(body, basic)
	require.NoError(t, err)
	msg := gjson.ParseBytes(out).Array()[0]
	assert.Equal(t, `[{"filename":"a.png","size":10,"width":1,"height":2,"proxy_url":"p"}]`, msg.Get("attachments").Raw)
	assert.Equal(t, `[{"name":"wave"}]`, msg.Get("sticker_items").Raw)
	assert.Equal(t, `[{"title":"T","description":"D"}]`, msg.Get("embeds").Raw)

	out, err = tr.Messages(body, extended)
	require.NoError(t, err)
	msg = gjson.ParseBytes(out).Array()[0]
	assert.Equal(t, `[{"filename":"a.png","size":10,"width":1,"height":2,"proxy_url":"p","content_type":"image/png"}]`, msg.Get("attachments").Raw)
	assert.Equal(t, `[{"title":"T","description":"D","url":"https://x","color":5}]`, msg.Get("embeds").Raw)
}

func TestMessages_ExtendedAddsUsername(t *testing.T) {
	tr, _ := newTestTranscoder(false)
	body := []byte(`[{"id":"1","author":{"id":"u","avatar":null,"global_name":"G","username":"g"}}]`)

	out, err := tr.Messages(body, basic)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "0.author.username").Exists())

	out, err = tr.Messages(body, extended)
	require.NoError(t, err)
	assert.Equal(t, "g", gjson.GetBytes(out, "0.author.username").String())
}

func TestMessages_MentionsForMembershipNotices(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	out, err := tr.Messages([]byte(`[
		{"id":"1","type":1,"author":{"id":"u"},"mentions":[{"id":"m1","global_name":null,"username":"joiner"},{"id":"m2"}]},
		{"id":"2","type":2,"author":{"id":"u"},"mentions":[{"id":"m3","global_name":"Leaver","username":"l"}]},
		{"id":"3","type":0,"author":{"id":"u"},"mentions":[{"id":"m4","global_name":"X"}]},
		{"id":"4","type":1,"author":{"id":"u"},"mentions":[]}
	]`), basic)
	require.NoError(t, err)

	msgs := gjson.ParseBytes(out).Array()
	assert.Equal(t, `[{"id":"m1","global_name":null,"username":"joiner"}]`, msgs[0].Get("mentions").Raw)
	assert.Equal(t, `[{"id":"m3","global_name":"Leaver"}]`, msgs[1].Get("mentions").Raw)
	assert.False(t, msgs[2].Get("mentions").Exists())
	assert.False(t, msgs[3].Get("mentions").Exists())
}

func TestMessages_KeepsAngleBracketsUnescaped(t *testing.T) {
	tr, refs := newTestTranscoder(false)
	refs.Users.Put(aliceID, "alice")

	out, err := tr.Messages([]byte(`[{"id":"1","author":{"id":"u"},"content":"<@`+aliceID+`> & <b>"}]`), basic)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"content":"@alice & <b>"`)
}

// =============================================================================
// MEMBER
// =============================================================================

func TestMember(t *testing.T) {
	body := []byte(`{"user":{"id":"u"},"roles":["r1"],"joined_at":"2024-01-01","nick":"Nick","avatar":"av","permissions":"8","deaf":false}`)

	t.Run("separate fields", func(t *testing.T) {
		tr, _ := newTestTranscoder(false)
		out, err := tr.Member(body, basic)
		require.NoError(t, err)
		assert.Equal(t, `{"user":{"id":"u"},"roles":["r1"],"joined_at":"2024-01-01","nick":"Nick","avatar":"av","permissions":"8"}`, string(out))
	})

	t.Run("legacy collision avatar wins", func(t *testing.T) {
		tr, _ := newTestTranscoder(true)
		out, err := tr.Member(body, basic)
		require.NoError(t, err)
		assert.Equal(t, `{"user":{"id":"u"},"roles":["r1"],"joined_at":"2024-01-01","avatar":"av","permissions":"8"}`, string(out))
	})

	t.Run("legacy collision nick only", func(t *testing.T) {
		tr, _ := newTestTranscoder(true)
		out, err := tr.Member([]byte(`{"user":{"id":"u"},"roles":[],"joined_at":"x","nick":"Nick","avatar":null,"permissions":null}`), basic)
		require.NoError(t, err)
		assert.Equal(t, `{"user":{"id":"u"},"roles":[],"joined_at":"x","avatar":"Nick"}`, string(out))
	})

	t.Run("rejects array", func(t *testing.T) {
		tr, _ := newTestTranscoder(false)
		_, err := tr.Member([]byte(`[]`), basic)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

// =============================================================================
// ROLES
// =============================================================================

func TestRoles_SortedByPosition(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	body := []byte(`[
		{"id":"c","color":3,"name":"C","position":3,"permissions":"0"},
		{"id":"a","color":1,"name":"A","position":1,"permissions":"0"},
		{"id":"b","color":2,"name":"B","position":2,"permissions":"0"}
	]`)

	out, err := tr.Roles(body, basic)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a","color":1},{"id":"b","color":2},{"id":"c","color":3}]`, string(out))

	out, err = tr.Roles(body, extended)
	require.NoError(t, err)
	positions := gjson.GetBytes(out, "#.position").Array()
	require.Len(t, positions, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{positions[0].Int(), positions[1].Int(), positions[2].Int()})
	assert.Equal(t, "A", gjson.GetBytes(out, "0.name").String())
}

func TestRoles_StableForEqualPositions(t *testing.T) {
	tr, _ := newTestTranscoder(false)
	out, err := tr.Roles([]byte(`[{"id":"x","position":0},{"id":"y","position":0},{"id":"z","position":0}]`), basic)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"x"},{"id":"y"},{"id":"z"}]`, string(out))
}

// =============================================================================
// SELF USER
// =============================================================================

func TestSelfUser(t *testing.T) {
	tr, _ := newTestTranscoder(false)
	out, err := tr.SelfUser([]byte(`{"id":"42","username":"me","email":"me@example.com"}`), basic)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"42","_liteproxy":true}`, string(out))
}

// =============================================================================
// MALFORMED
// =============================================================================

func TestMalformedUpstream(t *testing.T) {
	tr, _ := newTestTranscoder(false)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"object instead of array", `{"message":"x"}`},
		{"non-object element", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Messages([]byte(tt.body), basic)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestProjectionNames_AuditWhitelist(t *testing.T) {
	assert.Equal(t, []string{"id", "name", "icon"}, GuildFields.Names())
	assert.Equal(t, []string{"id", "type", "guild_id", "name", "position", "last_message_id"}, ChannelFields.Names())
	assert.Equal(t, []string{"id", "color", "name", "position", "permissions"}, RoleFields.Names())
	assert.Equal(t, []string{"user", "roles", "joined_at", "avatar", "avatar", "permissions"}, LegacyMemberFields.Names())
}

func TestNilTranscoderDependencies(t *testing.T) {
	tr := New(nil, nil, false)
	out, err := tr.Messages([]byte(`[{"id":"1","author":{"id":"u","username":"x"},"content":"<@`+aliceID+`>"}]`), basic)
	require.NoError(t, err)
	// No username cache, so the mention stays; username shows because global_name is absent.
	assert.Equal(t, `[{"id":"1","author":{"id":"u","username":"x"},"content":"<@`+aliceID+`>"}]`, string(out))
}
