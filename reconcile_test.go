package livesync

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestUpsertMessageReplacesByID(t *testing.T) {
	window := []Message{msg("c1", 1), msg("c1", 2), msg("c1", 3)}
	edited := msg("c1", 2)
	edited.Content = "edited"

	got := UpsertMessage(window, edited)

	require.Equal(t, []string{"1", "2", "3"}, ids(got))
	assert.Equal(t, "edited", got[1].Content)
	assert.Equal(t, "message 2", window[1].Content, "input window must not change")
}

func TestUpsertMessageEchoReplacesPlaceholder(t *testing.T) {
	placeholder := Message{
		ClientID:       "c9",
		ConversationID: "c1",
		SenderID:       "me",
		Content:        "hi",
		CreatedAt:      at(10),
		State:          MessagePending,
	}
	window := []Message{msg("c1", 1), placeholder}

	echo := Message{ID: "99", ClientID: "c9", ConversationID: "c1", CreatedAt: at(10)}
	got := UpsertMessage(window, echo)

	require.Len(t, got, 2)
	assert.Equal(t, "99", got[1].ID)
	assert.Equal(t, "c9", got[1].ClientID)
	assert.Equal(t, "hi", got[1].Content, "fields absent from the echo are kept")
	assert.Equal(t, MessageConfirmed, got[1].State)
}

func TestUpsertMessageClientIDTakesPrecedence(t *testing.T) {
	// A refresh page already delivered id 99 before the echo matched the
	// placeholder; the result holds one entry for 99.
	placeholder := Message{ClientID: "c9", ConversationID: "c1", Content: "hi", CreatedAt: at(10), State: MessagePending}
	fromPage := msg("c1", 10)
	fromPage.ID = "99"
	window := []Message{placeholder, fromPage}

	got := UpsertMessage(window, Message{ID: "99", ClientID: "c9", CreatedAt: at(10)})

	require.Len(t, got, 1)
	assert.Equal(t, "99", got[0].ID)
	assert.Equal(t, "c9", got[0].ClientID)
}

func TestUpsertMessageFoldsDuplicateIntoPlaceholder(t *testing.T) {
	placeholder := Message{ClientID: "c9", ConversationID: "c1", Content: "hi", CreatedAt: at(10), State: MessagePending}
	fromPage := msg("c1", 10)
	fromPage.ID = "99"
	fromPage.MyReaction = strptr("👍")
	fromPage.ReactionCounts = map[string]int{"👍": 1}
	window := []Message{placeholder, fromPage}

	got := UpsertMessage(window, Message{ID: "99", ClientID: "c9", CreatedAt: at(10)})

	require.Len(t, got, 1)
	assert.Equal(t, "👍", myReaction(got[0]))
	assert.Equal(t, 1, got[0].ReactionCounts["👍"])
	assert.Equal(t, "hi", got[0].Content)
	assert.Equal(t, MessageConfirmed, got[0].State)
}

func TestUpsertMessageInsertsSorted(t *testing.T) {
	window := []Message{msg("c1", 1), msg("c1", 5)}

	got := UpsertMessage(window, msg("c1", 3))
	assert.Equal(t, []string{"1", "3", "5"}, ids(got))

	got = UpsertMessage(got, msg("c1", 9))
	assert.Equal(t, []string{"1", "3", "5", "9"}, ids(got))

	got = UpsertMessage(got, msg("c1", 0))
	assert.Equal(t, []string{"0", "1", "3", "5", "9"}, ids(got))
}

func TestUpsertMessageEqualTimestampsAppend(t *testing.T) {
	a := msg("c1", 1)
	b := msg("c1", 1)
	b.ID = "1b"

	got := UpsertMessage([]Message{a}, b)
	assert.Equal(t, []string{"1", "1b"}, ids(got))
}

func TestUpsertMessageIdempotent(t *testing.T) {
	window := []Message{msg("c1", 1), msg("c1", 3)}
	m := msg("c1", 2)
	m.ReactionCounts = map[string]int{"👍": 1}

	once := UpsertMessage(window, m)
	twice := UpsertMessage(once, m)
	assert.Equal(t, once, twice)
}

func TestUpsertMessageKeepsMyReaction(t *testing.T) {
	held := msg("c1", 1)
	held.MyReaction = strptr("❤️")
	held.ReactionCounts = map[string]int{"❤️": 1}

	update := msg("c1", 1)
	update.ReactionCounts = map[string]int{"❤️": 4}

	got := UpsertMessage([]Message{held}, update)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].MyReaction)
	assert.Equal(t, "❤️", *got[0].MyReaction)
	assert.Equal(t, 4, got[0].ReactionCounts["❤️"])

	update.MyReaction = strptr("")
	got = UpsertMessage(got, update)
	assert.Equal(t, "", myReaction(got[0]), "an explicit empty reaction clears it")
}

func TestUpsertMessageReslotsMovedEntry(t *testing.T) {
	window := []Message{msg("c1", 1), msg("c1", 2), msg("c1", 3)}
	moved := msg("c1", 1)
	moved.CreatedAt = at(5)

	got := UpsertMessage(window, moved)
	assert.Equal(t, []string{"2", "3", "1"}, ids(got))
}

func TestMergePageAnyOrderIsSorted(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		all := history("c1", 1, 40)
		rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

		var window []Message
		for len(all) > 0 {
			n := 1 + rng.Intn(7)
			if n > len(all) {
				n = len(all)
			}
			window = MergePage(window, all[:n])
			// Re-deliver a random earlier message to exercise idempotence.
			window = UpsertMessage(window, window[rng.Intn(len(window))])
			all = all[n:]
		}

		require.Len(t, window, 40)
		require.True(t, sort.SliceIsSorted(window, func(i, j int) bool {
			return window[i].CreatedAt.Before(window[j].CreatedAt)
		}))
		seen := map[string]bool{}
		for _, m := range window {
			require.False(t, seen[m.ID], "duplicate id %s", m.ID)
			seen[m.ID] = true
		}
	}
}

func TestMergeMessagePreservesAbsentFields(t *testing.T) {
	prev := Message{
		ID:             "1",
		ClientID:       "c1",
		SenderID:       "bob",
		Content:        "hello",
		CreatedAt:      at(1),
		Attachments:    []Attachment{{MediaID: "img"}},
		ReactionCounts: map[string]int{"👍": 2},
		MyReaction:     strptr("👍"),
	}
	got := MergeMessage(prev, Message{ID: "1", Deleted: true})

	assert.True(t, got.Deleted)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, at(1), got.CreatedAt)
	assert.Equal(t, []Attachment{{MediaID: "img"}}, got.Attachments)
	assert.Equal(t, "👍", myReaction(got))
	assert.Equal(t, MessageConfirmed, got.State)
}

func TestOldestHeldIDSkipsPlaceholders(t *testing.T) {
	window := []Message{
		{ClientID: "p", CreatedAt: at(0)},
		msg("c1", 4),
		msg("c1", 5),
	}
	assert.Equal(t, "4", OldestHeldID(window))
	assert.Equal(t, "", OldestHeldID(nil))
}

func TestOverlaps(t *testing.T) {
	window := history("c1", 1, 5)

	assert.True(t, overlaps(window, history("c1", 4, 8)), "shares ids")
	assert.True(t, overlaps(window, history("c1", 5, 5)))
	assert.False(t, overlaps(window, history("c1", 7, 9)), "page newer than everything held")
	assert.True(t, overlaps(nil, history("c1", 7, 9)), "nothing held")
}

func TestApplyReaction(t *testing.T) {
	m := msg("c1", 1)
	m.ReactionCounts = map[string]int{"👍": 1}

	tests := []struct {
		name     string
		from, to string
		want     map[string]int
		mine     string
	}{
		{"add", "", "❤️", map[string]int{"👍": 1, "❤️": 1}, "❤️"},
		{"remove", "👍", "", map[string]int{}, ""},
		{"switch", "👍", "❤️", map[string]int{"❤️": 1}, "❤️"},
		{"remove floors at zero", "😮", "", map[string]int{"👍": 1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyReaction(m, tt.from, tt.to)
			assert.Equal(t, tt.want, got.ReactionCounts)
			assert.Equal(t, tt.mine, myReaction(got))
			assert.Equal(t, map[string]int{"👍": 1}, m.ReactionCounts, "input counts must not change")
		})
	}
}

func TestApplyReactionToggleIsIdempotent(t *testing.T) {
	m := msg("c1", 1)
	m.ReactionCounts = map[string]int{"👍": 3}

	on := applyReaction(m, "", "👍")
	off := applyReaction(on, "👍", "")
	assert.Equal(t, 3, off.ReactionCounts["👍"])
	assert.Equal(t, "", myReaction(off))
}
