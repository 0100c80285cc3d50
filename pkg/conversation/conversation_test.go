package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationAppend(t *testing.T) {
	t.Run("should never modify the original transcript", func(t *testing.T) {
		conv := New("c1", User("hello"))
		next := conv.Append(Assistant("hi"))

		require.Len(t, conv.Transcript, 1)
		require.Len(t, next.Transcript, 2)
		assert.Equal(t, "hello", next.Transcript[0].Text())
		assert.Equal(t, "hi", next.Transcript[1].Text())
	})

	t.Run("should stamp current turn on appended messages", func(t *testing.T) {
		conv := New("c1", User("hello")).WithTurn("t-2")
		next := conv.Append(Assistant("hi"))

		assert.Equal(t, "t-2", next.Transcript[1].Metadata().TurnID)
		assert.Empty(t, next.Transcript[0].Metadata().TurnID)
	})

	t.Run("should keep an explicit turn id", func(t *testing.T) {
		conv := New("c1").WithTurn("t-2")
		next := conv.Append(User("x").WithTurn("t-1"))

		assert.Equal(t, "t-1", next.Transcript[0].Metadata().TurnID)
	})
}

func TestConversationClassification(t *testing.T) {
	conv := New("c1", User("hello"))
	assert.Nil(t, conv.Classification)

	handed := conv.WithClassification(Handover{Agent: "billing"})
	agent, ok := handed.HandoverTarget()
	require.True(t, ok)
	assert.Equal(t, "billing", agent)

	_, ok = conv.HandoverTarget()
	assert.False(t, ok)

	_, ok = handed.WithClassification(nil).HandoverTarget()
	assert.False(t, ok)
}

func TestMessageVariants(t *testing.T) {
	msgs := []Message{User("u"), System("s"), Assistant("a"), Developer("d")}
	roles := make([]Role, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case UserMessage:
			roles = append(roles, v.Role())
		case SystemMessage:
			roles = append(roles, v.Role())
		case AssistantMessage:
			roles = append(roles, v.Role())
		case DeveloperMessage:
			roles = append(roles, v.Role())
		}
	}
	assert.Equal(t, []Role{RoleUser, RoleSystem, RoleAssistant, RoleDeveloper}, roles)

	t.Run("should copy on update", func(t *testing.T) {
		orig := Assistant("before")
		updated := orig.WithText("after")

		assert.Equal(t, "before", orig.Text())
		assert.Equal(t, "after", updated.Text())
		assert.Equal(t, FormatText, updated.Metadata().Format)
	})

	t.Run("should not share binary payloads", func(t *testing.T) {
		orig := User("img")
		orig.Meta.Binary = []BinaryData{{MimeType: "image/png", Data: []byte{1, 2}}}

		md := orig.Metadata()
		md.Binary[0].Data[0] = 9

		assert.Equal(t, byte(1), orig.Meta.Binary[0].Data[0])
	})

	t.Run("should find latest user text", func(t *testing.T) {
		conv := New("c", User("first"), Assistant("a"), User("second"), Assistant("b"))
		assert.Equal(t, "second", conv.LatestUserText())
	})
}
