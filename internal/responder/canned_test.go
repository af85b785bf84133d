package responder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"assistant-hub/internal/domain"
)

func TestCanned_UnknownAssistantGetsGenericAcknowledgement(t *testing.T) {
	c := NewCanned()
	for _, id := range []string{"sofia", "elena", "", "does-not-exist"} {
		text := `quiero "comillas" y acentos: canción`
		reply, err := c.Reply(context.Background(), ReplyRequest{Assistant: domain.Assistant{ID: id}, Text: text})
		require.NoError(t, err)
		require.False(t, c.Has(id))
		require.Contains(t, reply.Content, text, "assistant=%q", id)
		require.Nil(t, reply.Metadata)
		require.Equal(t, GenericReply(text), reply)
	}
}

func TestCanned_PaulaReturnsCompletedTaskWithThreeActions(t *testing.T) {
	c := NewCanned()
	require.True(t, c.Has("paula"))

	reply, err := c.Reply(context.Background(), ReplyRequest{Assistant: domain.Assistant{ID: "paula"}, Text: "necesito un headline"})
	require.NoError(t, err)
	require.Contains(t, reply.Content, "necesito un headline")
	require.NotNil(t, reply.Metadata)
	require.Equal(t, KindTask, reply.Metadata.Kind)
	require.Equal(t, TaskCompleted, reply.Metadata.TaskStatus)
	require.Equal(t, []string{"Generar variaciones", "Programar publicación", "Adaptar a otras redes"}, reply.Metadata.Actions)
}

func TestCanned_ActionsAreNotShared(t *testing.T) {
	c := NewCanned()
	first, err := c.Reply(context.Background(), ReplyRequest{Assistant: domain.Assistant{ID: "paula"}, Text: "a"})
	require.NoError(t, err)
	first.Metadata.Actions[0] = "mutated"

	second, err := c.Reply(context.Background(), ReplyRequest{Assistant: domain.Assistant{ID: "paula"}, Text: "b"})
	require.NoError(t, err)
	require.Equal(t, PaulaActions[0], second.Metadata.Actions[0])
}

func TestCanned_OtherPersonasEmbedText(t *testing.T) {
	c := NewCanned()
	cases := []struct {
		id   string
		kind string
	}{
		{"marco", KindFile},
		{"diego", KindLink},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			reply, err := c.Reply(context.Background(), ReplyRequest{Assistant: domain.Assistant{ID: tc.id}, Text: "hazlo ya"})
			require.NoError(t, err)
			require.Contains(t, reply.Content, "hazlo ya")
			require.Equal(t, tc.kind, reply.Metadata.Kind)
			require.NotEmpty(t, reply.Metadata.Actions)
		})
	}
}
