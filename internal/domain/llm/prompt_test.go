package llm

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMsg(text string) *schema.Message {
	return &schema.Message{Role: schema.User, Content: text}
}

func TestBuildPromptKeepsSystemAndRecentHistory(t *testing.T) {
	var history []*schema.Message
	for i := 0; i < 4; i++ {
		history = append(history, userMsg(fmt.Sprintf("message %d", i)))
	}

	out := BuildPromptMessages("be helpful", history, 4096)
	require.Len(t, out, 5)
	assert.Equal(t, schema.System, out[0].Role)
	assert.Equal(t, "be helpful", out[0].Content)
	assert.Equal(t, "message 0", out[1].Content)
	assert.Equal(t, "message 3", out[4].Content)
}

func TestBuildPromptHonorsMessageCap(t *testing.T) {
	var history []*schema.Message
	for i := 0; i < MaxMessageCount+5; i++ {
		history = append(history, userMsg(fmt.Sprintf("message %d", i)))
	}

	out := BuildPromptMessages("sys", history, 1<<20)
	require.Len(t, out, MaxMessageCount+1)
	// The oldest messages fall off, the newest survive.
	assert.Equal(t, "message 5", out[1].Content)
	assert.Equal(t, fmt.Sprintf("message %d", MaxMessageCount+4), out[len(out)-1].Content)
}

func TestBuildPromptTightBudgetKeepsNewest(t *testing.T) {
	history := []*schema.Message{
		userMsg(strings.Repeat("old ", 400)),
		userMsg("newest message"),
	}

	// Budget fits the system prompt and the small newest message only.
	out := BuildPromptMessages("sys", history, 30)
	require.Len(t, out, 2)
	assert.Equal(t, schema.System, out[0].Role)
	assert.Equal(t, "newest message", out[1].Content)
}

func TestBuildPromptSystemAlwaysIncluded(t *testing.T) {
	out := BuildPromptMessages(strings.Repeat("x", 10000), []*schema.Message{userMsg("hi")}, 10)
	require.NotEmpty(t, out)
	assert.Equal(t, schema.System, out[0].Role)
}
