package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingActions captures what tool execution did to the call.
type recordingActions struct {
	hangUpReason string
	transferred  string
	smsTo        string
	smsBody      string
	fail         error
}

func (a *recordingActions) HangUp(ctx context.Context, reason string) error {
	a.hangUpReason = reason
	return a.fail
}

func (a *recordingActions) Transfer(ctx context.Context, destination string) error {
	a.transferred = destination
	return a.fail
}

func (a *recordingActions) SendSMS(ctx context.Context, to, body string) error {
	a.smsTo = to
	a.smsBody = body
	return a.fail
}

func toolCall(name, args string) schema.ToolCall {
	return schema.ToolCall{ID: "call_1", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func TestExecuteHangUp(t *testing.T) {
	actions := &recordingActions{}
	result, err := Execute(context.Background(), actions, toolCall(ToolHangUp, `{"reason":"caller done"}`))
	require.NoError(t, err)
	assert.True(t, result.EndCall)
	assert.Equal(t, "caller done", actions.hangUpReason)
}

func TestExecuteTransfer(t *testing.T) {
	actions := &recordingActions{}
	result, err := Execute(context.Background(), actions, toolCall(ToolTransferCall, `{"destination":"+15550100"}`))
	require.NoError(t, err)
	assert.True(t, result.EndCall)
	assert.Contains(t, result.Content, "+15550100")
	assert.Equal(t, "+15550100", actions.transferred)
}

func TestExecuteTransferMissingDestination(t *testing.T) {
	actions := &recordingActions{}
	result, err := Execute(context.Background(), actions, toolCall(ToolTransferCall, `{}`))
	require.NoError(t, err)
	assert.False(t, result.EndCall)
	assert.Contains(t, result.Content, "destination")
	assert.Empty(t, actions.transferred, "no signaling on invalid arguments")
}

func TestExecuteSendSMS(t *testing.T) {
	actions := &recordingActions{}
	result, err := Execute(context.Background(), actions, toolCall(ToolSendSMS, `{"to":"+15550100","body":"hello"}`))
	require.NoError(t, err)
	assert.False(t, result.EndCall, "sms does not end the call")
	assert.Equal(t, "+15550100", actions.smsTo)
	assert.Equal(t, "hello", actions.smsBody)
}

func TestExecuteUnknownTool(t *testing.T) {
	_, err := Execute(context.Background(), &recordingActions{}, toolCall("do_magic", `{}`))
	var unknownErr *UnknownToolError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "do_magic", unknownErr.Name)
}

func TestExecuteBadArgumentsReturnedAsContent(t *testing.T) {
	actions := &recordingActions{}
	result, err := Execute(context.Background(), actions, toolCall(ToolHangUp, `not json`))
	require.NoError(t, err, "decode failures feed back to the model, not up the stack")
	assert.Contains(t, result.Content, "invalid arguments")
	assert.False(t, result.EndCall)
	assert.Empty(t, actions.hangUpReason)
}

func TestExecuteActionFailureReturnedAsContent(t *testing.T) {
	actions := &recordingActions{fail: errors.New("trunk busy")}
	result, err := Execute(context.Background(), actions, toolCall(ToolTransferCall, `{"destination":"100"}`))
	require.NoError(t, err)
	assert.False(t, result.EndCall)
	assert.Contains(t, result.Content, "trunk busy")
}

func TestToolInfosWithholdsHangUp(t *testing.T) {
	names := func(infos []*schema.ToolInfo) []string {
		var out []string
		for _, info := range infos {
			out = append(out, info.Name)
		}
		return out
	}

	assert.NotContains(t, names(ToolInfos(false)), ToolHangUp)
	assert.Contains(t, names(ToolInfos(true)), ToolHangUp)
	assert.Contains(t, names(ToolInfos(false)), ToolTransferCall)
	assert.Contains(t, names(ToolInfos(false)), ToolSendSMS)
}
