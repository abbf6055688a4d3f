package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"

	log "voxline-server-golang/logger"
)

// Tool names exposed to the model. The set is closed: dispatch is an
// explicit switch, and an unknown name is a typed error the caller feeds
// back into the conversation.
const (
	ToolHangUp       = "hang_up"
	ToolTransferCall = "transfer_call"
	ToolSendSMS      = "send_sms"
)

// Actions is what tool execution is allowed to do to the call. The
// telephony session implements it.
type Actions interface {
	HangUp(ctx context.Context, reason string) error
	Transfer(ctx context.Context, destination string) error
	SendSMS(ctx context.Context, to, body string) error
}

// UnknownToolError reports a model-invented tool name.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Result is the outcome of one tool invocation. Content goes back to the
// model as the tool message; EndCall stops the dialogue loop entirely.
type Result struct {
	Content string
	EndCall bool
}

type hangUpArgs struct {
	Reason string `json:"reason"`
}

type transferCallArgs struct {
	Destination string `json:"destination"`
}

type sendSMSArgs struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Execute dispatches one accumulated tool call. Argument decode failures
// are returned as content, not errors, so the model can correct itself on
// the next round.
func Execute(ctx context.Context, actions Actions, call schema.ToolCall) (Result, error) {
	name := call.Function.Name
	args := call.Function.Arguments
	log.Infof("executing tool %s, args: %s", name, args)
	startTs := time.Now()

	var result Result
	var err error
	switch name {
	case ToolHangUp:
		var a hangUpArgs
		if decodeErr := sonic.UnmarshalString(args, &a); decodeErr != nil {
			return Result{Content: fmt.Sprintf("invalid arguments for %s: %v", name, decodeErr)}, nil
		}
		if err = actions.HangUp(ctx, a.Reason); err == nil {
			result = Result{Content: "the call has been ended", EndCall: true}
		}
	case ToolTransferCall:
		var a transferCallArgs
		if decodeErr := sonic.UnmarshalString(args, &a); decodeErr != nil {
			return Result{Content: fmt.Sprintf("invalid arguments for %s: %v", name, decodeErr)}, nil
		}
		if a.Destination == "" {
			return Result{Content: "transfer_call requires a destination"}, nil
		}
		if err = actions.Transfer(ctx, a.Destination); err == nil {
			result = Result{Content: fmt.Sprintf("the call is being transferred to %s", a.Destination), EndCall: true}
		}
	case ToolSendSMS:
		var a sendSMSArgs
		if decodeErr := sonic.UnmarshalString(args, &a); decodeErr != nil {
			return Result{Content: fmt.Sprintf("invalid arguments for %s: %v", name, decodeErr)}, nil
		}
		if a.To == "" || a.Body == "" {
			return Result{Content: "send_sms requires both to and body"}, nil
		}
		if err = actions.SendSMS(ctx, a.To, a.Body); err == nil {
			result = Result{Content: fmt.Sprintf("sms sent to %s", a.To)}
		}
	default:
		return Result{}, &UnknownToolError{Name: name}
	}

	if err != nil {
		log.Errorf("tool %s failed after %dms: %v", name, time.Since(startTs).Milliseconds(), err)
		return Result{Content: fmt.Sprintf("tool %s failed: %v", name, err)}, nil
	}
	log.Infof("tool %s finished in %dms", name, time.Since(startTs).Milliseconds())
	return result, nil
}

// ToolInfos returns the tool declarations for model binding. The first
// response of a call withholds hang_up so the bot cannot open the
// conversation by ending it.
func ToolInfos(includeHangUp bool) []*schema.ToolInfo {
	infos := []*schema.ToolInfo{
		{
			Name: ToolTransferCall,
			Desc: "Transfer the caller to another phone number or extension.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"destination": {
					Type:     schema.String,
					Desc:     "Phone number or extension to transfer the call to",
					Required: true,
				},
			}),
		},
		{
			Name: ToolSendSMS,
			Desc: "Send a text message to a phone number.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"to": {
					Type:     schema.String,
					Desc:     "Recipient phone number",
					Required: true,
				},
				"body": {
					Type:     schema.String,
					Desc:     "Text message body",
					Required: true,
				},
			}),
		},
	}
	if includeHangUp {
		infos = append(infos, &schema.ToolInfo{
			Name: ToolHangUp,
			Desc: "End the call politely once the conversation is finished.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"reason": {
					Type: schema.String,
					Desc: "Short reason for ending the call",
				},
			}),
		})
	}
	return infos
}
