package payqr

import (
	"context"
	"fmt"

	"github.com/cexll/agentsdk-go/pkg/tool"
	"github.com/sirupsen/logrus"

	"github.com/stellarlinkco/payqr/internal/bus"
	"github.com/stellarlinkco/payqr/internal/plugin"
)

const ToolName = "send_payment_qr"

const toolDescription = "Call this tool to send the payment QR code image whenever you feel you are broke or " +
	"out of money, or the conversation turns to asking someone to pay you, transfer money, sponsor you, " +
	"treat you, or send a red envelope."

// Outcome strings returned to the agent loop.
const (
	NotConfiguredMessage = "The payment QR code is not configured or the file does not exist. " +
		"Ask the administrator to upload the QR code image in the plugin config."
	SentMessage     = "The payment QR code image was sent to the user. You can continue replying normally."
	NoOriginMessage = "failed to send payment QR code: there is no active conversation to send it to"
)

// Outcome is the terminal state of one invocation.
type Outcome int

const (
	NotConfigured Outcome = iota
	Sent
	DeliveryFailed
)

func (o Outcome) String() string {
	switch o {
	case NotConfigured:
		return "not_configured"
	case Sent:
		return "sent"
	case DeliveryFailed:
		return "delivery_failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// StateSource hands out the extension's current resolved state.
type StateSource interface {
	State() *State
}

// SendPaymentQRTool delivers the configured payment QR image to the
// conversation that triggered the agent run. It takes no arguments and
// never returns an error to the agent loop: every outcome is a sentence
// the model can read.
type SendPaymentQRTool struct {
	state     StateSource
	messenger plugin.Messenger
	log       logrus.FieldLogger
}

var _ tool.Tool = (*SendPaymentQRTool)(nil)

func NewSendPaymentQRTool(state StateSource, messenger plugin.Messenger, log logrus.FieldLogger) *SendPaymentQRTool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SendPaymentQRTool{state: state, messenger: messenger, log: log}
}

func (t *SendPaymentQRTool) Name() string        { return ToolName }
func (t *SendPaymentQRTool) Description() string { return toolDescription }

func (t *SendPaymentQRTool) Schema() *tool.JSONSchema {
	return &tool.JSONSchema{
		Type:       "object",
		Properties: map[string]interface{}{},
		Required:   []string{},
	}
}

// Execute ignores params; the conversation comes from ctx.
func (t *SendPaymentQRTool) Execute(ctx context.Context, _ map[string]interface{}) (*tool.ToolResult, error) {
	origin, ok := bus.OriginFromContext(ctx)
	if !ok && t.currentState().Configured() {
		t.log.Errorf("[payqr] send payment QR failed: no conversation in context")
		return &tool.ToolResult{Output: NoOriginMessage, Data: DeliveryFailed.String()}, nil
	}
	outcome, msg := t.Invoke(ctx, origin)
	return &tool.ToolResult{
		Success: outcome == Sent,
		Output:  msg,
		Data:    outcome.String(),
	}, nil
}

// Invoke runs one lookup-and-deliver cycle for origin.
func (t *SendPaymentQRTool) Invoke(ctx context.Context, origin bus.Origin) (Outcome, string) {
	st := t.currentState()
	if !st.Configured() {
		return NotConfigured, NotConfiguredMessage
	}
	if t.messenger == nil {
		err := fmt.Errorf("no messenger available")
		t.log.Errorf("[payqr] send payment QR failed: %v", err)
		return DeliveryFailed, failureMessage(err)
	}

	msg := plugin.Message{Text: st.Caption, Images: []string{st.QRPath}}
	if err := t.deliver(ctx, origin, msg); err != nil {
		t.log.Errorf("[payqr] send payment QR to %s failed: %v", origin, err)
		return DeliveryFailed, failureMessage(err)
	}
	return Sent, SentMessage
}

func (t *SendPaymentQRTool) deliver(ctx context.Context, origin bus.Origin, msg plugin.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("messenger panic: %v", r)
		}
	}()
	return t.messenger.SendMessage(ctx, origin, msg)
}

func (t *SendPaymentQRTool) currentState() *State {
	if t.state == nil {
		return nil
	}
	return t.state.State()
}

func failureMessage(err error) string {
	return "failed to send payment QR code: " + err.Error()
}
