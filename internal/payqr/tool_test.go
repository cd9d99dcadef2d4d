package payqr

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/payqr/internal/bus"
	"github.com/stellarlinkco/payqr/internal/plugin"
)

type sentMessage struct {
	origin bus.Origin
	msg    plugin.Message
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *recordingMessenger) SendMessage(_ context.Context, origin bus.Origin, msg plugin.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{origin: origin, msg: msg})
	return nil
}

func (m *recordingMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fixedState struct{ st *State }

func (f fixedState) State() *State { return f.st }

var testOrigin = bus.Origin{Channel: "telegram", ChatID: "42"}

func newTestTool(st *State, m plugin.Messenger) (*SendPaymentQRTool, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return NewSendPaymentQRTool(fixedState{st}, m, logger), hook
}

func TestTool_Metadata(t *testing.T) {
	tl, _ := newTestTool(nil, nil)
	assert.Equal(t, "send_payment_qr", tl.Name())
	assert.Contains(t, tl.Description(), "out of money")

	schema := tl.Schema()
	require.NotNil(t, schema)
	assert.Equal(t, "object", schema.Type)
	assert.Empty(t, schema.Properties)
	assert.Empty(t, schema.Required)
}

func TestTool_Invoke_NotConfigured(t *testing.T) {
	cases := map[string]*State{
		"nil state":  nil,
		"empty path": {RawPath: "qrcode.png", Caption: "hi"},
	}
	for name, st := range cases {
		t.Run(name, func(t *testing.T) {
			m := &recordingMessenger{}
			tl, hook := newTestTool(st, m)

			outcome, msg := tl.Invoke(context.Background(), testOrigin)
			assert.Equal(t, NotConfigured, outcome)
			assert.Equal(t, NotConfiguredMessage, msg)
			assert.Zero(t, m.count())
			assert.Empty(t, hook.AllEntries())
		})
	}
}

func TestTool_Invoke_Sent(t *testing.T) {
	m := &recordingMessenger{}
	tl, _ := newTestTool(&State{QRPath: "/data/qr.png", Caption: "Pay me! 👇"}, m)

	outcome, msg := tl.Invoke(context.Background(), testOrigin)
	assert.Equal(t, Sent, outcome)
	assert.Equal(t, SentMessage, msg)

	require.Equal(t, 1, m.count())
	got := m.sent[0]
	assert.Equal(t, testOrigin, got.origin)
	assert.Equal(t, "Pay me! 👇", got.msg.Text)
	assert.Equal(t, []string{"/data/qr.png"}, got.msg.Images)
}

func TestTool_Invoke_DeliveryFailed(t *testing.T) {
	m := &recordingMessenger{err: errors.New("chat not found")}
	tl, hook := newTestTool(&State{QRPath: "/data/qr.png"}, m)

	outcome, msg := tl.Invoke(context.Background(), testOrigin)
	assert.Equal(t, DeliveryFailed, outcome)
	assert.Equal(t, "failed to send payment QR code: chat not found", msg)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Contains(t, entry.Message, "telegram:42")
}

func TestTool_Invoke_MessengerPanics(t *testing.T) {
	m := plugin.MessengerFunc(func(context.Context, bus.Origin, plugin.Message) error {
		panic("adapter crashed")
	})
	tl, _ := newTestTool(&State{QRPath: "/data/qr.png"}, m)

	outcome, msg := tl.Invoke(context.Background(), testOrigin)
	assert.Equal(t, DeliveryFailed, outcome)
	assert.Contains(t, msg, "adapter crashed")
}

func TestTool_Invoke_NoMessenger(t *testing.T) {
	tl, hook := newTestTool(&State{QRPath: "/data/qr.png"}, nil)

	outcome, msg := tl.Invoke(context.Background(), testOrigin)
	assert.Equal(t, DeliveryFailed, outcome)
	assert.Contains(t, msg, "failed to send payment QR code")
	assert.Len(t, hook.AllEntries(), 1)
}

func TestTool_Invoke_Repeatable(t *testing.T) {
	m := &recordingMessenger{}
	tl, _ := newTestTool(&State{QRPath: "/data/qr.png"}, m)

	for i := 0; i < 3; i++ {
		outcome, _ := tl.Invoke(context.Background(), testOrigin)
		assert.Equal(t, Sent, outcome)
	}
	assert.Equal(t, 3, m.count())
}

func TestTool_Execute_UsesOriginFromContext(t *testing.T) {
	m := &recordingMessenger{}
	tl, _ := newTestTool(&State{QRPath: "/data/qr.png", Caption: "c"}, m)

	ctx := bus.WithOrigin(context.Background(), bus.Origin{Channel: "webui", ChatID: "abc"})
	res, err := tl.Execute(ctx, map[string]interface{}{"ignored": true})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, SentMessage, res.Output)
	assert.Equal(t, "sent", res.Data)

	require.Equal(t, 1, m.count())
	assert.Equal(t, "webui:abc", m.sent[0].origin.String())
}

func TestTool_Execute_NeverReturnsError(t *testing.T) {
	failing := &recordingMessenger{err: errors.New("boom")}
	tl, _ := newTestTool(&State{QRPath: "/data/qr.png"}, failing)

	ctx := bus.WithOrigin(context.Background(), testOrigin)
	res, err := tl.Execute(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "delivery_failed", res.Data)
	assert.Equal(t, "failed to send payment QR code: boom", res.Output)

	unconfigured, _ := newTestTool(nil, failing)
	res, err = unconfigured.Execute(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, NotConfiguredMessage, res.Output)
}

func TestTool_Execute_WithoutOrigin(t *testing.T) {
	m := &recordingMessenger{}
	tl, hook := newTestTool(&State{QRPath: "/data/qr.png"}, m)

	res, err := tl.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, NoOriginMessage, res.Output)
	assert.Zero(t, m.count())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	unconfigured, _ := newTestTool(nil, m)
	res, err = unconfigured.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, NotConfiguredMessage, res.Output)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "not_configured", NotConfigured.String())
	assert.Equal(t, "sent", Sent.String())
	assert.Equal(t, "delivery_failed", DeliveryFailed.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
}
