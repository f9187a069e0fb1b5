package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avollmer/stockwatch/internal/dispatch"
)

type capturingPublisher struct {
	updates []dispatch.Update
}

func (p *capturingPublisher) Publish(u dispatch.Update) bool {
	p.updates = append(p.updates, u)
	return true
}

func TestParseUpdate_Valid(t *testing.T) {
	update, err := parseUpdate(`{"symbol":"AAPL","payload":{"price":187.2,"volume":1200}}`)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", update.Symbol)
	assert.JSONEq(t, `{"price":187.2,"volume":1200}`, string(update.Payload))
}

func TestParseUpdate_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "tick AAPL 187.2"},
		{"missing symbol", `{"payload":{"price":1}}`},
		{"missing payload", `{"symbol":"AAPL"}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseUpdate(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestHandle_ForwardsValidDropsMalformed(t *testing.T) {
	pub := &capturingPublisher{}
	c := &Consumer{dispatcher: pub}

	c.handle(`{"symbol":"AAPL","payload":{"price":1}}`)
	c.handle(`garbage`)
	c.handle(`{"symbol":"MSFT","payload":{"price":2}}`)

	require.Len(t, pub.updates, 2)
	assert.Equal(t, "AAPL", pub.updates[0].Symbol)
	assert.Equal(t, "MSFT", pub.updates[1].Symbol)
}
