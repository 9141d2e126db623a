package hearing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name   string
		from   ConnectionState
		ev     Event
		budget bool
		want   ConnectionState
	}{
		{"begin", Disconnected, EventBegin, true, Connecting},
		{"open", Connecting, EventOpened, true, Connected},
		{"initial dial fails with budget", Connecting, EventClosed, true, Reconnecting},
		{"initial dial fails without budget", Connecting, EventClosed, false, Exhausted},
		{"loss with budget", Connected, EventClosed, true, Reconnecting},
		{"loss without budget", Connected, EventClosed, false, Exhausted},
		{"timer keeps reconnecting", Reconnecting, EventTimerFired, true, Reconnecting},
		{"reopen", Reconnecting, EventOpened, true, Connected},
		{"failed reopen with budget", Reconnecting, EventClosed, true, Reconnecting},
		{"failed reopen spends budget", Reconnecting, EventClosed, false, Exhausted},
		{"exhausted ignores close", Exhausted, EventClosed, true, Exhausted},
		{"exhausted ignores begin", Exhausted, EventBegin, true, Exhausted},
		{"exhausted ignores timer", Exhausted, EventTimerFired, true, Exhausted},
		{"connected ignores begin", Connected, EventBegin, true, Connected},
		{"disconnected ignores close", Disconnected, EventClosed, true, Disconnected},
		{"teardown from connected", Connected, EventTeardown, true, Disconnected},
		{"teardown from reconnecting", Reconnecting, EventTeardown, true, Disconnected},
		{"teardown from exhausted", Exhausted, EventTeardown, false, Disconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Next(tt.from, tt.ev, tt.budget))
		})
	}
}

func TestConnectionState_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]ConnectionState{"state": Reconnecting})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"reconnecting"}`, string(data))
	assert.Equal(t, "unknown", ConnectionState(42).String())

	var back map[string]ConnectionState
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Reconnecting, back["state"])
	assert.Error(t, json.Unmarshal([]byte(`{"state":"asleep"}`), &back))
}

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Delay(i+1), "attempt %d", i+1)
	}

	assert.True(t, b.Allows(5))
	assert.False(t, b.Allows(6))
	assert.Zero(t, Backoff{}.Delay(3))
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/cases/c1/hearing/ws?session_id=s1"},
		{"https://court.example.com/api/", "wss://court.example.com/api/cases/c1/hearing/ws?session_id=s1"},
		{"wss://court.example.com", "wss://court.example.com/cases/c1/hearing/ws?session_id=s1"},
	}
	for _, tt := range tests {
		got, err := SocketURL(tt.base, "c1", "s1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := SocketURL("ftp://x", "c1", "s1")
	assert.Error(t, err)
	_, err = SocketURL("http://", "c1", "s1")
	assert.Error(t, err)
}

func TestParseFrame(t *testing.T) {
	f, err := parseFrame([]byte(`{"role":"judge","content":"Proceed.","sequence":4}`))
	require.NoError(t, err)
	assert.Equal(t, frameUtterance, f.kind)
	assert.Equal(t, sequencer.RoleJudge, f.message.Role)
	assert.Equal(t, 4, f.message.Sequence)

	f, err = parseFrame([]byte(`{"event":"hearing_concluded"}`))
	require.NoError(t, err)
	assert.Equal(t, frameConcluded, f.kind)

	f, err = parseFrame([]byte(`{"error":"Hearing not found"}`))
	require.NoError(t, err)
	assert.Equal(t, frameError, f.kind)
	assert.Equal(t, "Hearing not found", f.err)

	f, err = parseFrame([]byte(`{"event":"typing"}`))
	require.NoError(t, err)
	assert.Equal(t, frameUnknown, f.kind)

	malformed := []string{
		``,
		`not json`,
		`[]`,
		`{"role":"judge","content":"x"}`,
		`{"role":"judge","sequence":2}`,
		`{"role":"bailiff","content":"x","sequence":2}`,
		`{"role":"judge","content":"x","sequence":0}`,
		`{"error":42}`,
	}
	for _, raw := range malformed {
		assert.NotPanics(t, func() {
			_, err := parseFrame([]byte(raw))
			assert.ErrorIs(t, err, errMalformedFrame, raw)
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	data, err := encodeFrame(sequencer.RoleDefendant, "I paid on time.")
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"defendant","content":"I paid on time."}`, string(data))
}
