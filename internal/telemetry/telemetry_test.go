package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gesture_lock/internal/gesture"
	"github.com/relabs-tech/gesture_lock/internal/lock"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu       sync.Mutex
	pubs     []published
	handlers map[string]mqtt.MessageHandler
	subErr   error
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, published{topic, retained, payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = map[string]mqtt.MessageHandler{}
	}
	c.handlers[topic] = h
	return doneToken{err: c.subErr}
}

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	h(nil, &fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

var testTopics = Topics{State: "lock/state", Outcome: "lock/outcome", Fault: "lock/fault", Command: "lock/cmd"}

func TestPublisherEvents(t *testing.T) {
	c := &fakeClient{}
	p := NewPublisher(c, testTopics)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.StateChanged(lock.Armed, lock.Comparing)
	p.Recorded(50, nil)
	p.Compared(gesture.Outcome{Tolerance: 1000, Match: true})
	p.Faulted(errors.New("bus timeout"))

	require.Len(t, c.pubs, 4)

	assert.Equal(t, "lock/state", c.pubs[0].topic)
	assert.True(t, c.pubs[0].retained, "state is retained")
	e, err := Decode(c.pubs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, KindState, e.Kind)
	assert.Equal(t, "comparing", e.State)
	assert.Equal(t, "armed", e.From)
	assert.Equal(t, "2026-03-01T12:00:00Z", e.Time)
	ts, err := e.Timestamp()
	require.NoError(t, err)
	assert.True(t, ts.Equal(fixed))
	_, err = uuid.Parse(e.ID)
	assert.NoError(t, err)

	e, err = Decode(c.pubs[1].payload)
	require.NoError(t, err)
	assert.Equal(t, "lock/outcome", c.pubs[1].topic)
	assert.Equal(t, KindRecorded, e.Kind)
	assert.Equal(t, 50, e.Samples)
	assert.Empty(t, e.Error)

	e, err = Decode(c.pubs[2].payload)
	require.NoError(t, err)
	require.NotNil(t, e.Outcome)
	assert.True(t, e.Outcome.Match)
	assert.False(t, c.pubs[2].retained)

	e, err = Decode(c.pubs[3].payload)
	require.NoError(t, err)
	assert.Equal(t, "lock/fault", c.pubs[3].topic)
	assert.Equal(t, "bus timeout", e.Error)

	ids := map[string]bool{}
	for _, pub := range c.pubs {
		e, _ := Decode(pub.payload)
		ids[e.ID] = true
	}
	assert.Len(t, ids, 4, "ids are unique")
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}

func TestWatchDeliversDecodedEvents(t *testing.T) {
	c := &fakeClient{}
	var got []string
	require.NoError(t, Watch(c, testTopics, func(topic string, e Event) {
		got = append(got, topic+":"+string(e.Kind))
	}))
	assert.Len(t, c.handlers, 3)

	b, _ := json.Marshal(Event{ID: "1", Kind: KindFault, Error: "x"})
	c.deliver("lock/fault", b)
	c.deliver("lock/state", []byte("garbage"))
	assert.Equal(t, []string{"lock/fault:fault"}, got)

	c2 := &fakeClient{subErr: errors.New("denied")}
	assert.Error(t, Watch(c2, testTopics, func(string, Event) {}))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    string
		err     bool
	}{
		{"record", CmdRecord, false},
		{" record\n", CmdRecord, false},
		{`{"cmd":"record"}`, CmdRecord, false},
		{`{"cmd":"open"}`, "", true},
		{"unlock", "", true},
		{`{"cmd":`, "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		cmd, err := ParseCommand([]byte(tt.payload))
		if tt.err {
			assert.Error(t, err, tt.payload)
			continue
		}
		require.NoError(t, err, tt.payload)
		assert.Equal(t, tt.want, cmd)
	}
	_, err := ParseCommand([]byte("unlock"))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

type fakeButton struct {
	presses int
	busy    bool
}

func (b *fakeButton) PressButton() bool {
	if b.busy {
		return false
	}
	b.presses++
	return true
}

func TestServeCommands(t *testing.T) {
	c := &fakeClient{}
	btn := &fakeButton{}
	require.NoError(t, ServeCommands(c, "lock/cmd", btn))

	c.deliver("lock/cmd", []byte("record"))
	c.deliver("lock/cmd", []byte("explode"))
	assert.Equal(t, 1, btn.presses)

	btn.busy = true
	assert.False(t, HandleCommand(btn, []byte("record")))
}

func TestSendCommand(t *testing.T) {
	c := &fakeClient{}
	require.NoError(t, SendCommand(c, "lock/cmd", CmdRecord))
	require.Len(t, c.pubs, 1)
	cmd, err := ParseCommand(c.pubs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, CmdRecord, cmd)
}
