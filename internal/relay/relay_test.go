package relay_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datachat-agent/internal/relay"
	"datachat-agent/internal/utils"
	"datachat-agent/pkg/logger"
)

func testLogger(t *testing.T) utils.ExtendedLogger {
	t.Helper()
	return logger.CreateTestLogger(filepath.Join(t.TempDir(), "relay.log"), "debug")
}

func parseFrames(t *testing.T, raw []byte) []relay.Event {
	t.Helper()
	var events []relay.Event
	for _, block := range strings.Split(strings.TrimSpace(string(raw)), "\n\n") {
		if block == "" {
			continue
		}
		payload, ok := strings.CutPrefix(block, "data: ")
		require.True(t, ok, "frame missing data prefix: %q", block)
		var ev relay.Event
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	return events
}

func TestStreamDeliversEventsInOrder(t *testing.T) {
	rel := relay.New(testLogger(t))
	rel.OnToken("Hello")
	rel.OnToolStart("tavily_search")
	rel.OnToken(" world")
	rel.Start(func() error { return nil })

	var buf bytes.Buffer
	require.NoError(t, rel.Stream(context.Background(), &buf))

	events := parseFrames(t, buf.Bytes())
	require.Len(t, events, 4)
	assert.Equal(t, relay.Event{Type: relay.EventDelta, Text: "Hello"}, events[0])
	assert.Equal(t, relay.Event{Type: relay.EventStatus, Message: "Searching the web..."}, events[1])
	assert.Equal(t, relay.Event{Type: relay.EventDelta, Text: " world"}, events[2])
	assert.Equal(t, relay.EventDone, events[3].Type)
}

func TestStreamAlwaysEndsWithSingleDone(t *testing.T) {
	rel := relay.New(testLogger(t))
	rel.Start(func() error {
		rel.OnToken("partial")
		rel.OnCompletion()
		rel.OnCompletion()
		return nil
	})

	var buf bytes.Buffer
	require.NoError(t, rel.Stream(context.Background(), &buf))

	events := parseFrames(t, buf.Bytes())
	doneCount := 0
	for _, ev := range events {
		if ev.Type == relay.EventDone {
			doneCount++
		}
	}
	assert.Equal(t, 1, doneCount)
	assert.Equal(t, relay.EventDone, events[len(events)-1].Type)
}

func TestStreamReportsProducerError(t *testing.T) {
	rel := relay.New(testLogger(t))
	rel.Start(func() error { return errors.New("model unavailable") })

	var buf bytes.Buffer
	require.NoError(t, rel.Stream(context.Background(), &buf))

	events := parseFrames(t, buf.Bytes())
	require.Len(t, events, 2)
	assert.Equal(t, relay.EventError, events[0].Type)
	assert.Equal(t, "model unavailable", events[0].Message)
	assert.Equal(t, relay.EventDone, events[1].Type)
}

func TestStreamReportsLateErrorAfterCompletion(t *testing.T) {
	rel := relay.New(testLogger(t))
	rel.Start(func() error {
		rel.OnToken("answer")
		rel.OnCompletion()
		return errors.New("late failure")
	})

	var buf bytes.Buffer
	require.NoError(t, rel.Stream(context.Background(), &buf))

	events := parseFrames(t, buf.Bytes())
	require.Len(t, events, 3)
	assert.Equal(t, relay.EventDelta, events[0].Type)
	assert.Equal(t, relay.EventError, events[1].Type)
	assert.Equal(t, "late failure", events[1].Message)
	assert.Equal(t, relay.EventDone, events[2].Type)
}

func TestStreamRecoversProducerPanic(t *testing.T) {
	rel := relay.New(testLogger(t))
	rel.Start(func() error { panic("tool exploded") })

	var buf bytes.Buffer
	require.NoError(t, rel.Stream(context.Background(), &buf))

	events := parseFrames(t, buf.Bytes())
	require.Len(t, events, 2)
	assert.Equal(t, relay.EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "tool exploded")
	assert.Equal(t, relay.EventDone, events[1].Type)
}

func TestStreamSuppressesOutputOnClientCancel(t *testing.T) {
	rel := relay.New(testLogger(t))
	rel.Start(func() error {
		time.Sleep(20 * time.Millisecond)
		return errors.New("nobody is listening")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := rel.Stream(ctx, &buf)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.Bytes())
}

func TestStreamTimeoutClosesWithErrorThenDone(t *testing.T) {
	rel := relay.New(testLogger(t))
	rel.Start(func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, rel.Stream(ctx, &buf))

	events := parseFrames(t, buf.Bytes())
	require.Len(t, events, 2)
	assert.Equal(t, relay.EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "maximum allowed duration")
	assert.Equal(t, relay.EventDone, events[1].Type)
}

func TestPushDropsInsteadOfBlockingWhenFull(t *testing.T) {
	rel := relay.New(testLogger(t))
	for i := 0; i < 300; i++ {
		rel.OnToken("x")
	}
	rel.Start(func() error { return nil })

	var buf bytes.Buffer
	require.NoError(t, rel.Stream(context.Background(), &buf))

	events := parseFrames(t, buf.Bytes())
	deltas := 0
	for _, ev := range events {
		if ev.Type == relay.EventDelta {
			deltas++
		}
	}
	assert.Equal(t, 256, deltas)
	assert.Equal(t, relay.EventDone, events[len(events)-1].Type)
}

func TestStatusForKnownAndUnknownTools(t *testing.T) {
	assert.Equal(t, "Searching documents...", relay.StatusFor("search_vector_db"))
	assert.Equal(t, "Analyzing data...", relay.StatusFor("PythonREPLTool"))
	assert.Equal(t, "Running tool: frobnicate...", relay.StatusFor("frobnicate"))
}
