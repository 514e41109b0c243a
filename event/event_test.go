// Copyright 2026 OpenElect Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testEventType = EventType("test.event")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewEventBus(nil, nil)
	defer bus.Stop()

	_, ch := bus.Subscribe(testEventType)
	bus.Publish(testEventType, NewEvent(testEventType, "payload"))

	select {
	case evt := <-ch:
		assert.Equal(t, testEventType, evt.Type)
		assert.Equal(t, "payload", evt.Data)
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublishOnlyMatchingType(t *testing.T) {
	bus := NewEventBus(nil, nil)
	defer bus.Stop()

	_, ch := bus.Subscribe(EventType("other.event"))
	bus.Publish(testEventType, NewEvent(testEventType, nil))

	select {
	case <-ch:
		t.Fatal("received event for a type we did not subscribe to")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeFunc(t *testing.T) {
	bus := NewEventBus(nil, nil)
	defer bus.Stop()

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{})
	bus.SubscribeFunc(testEventType, func(evt Event) {
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Publish(testEventType, NewEvent(testEventType, 42))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, 42, received[0].Data)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil, nil)
	defer bus.Stop()

	subId, ch := bus.Subscribe(testEventType)
	bus.Unsubscribe(testEventType, subId)

	// The channel is closed and no further events arrive
	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(testEventType, NewEvent(testEventType, nil))
}

func TestPublishAsync(t *testing.T) {
	bus := NewEventBus(nil, nil)

	done := make(chan Event, 1)
	bus.SubscribeFunc(testEventType, func(evt Event) {
		done <- evt
	})

	require.True(t, bus.PublishAsync(testEventType, NewEvent(testEventType, "async")))
	select {
	case evt := <-done:
		assert.Equal(t, "async", evt.Data)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for async delivery")
	}

	// After Stop async publishing is refused
	bus.Stop()
	assert.False(t, bus.PublishAsync(testEventType, NewEvent(testEventType, nil)))
}

func TestStopClosesSubscriberChannels(t *testing.T) {
	bus := NewEventBus(nil, nil)
	_, ch := bus.Subscribe(testEventType)
	bus.Stop()
	_, ok := <-ch
	assert.False(t, ok)

	// Stop is idempotent
	bus.Stop()
}
