package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewControlState(t *testing.T) {
	c := NewControlState()

	st := c.ReadStatus()
	assert.Equal(t, DefaultLED, st.LED)
	assert.Equal(t, DefaultMessage, st.Message)
}

func TestControlStateSetLEDPersistsAcrossPolls(t *testing.T) {
	c := NewControlState()

	assert.Equal(t, "on", c.SetLED(String("on")))

	assert.Equal(t, "on", c.ReadStatus().LED)
	assert.Equal(t, "on", c.ReadStatus().LED)
}

func TestControlStateNilLeavesValue(t *testing.T) {
	c := NewControlState()
	c.SetLED(String("on"))
	c.SetMessage(String("regar"))

	assert.Equal(t, "on", c.SetLED(nil))
	assert.Equal(t, "regar", c.SetMessage(nil))
}

func TestControlStateAcceptsAnyText(t *testing.T) {
	c := NewControlState()

	assert.Equal(t, "blink-3x", c.SetLED(String("blink-3x")))
	assert.Equal(t, "", c.SetLED(String("")))
}

func TestControlStateMessageDeliveredOnce(t *testing.T) {
	c := NewControlState()
	c.SetMessage(String("hello"))

	first := c.ReadStatus()
	second := c.ReadStatus()

	assert.Equal(t, "hello", first.Message)
	assert.Equal(t, "", second.Message)
}

func TestControlStateDefaultMessageDeliveredOnce(t *testing.T) {
	c := NewControlState()

	assert.Equal(t, DefaultMessage, c.ReadStatus().Message)
	assert.Equal(t, "", c.ReadStatus().Message)
}

func TestControlStateSetMessageDoesNotConsume(t *testing.T) {
	c := NewControlState()
	c.SetMessage(String("hello"))

	assert.Equal(t, "hello", c.SetMessage(nil))
	assert.Equal(t, "hello", c.ReadStatus().Message)
}

func TestControlStateConcurrentPollsDeliverOnce(t *testing.T) {
	c := NewControlState()
	c.SetMessage(String("only-once"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ReadStatus().Message == "only-once" {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, delivered)
}
