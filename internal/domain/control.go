package domain

import "sync"

const (
	// DefaultLED is the LED command before any caller sets one.
	DefaultLED = "off"
	// DefaultMessage is the pending message before any caller sets one.
	DefaultMessage = "Nenhuma mensagem"
)

// Status is what a polling device observes.
type Status struct {
	LED     string `json:"led"`
	Message string `json:"mensagem"`
}

// ControlState holds the LED command and the pending outbound message for
// the device. One instance is owned by the process and shared by handlers.
//
// The message is delivered once: ReadStatus returns it and clears it in the
// same critical section, so a second poll sees "".
type ControlState struct {
	mu      sync.Mutex
	led     string
	message string
}

// NewControlState creates control state with the default LED and message.
func NewControlState() *ControlState {
	return &ControlState{
		led:     DefaultLED,
		message: DefaultMessage,
	}
}

// SetLED overwrites the LED command when value is non-nil and returns the
// current command. Any text is accepted.
func (c *ControlState) SetLED(value *string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value != nil {
		c.led = *value
	}
	return c.led
}

// SetMessage overwrites the pending message when value is non-nil and
// returns the current message.
func (c *ControlState) SetMessage(value *string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value != nil {
		c.message = *value
	}
	return c.message
}

// ReadStatus returns the LED command and the pending message, then clears
// the message.
func (c *ControlState) ReadStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{LED: c.led, Message: c.message}
	c.message = ""
	return st
}
