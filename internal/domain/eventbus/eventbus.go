package eventbus

import (
	"sync"

	"github.com/asaskevich/EventBus"
)

const (
	TopicAddMessage = "add_message"
	TopicCallEnd    = "call_end"
)

var (
	bus  EventBus.Bus
	once sync.Once
)

// Get returns the process-wide bus. Publishers fire and forget; the
// history worker owns ordering per call.
func Get() EventBus.Bus {
	once.Do(func() {
		bus = EventBus.New()
	})
	return bus
}
