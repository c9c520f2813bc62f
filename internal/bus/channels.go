package bus

import (
	"fmt"

	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// EventsChannel returns the Pub/Sub channel for one document's messages.
func EventsChannel(prefix string, id ir.DocID) string {
	return fmt.Sprintf("hypermerge:%s:doc:%s:events", prefix, id)
}

// AllEventsPattern matches the events channel of every document under prefix.
func AllEventsPattern(prefix string) string {
	return fmt.Sprintf("hypermerge:%s:doc:*:events", prefix)
}
