package chat

import (
	"strings"
	"time"

	"github.com/user/gravia/internal/events"
	"github.com/user/gravia/internal/types"
)

// scheduleFunc runs fn on the event loop after d. The returned timer may be
// stopped; a fire that races a Stop is filtered by the caller's generation.
type scheduleFunc func(d time.Duration, fn func()) *time.Timer

// assembler accumulates the chunks of one streamed response and decides when
// it is complete: on message_end, on error, or when no chunk has arrived for
// the inactivity timeout. At most one response is open at a time.
type assembler struct {
	timeout  time.Duration
	schedule scheduleFunc
	publish  func(events.Event)

	open    bool
	content strings.Builder
	timer   *time.Timer
	gen     uint64
}

func newAssembler(timeout time.Duration, schedule scheduleFunc, publish func(events.Event)) *assembler {
	return &assembler{timeout: timeout, schedule: schedule, publish: publish}
}

// start opens a new response. An already-open response is ended first.
func (a *assembler) start(id types.RequestID, implicit bool) {
	if a.open {
		a.end(events.EndSuperseded)
	}
	a.open = true
	a.content.Reset()
	a.publish(events.Start{RequestID: id, Implicit: implicit})
	a.arm()
}

// chunk appends text to the open response, opening one if needed.
func (a *assembler) chunk(text string) {
	if !a.open {
		a.start("", true)
	}
	a.content.WriteString(text)
	a.arm()
	a.publish(events.Chunk{Text: text})
}

// touch re-arms the inactivity timer for server activity that is not content.
func (a *assembler) touch() {
	if a.open {
		a.arm()
	}
}

// end closes the open response. It reports false when nothing was open, so a
// repeated terminator is a no-op.
func (a *assembler) end(reason events.EndReason) bool {
	if !a.open {
		return false
	}
	a.disarm()
	a.open = false
	content := a.content.String()
	a.content.Reset()
	a.publish(events.End{Reason: reason, Content: content})
	return true
}

func (a *assembler) isOpen() bool {
	return a.open
}

func (a *assembler) arm() {
	a.disarm()
	if a.timeout <= 0 {
		return
	}
	gen := a.gen
	a.timer = a.schedule(a.timeout, func() { a.expire(gen) })
}

// disarm stops the timer and invalidates any fire already in flight.
func (a *assembler) disarm() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

func (a *assembler) expire(gen uint64) {
	if !a.open || gen != a.gen {
		return
	}
	a.timer = nil
	a.end(events.EndInactivity)
}
