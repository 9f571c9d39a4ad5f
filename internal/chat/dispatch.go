package chat

import (
	"github.com/user/gravia/internal/events"
	"github.com/user/gravia/internal/protocol"
)

// dispatch routes one validated frame. Response content goes through the
// assembler; everything else is published as the event of the same name.
func (c *Client) dispatch(frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.MessageChunk:
		c.asm.chunk(f.Message)

	case protocol.MessageEnd:
		if !c.asm.end(events.EndTerminator) {
			c.log.Debug("message_end without open response")
		}

	case protocol.Error:
		c.log.Warn("server error", "message", f.Message)
		if isAuthFailure(f.Message) {
			c.bus.Publish(events.Error{Category: events.CategoryAuth, Message: f.Message})
			c.bus.Publish(events.AuthRequired{Source: "frame", Message: f.Message})
		} else {
			c.bus.Publish(events.Error{Category: events.CategoryServer, Message: f.Message})
		}
		c.asm.end(events.EndError)

	case protocol.SessionCreated:
		if f.SessionID == c.session.id {
			return
		}
		c.session.set(c.ctx, f.SessionID)
		c.log.Info("session created", "session_id", string(f.SessionID))
		c.bus.Publish(events.SessionCreated{ID: f.SessionID})

	case protocol.Event:
		c.asm.touch()
		c.bus.Publish(events.Status{Message: f.Message})

	case protocol.ReasoningStep:
		c.asm.touch()
		c.bus.Publish(events.ReasoningStep{Message: f.Message})

	case protocol.ToolCallStarted:
		c.asm.touch()
		c.bus.Publish(events.ToolCallStarted{Tool: f.Tool})

	case protocol.ToolCallCompleted:
		c.asm.touch()
		c.bus.Publish(events.ToolCallCompleted{Tool: f.Tool})

	case protocol.TTSStart:
		c.bus.Publish(events.TTSStart{Message: f.Message})

	case protocol.TTSComplete:
		c.bus.Publish(events.TTSComplete{Message: f.Message})

	case protocol.TranscriptionPartial:
		c.bus.Publish(events.TranscriptionPartial{Text: f.Message})

	case protocol.TranscriptionFinal:
		c.bus.Publish(events.TranscriptionFinal{Text: f.Message})

	case protocol.TranscriptionStatus:
		c.bus.Publish(events.TranscriptionStatus{Status: f.Status})

	case protocol.TranscriptionError:
		c.bus.Publish(events.TranscriptionError{Message: f.Error})

	case protocol.FileArtifact:
		c.bus.Publish(events.FileArtifact{Name: f.File.Name, Path: f.File.Path, DataB64: f.File.DataB64})

	case protocol.Image:
		c.bus.Publish(events.Image{Data: f.Data, MimeType: f.Mime, Name: f.Name})

	default:
		c.log.Debug("no route for frame", "type", string(frame.Tag()))
	}
}
