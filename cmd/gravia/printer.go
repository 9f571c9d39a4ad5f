package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"

	"github.com/user/gravia/internal/events"
	"github.com/user/gravia/internal/protocol"
	"github.com/user/gravia/internal/types"
)

// printer renders client events on a terminal and saves received files.
// It is driven from one goroutine.
type printer struct {
	out       io.Writer
	artifacts types.ArtifactStore
	session   types.SessionID
	streaming bool
}

func newPrinter(out io.Writer, artifacts types.ArtifactStore, session types.SessionID) *printer {
	return &printer{out: out, artifacts: artifacts, session: session}
}

func (p *printer) handle(ctx context.Context, e events.Event) {
	switch ev := e.(type) {
	case events.Connecting:
		if ev.Attempt > 1 {
			p.line("connecting (attempt %d)", ev.Attempt)
		}
	case events.Open:
		if ev.Pending > 0 {
			p.line("connected, sending %d queued message(s)", ev.Pending)
		} else {
			p.line("connected")
		}
	case events.Closed:
		if !ev.Clean {
			p.line("connection lost (%d %s)", ev.Code, ev.Reason)
		}
	case events.Reconnecting:
		p.line("reconnecting in %s (attempt %d)", ev.Delay, ev.Attempt)
	case events.Error:
		switch {
		case ev.Category == events.CategoryServer:
			p.line("error: %s", ev.Message)
		case ev.Category == events.CategoryAuth:
			// AuthRequired follows and is what the user sees.
		case ev.Terminal:
			p.line("giving up: %s. Type /retry to connect again.", ev.Message)
		default:
			slog.Debug("transport error", "error", ev.String())
		}
	case events.AuthRequired:
		if ev.Message != "" {
			p.line("authentication required (%s). Run `gravia setup` to set a token.", ev.Message)
		} else {
			p.line("authentication required. Run `gravia setup` to set a token.")
		}

	case events.SessionCreated:
		p.session = ev.ID
		p.line("session %s", ev.ID)
	case events.SessionCleared:
		p.session = ""
		p.line("started a new chat")

	case events.Start:
		p.streaming = true
	case events.Chunk:
		fmt.Fprint(p.out, ev.Text)
	case events.End:
		if p.streaming {
			fmt.Fprintln(p.out)
		}
		p.streaming = false
		if ev.Reason != events.EndTerminator {
			p.line("[response %s]", ev.Reason)
		}

	case events.Status:
		p.line("... %s", ev.Message)
	case events.ReasoningStep:
		p.line("thinking: %s", ev.Message)
	case events.ToolCallStarted:
		p.line("tool started: %s", ev.Tool)
	case events.ToolCallCompleted:
		p.line("tool completed: %s", ev.Tool)
	case events.TTSStart:
		p.line("speaking")
	case events.TTSComplete:
		p.line("done speaking")
	case events.TranscriptionPartial:
		p.line("heard: %s", ev.Text)
	case events.TranscriptionFinal:
		p.line("transcribed: %s", ev.Text)
	case events.TranscriptionStatus:
		p.line("listening: %s", ev.Status)
	case events.TranscriptionError:
		p.line("transcription error: %s", ev.Message)

	case events.FileArtifact:
		p.saveFile(ctx, ev)
	case events.Image:
		p.saveImage(ctx, ev)
	}
}

// line prints one status line, breaking out of a streaming response first.
func (p *printer) line(format string, args ...any) {
	if p.streaming {
		fmt.Fprintln(p.out)
		p.streaming = false
	}
	fmt.Fprintf(p.out, "* "+format+"\n", args...)
}

func (p *printer) saveFile(ctx context.Context, ev events.FileArtifact) {
	ref := protocol.FileRef{Name: ev.Name, Path: ev.Path, DataB64: ev.DataB64}
	data, err := ref.Decode()
	if err != nil {
		p.line("could not decode file %s: %v", ev.Name, err)
		return
	}
	source := "inline"
	if len(data) == 0 {
		source = ev.Path
	}
	p.store(ctx, ev.Name, mime.TypeByExtension(filepath.Ext(ev.Name)), source, data)
}

func (p *printer) saveImage(ctx context.Context, ev events.Image) {
	img := protocol.Image{Data: ev.Data, Mime: ev.MimeType, Name: ev.Name}
	mimeType, data, err := img.Decode()
	if err != nil {
		p.line("could not decode image: %v", err)
		return
	}
	name := ev.Name
	if name == "" {
		name = "image"
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			name += exts[0]
		}
	}
	p.store(ctx, name, mimeType, "image", data)
}

func (p *printer) store(ctx context.Context, name, mimeType, source string, data []byte) {
	if p.artifacts == nil {
		p.line("received %s (%d bytes)", name, len(data))
		return
	}
	meta, err := p.artifacts.Put(ctx, p.session, name, mimeType, source, data)
	if err != nil {
		slog.Warn("store artifact failed", "name", name, "error", err)
		p.line("could not save %s: %v", name, err)
		return
	}
	p.line("saved %s (%d bytes, id %s)", name, meta.Size, meta.ID)
}
