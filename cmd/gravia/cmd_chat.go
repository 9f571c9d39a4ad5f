package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/gravia/internal/chat"
	"github.com/user/gravia/internal/config"
	"github.com/user/gravia/internal/events"
	"github.com/user/gravia/internal/state"
	"github.com/user/gravia/internal/types"
)

// maxAttachmentSize bounds files read for /attach.
const maxAttachmentSize = 10 << 20

var errQuit = errors.New("quit")

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("agent", "", "agent to address (default chat.agent)")
	chatCmd.Flags().Bool("new", false, "start a new chat instead of resuming the last session")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat. Lines you type are sent as queries and the
reply streams in as it is generated.

Commands:
  /new            start a new chat
  /stop           interrupt the current response
  /attach <path>  attach a file to the next message
  /voice          switch the server to voice mode
  /speak <text>   ask the server to read text aloud
  /hush           stop speaking
  /listen         start voice input
  /unlisten       stop voice input
  /retry          reconnect after the client gave up
  /quit           exit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func clientConfig(cfg *config.Config) chat.Config {
	return chat.Config{
		BaseURL:              cfg.Server.BaseURL,
		AuthToken:            cfg.Server.AuthToken,
		ProfilePath:          cfg.Server.ProfilePath,
		Agent:                cfg.Chat.Agent,
		InactivityTimeout:    cfg.InactivityTimeout(),
		ReconnectBase:        cfg.ReconnectBase(),
		ReconnectMax:         cfg.ReconnectMax(),
		MaxReconnectAttempts: cfg.Chat.MaxReconnectAttempts,
		PingInterval:         cfg.PingInterval(),
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	agent, _ := cmd.Flags().GetString("agent")
	fresh, _ := cmd.Flags().GetBool("new")

	sessions := state.NewSessionStore(cfg.DataDir)
	if fresh {
		if err := sessions.Clear(context.Background()); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
	}

	opts := []chat.Option{chat.WithSessionStore(sessions)}
	if cfg.Chat.TraceFrames {
		opts = append(opts, chat.WithFrameTap(state.NewFrameLog(cfg.DataDir)))
	}
	client := chat.New(clientConfig(cfg), opts...)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sid, err := client.SessionID(ctx)
	if err != nil {
		return err
	}
	p := newPrinter(os.Stdout, state.NewArtifactStore(cfg.DataDir), sid)

	evs := make(chan events.Event, 256)
	unsubscribe := client.Events().Subscribe(func(e events.Event) {
		select {
		case evs <- e:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	slog.Info("chat started", "server", cfg.Server.BaseURL, "session_id", sid)
	if sid.IsSet() {
		fmt.Printf("* resuming session %s\n", sid)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-evs:
				p.handle(ctx, e)
			}
		}
	})
	g.Go(func() error {
		r := &repl{client: client, agent: agent}
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := r.handle(ctx, line); err != nil {
					if errors.Is(err, errQuit) {
						return err
					}
					fmt.Printf("* %v\n", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// readLines forwards stdin lines until EOF, then closes out.
func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// chatClient is the part of *chat.Client the REPL drives.
type chatClient interface {
	Send(ctx context.Context, query string, files []types.Attachment, agent string) error
	Interrupt(ctx context.Context) error
	NewChat(ctx context.Context) error
	Connect(ctx context.Context) error
	StartVoice(ctx context.Context) error
	Speak(ctx context.Context, text string) error
	StopSpeaking(ctx context.Context) error
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
}

// repl turns input lines into client calls.
type repl struct {
	client  chatClient
	agent   string
	pending []types.Attachment
}

func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		files := r.pending
		r.pending = nil
		return r.client.Send(ctx, line, files, r.agent)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/new":
		r.pending = nil
		return r.client.NewChat(ctx)
	case "/stop":
		return r.client.Interrupt(ctx)
	case "/retry":
		return r.client.Connect(ctx)
	case "/attach":
		if arg == "" {
			return fmt.Errorf("usage: /attach <path>")
		}
		att, err := loadAttachment(arg)
		if err != nil {
			return err
		}
		r.pending = append(r.pending, att)
		fmt.Printf("* attached %s (%d bytes)\n", att.Name, att.Size)
		return nil
	case "/voice":
		return r.client.StartVoice(ctx)
	case "/hush":
		return r.client.StopSpeaking(ctx)
	case "/speak":
		if arg == "" {
			return fmt.Errorf("usage: /speak <text>")
		}
		return r.client.Speak(ctx, arg)
	case "/listen":
		return r.client.StartListening(ctx)
	case "/unlisten":
		return r.client.StopListening(ctx)
	default:
		return fmt.Errorf("unknown command: %s", name)
	}
}

// loadAttachment reads a local file into an inline attachment.
func loadAttachment(path string) (types.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("attach %s: %w", path, err)
	}
	if info.IsDir() {
		return types.Attachment{}, fmt.Errorf("attach %s: is a directory", path)
	}
	if info.Size() > maxAttachmentSize {
		return types.Attachment{}, fmt.Errorf("attach %s: file larger than %d bytes", path, maxAttachmentSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("attach %s: %w", path, err)
	}
	name := filepath.Base(path)
	return types.Attachment{
		Name:     name,
		MimeType: mime.TypeByExtension(filepath.Ext(name)),
		Size:     int64(len(data)),
		DataB64:  base64.StdEncoding.EncodeToString(data),
	}, nil
}
