package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/gravia/internal/state"
	"github.com/user/gravia/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd, sessionFramesCmd, sessionArtifactsCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the persisted chat session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted session id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := state.NewSessionStore(cfg.DataDir)

		id, err := store.Load(context.Background())
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if !id.IsSet() {
			fmt.Println("No session.")
			return nil
		}
		fmt.Println(id)
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the persisted session id; the next chat starts fresh",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := state.NewSessionStore(cfg.DataDir)
		if err := store.Clear(context.Background()); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		fmt.Println("Session cleared.")
		return nil
	},
}

// sessionArg returns the id given on the command line, or the persisted one.
func sessionArg(args []string, dataDir string) (types.SessionID, error) {
	if len(args) > 0 {
		id := types.NormalizeSessionID(args[0])
		if !id.IsSet() {
			return "", fmt.Errorf("invalid session ID: %s", args[0])
		}
		return id, nil
	}
	id, err := state.NewSessionStore(dataDir).Load(context.Background())
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if !id.IsSet() {
		return "", fmt.Errorf("no session; pass an id")
	}
	return id, nil
}

var sessionFramesCmd = &cobra.Command{
	Use:   "frames [id]",
	Short: "Show the traced frames of a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		id, err := sessionArg(args, cfg.DataDir)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		frames, err := state.NewFrameLog(cfg.DataDir).Tail(context.Background(), id, limit)
		if err != nil {
			return fmt.Errorf("read frames: %w", err)
		}
		if len(frames) == 0 {
			fmt.Println("No frames traced. Enable with: gravia config set chat.trace_frames true")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tDIR\tAT\tPAYLOAD")
		for _, f := range frames {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
				f.Seq,
				f.Direction,
				f.At.Format("15:04:05.000"),
				f.Payload,
			)
		}
		return w.Flush()
	},
}

var sessionArtifactsCmd = &cobra.Command{
	Use:   "artifacts [id]",
	Short: "List files received in a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		id, err := sessionArg(args, cfg.DataDir)
		if err != nil {
			return err
		}

		store := state.NewArtifactStore(cfg.DataDir)
		list, err := store.List(context.Background(), id)
		if err != nil {
			return fmt.Errorf("list artifacts: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No artifacts found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tRECEIVED\tPATH")
		for _, a := range list {
			path := "-"
			if a.Size > 0 {
				path = store.DataPath(a)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				a.Name,
				a.MimeType,
				strconv.FormatInt(a.Size, 10),
				a.CreatedAt.Format("2006-01-02 15:04:05"),
				path,
			)
		}
		return w.Flush()
	},
}

func init() {
	sessionFramesCmd.Flags().Int("limit", 50, "number of most recent frames to show (0 for all)")
}
