package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nidhogg/alice/internal/transcript"
	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// newWatchCmd attaches to a running server: transcript lines stream in over
// the WebSocket and every line typed on stdin is injected as an observation.
func newWatchCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a server's live transcript and inject observations from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server = strings.TrimRight(server, "/")
			wsURL := "ws" + strings.TrimPrefix(server, "http") + "/api/transcript/ws"
			c, _, err := websocket.Dial(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("watch %s: %w", server, err)
			}
			defer c.CloseNow()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s. Type to speak into the world, 'quit' to leave.\n---\n", server)

			go readObservations(ctx, os.Stdin, out, server, stop)

			for {
				var line transcript.Line
				if err := wsjson.Read(ctx, c, &line); err != nil {
					if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
						return nil
					}
					return fmt.Errorf("watch: %w", err)
				}
				printLine(out, line, false)
			}
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "alice server URL")
	return cmd
}

func readObservations(ctx context.Context, in io.Reader, out io.Writer, server string, stop func()) {
	scanner := bufio.NewScanner(in)
	client := &http.Client{Timeout: 10 * time.Second}
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			stop()
			return
		}
		if err := postObservation(ctx, client, server, text); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

func postObservation(ctx context.Context, client *http.Client, server, text string) error {
	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/observations", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("inject observation: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("inject observation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("inject observation: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return nil
}
