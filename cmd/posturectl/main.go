package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var baseURL string

	root := &cobra.Command{
		Use:           "posturectl",
		Short:         "Control a running posture-server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "server", envOr("POSTURE_URL", "http://localhost:8080"), "posture-server base URL")

	root.AddCommand(newCallCmd(&baseURL, "start", "Start streaming and open a session", http.MethodPost, "/start_feed"))
	root.AddCommand(newCallCmd(&baseURL, "stop", "Stop streaming and close the session", http.MethodPost, "/stop_feed"))
	root.AddCommand(newCallCmd(&baseURL, "diagnosis", "Show the latest diagnosis", http.MethodGet, "/get_diagnosis"))
	root.AddCommand(newCallCmd(&baseURL, "history", "List closed streaming sessions", http.MethodGet, "/get_streaming_history"))
	root.AddCommand(newCallCmd(&baseURL, "stats", "Show pipeline and fan-out statistics", http.MethodGet, "/stats"))
	root.AddCommand(newWatchCmd(&baseURL))
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newCallCmd(baseURL *string, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), method, strings.TrimSuffix(*baseURL, "/")+path, nil)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func printJSON(w io.Writer, body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		_, err = w.Write(body)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func newWatchCmd(baseURL *string) *cobra.Command {
	var analyze bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow analysis and error events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := wsURL(*baseURL)
			if err != nil {
				return err
			}
			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), target, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", target, err)
			}
			defer conn.Close()

			if analyze {
				if err := conn.WriteJSON(map[string]string{"event": "request_analysis"}); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
			}()

			out := cmd.OutOrStdout()
			for {
				var ev struct {
					Event string          `json:"event"`
					Data  json.RawMessage `json:"data"`
				}
				if err := conn.ReadJSON(&ev); err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						return nil
					}
					return err
				}
				fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.TimeOnly), ev.Event, ev.Data)
			}
		},
	}
	cmd.Flags().BoolVar(&analyze, "now", false, "ask for the current diagnosis right away")
	return cmd
}
