package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rybkr/legendlog/internal/logmux"
	"github.com/rybkr/legendlog/internal/server"
)

const requestTimeout = 60 * time.Second

var answersCmd = &cobra.Command{
	Use:   "answers",
	Short: "Print the answer tree of a running server",
	Args:  cobra.NoArgs,
	RunE:  runAnswers,
}

var logsCmd = &cobra.Command{
	Use:   "logs [log-id]",
	Short: "Follow a log of a running server",
	Long: `Attaches to a log and prints its lines as they arrive. The lines buffered
so far are printed first. Escape sequences are stripped when stdout is not a
terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

var showCmd = &cobra.Command{
	Use:   "show [answer-or-commit-id]",
	Short: "Ask a running server to show the log of an answer or commit",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit the local changes through a running server",
	Args:  cobra.NoArgs,
	RunE:  runSubmit,
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8a8a8a"))
	stateStyles = map[string]lipgloss.Style{
		"running":   lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3")),
		"stale":     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		"succeeded": lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")),
	}
)

// baseURL returns the address of the server the client commands talk to.
func baseURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	addr := cfg.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

var httpClient = &http.Client{Timeout: requestTimeout}

func getJSON(path string, v any) error {
	resp, err := httpClient.Get(baseURL() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func postJSON(path string, body, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(baseURL()+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
}

func runAnswers(cmd *cobra.Command, args []string) error {
	var roots []server.TreeItem
	if err := getJSON("/api/answers", &roots); err != nil {
		return err
	}
	if len(roots) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No answers yet."))
		return nil
	}
	for _, root := range roots {
		var children []server.TreeItem
		if err := getJSON("/api/answers/children?id="+url.QueryEscape(root.ID), &children); err != nil {
			return err
		}
		root.Children = children
		fmt.Fprint(cmd.OutOrStdout(), renderAnswer(root))
	}
	return nil
}

func renderAnswer(a server.TreeItem) string {
	var b strings.Builder
	b.WriteString(renderState(a.State) + " " + titleStyle.Render(a.Label))
	if a.Open {
		b.WriteString(" " + mutedStyle.Render("(open)"))
	}
	b.WriteString("\n  " + mutedStyle.Render(a.HTMLURL) + "\n")
	for _, c := range a.Children {
		fmt.Fprintf(&b, "  %s %s %s\n", renderState(c.State), c.Label, mutedStyle.Render("#"+c.CheckRunID))
	}
	return b.String()
}

func renderState(state string) string {
	style, ok := stateStyles[state]
	if !ok {
		return mutedStyle.Render("•")
	}
	return style.Render("●")
}

func runLogs(cmd *cobra.Command, args []string) error {
	u, err := url.Parse(baseURL())
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/logs/ws"
	u.RawQuery = url.Values{"id": {args[0]}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("no log with id %q", args[0])
		}
		return err
	}
	defer conn.Close()

	raw := false
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		raw = term.IsTerminal(int(f.Fd()))
	}
	out := cmd.OutOrStdout()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		line := string(msg)
		if !raw {
			line = logmux.StripANSI(line)
		}
		fmt.Fprintln(out, line)
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	return postJSON("/api/logs/show", map[string]string{"id": args[0]}, nil)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var result struct {
		Outcome string `json:"outcome"`
		Error   string `json:"error"`
	}
	if err := postJSON("/api/submit", struct{}{}, &result); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Outcome)
	if result.Error != "" {
		return fmt.Errorf("submit %s: %s", result.Outcome, result.Error)
	}
	return nil
}
