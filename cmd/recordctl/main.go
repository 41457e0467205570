// Command recordctl uploads a student record to a recordlens server and
// follows the analysis in the terminal.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgallion1/recordlens/internal/auth"
	"github.com/dgallion1/recordlens/internal/client"
	"github.com/dgallion1/recordlens/internal/poller"
	"github.com/dgallion1/recordlens/internal/record"
	"github.com/dgallion1/recordlens/internal/summary"
	"github.com/dgallion1/recordlens/internal/tui"
)

func main() {
	server := flag.String("server", envOr("RECORDLENS_URL", "http://localhost:8090"), "recordlens server URL")
	token := flag.String("token", os.Getenv("RECORDLENS_TOKEN"), "bearer token")
	sessionID := flag.String("session", "", "follow an existing session instead of uploading")
	key := flag.String("key", "", "idempotency key (UUID) for the upload")
	interval := flag.Duration("interval", poller.DefaultInterval, "status poll interval")
	plain := flag.Bool("plain", false, "print status lines instead of the interactive view")
	list := flag.Bool("list", false, "list recent sessions and exit")
	sign := flag.String("sign", "", "print a token for this user id signed with $JWT_SECRET and exit")
	role := flag.String("role", auth.RoleStudent, "role for -sign")
	flag.Parse()

	if *sign != "" {
		v, err := auth.NewVerifier(os.Getenv("JWT_SECRET"))
		if err != nil {
			die("sign: %v", err)
		}
		tok, err := v.Sign(*sign, *role, 24*time.Hour)
		if err != nil {
			die("sign: %v", err)
		}
		fmt.Println(tok)
		return
	}
	if *token == "" {
		die("a token is required (-token or $RECORDLENS_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(*server, *token)
	defer c.Close()

	if *list {
		listSessions(ctx, c)
		return
	}

	sid, status := *sessionID, record.Status{}
	if sid == "" {
		if flag.NArg() != 1 {
			die("usage: recordctl [flags] <file>")
		}
		path := flag.Arg(0)
		data, err := os.ReadFile(path)
		if err != nil {
			die("read %s: %v", path, err)
		}
		sub, err := c.Submit(ctx, filepath.Base(path), data, *key)
		if err != nil {
			die("upload: %v", err)
		}
		sid, status = sub.SessionID, sub.Status
		fmt.Fprintf(os.Stderr, "session %s\n", sid)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	p := poller.New(c, log, poller.WithInterval(*interval))

	if *plain {
		code := follow(ctx, p, sid)
		c.Close()
		stop()
		os.Exit(code)
	}

	if status.Stage == "" {
		status = record.Status{Message: "Connecting..."}
	}
	prog := tea.NewProgram(tui.New(ctx, c, p, sid, status), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		die("run view: %v", err)
	}
}

// follow prints each status change and the summary, returning the exit code.
func follow(ctx context.Context, p *poller.Poller, sid string) int {
	var last record.Status
	code := 0
	h := p.Start(ctx, sid, poller.Handlers{
		OnStatus: func(st record.Status) {
			if st == last {
				return
			}
			last = st
			fmt.Printf("%3d%%  %-10s %s\n", st.Progress, st.Stage, st.Message)
		},
		OnResult: func(res record.AnalysisResult) {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(summary.Reduce(res))
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			code = 1
		},
	})
	<-h.Done()
	if ctx.Err() != nil {
		return 130
	}
	return code
}

func listSessions(ctx context.Context, c *client.Client) {
	sessions, err := c.Sessions(ctx, 20)
	if err != nil {
		die("list: %v", err)
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-10s %3d%%  %s  %s\n", s.ID, s.Status.Stage, s.Status.Progress, s.CreatedAt.Local().Format(time.DateTime), s.Filename)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
