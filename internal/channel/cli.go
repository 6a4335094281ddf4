package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"lumichat/internal/auth"
	"lumichat/internal/chat"
	"lumichat/internal/domain"
	"lumichat/internal/locale"
	"lumichat/internal/share"
	"lumichat/internal/store"
)

// CLI is an interactive terminal front end for the chat engine.
type CLI struct {
	ctrl    *chat.Controller
	store   *store.Store
	bridge  *auth.Bridge
	sharer  *share.Sharer
	strings *locale.Strings
	model   string
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer

	spinMu   sync.Mutex
	spinning bool
	spinStop chan struct{}
	spinDone chan struct{}
}

type CLIConfig struct {
	Controller *chat.Controller
	Store      *store.Store
	Bridge     *auth.Bridge
	Sharer     *share.Sharer
	Strings    *locale.Strings
	Model      string
	Logger     *slog.Logger
	In         io.Reader
	Out        io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		ctrl:    cfg.Controller,
		store:   cfg.Store,
		bridge:  cfg.Bridge,
		sharer:  cfg.Sharer,
		strings: cfg.Strings,
		model:   cfg.Model,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL and blocks until the context is cancelled or the
// input hits EOF.
func (c *CLI) Start(ctx context.Context) error {
	fmt.Fprintln(c.out, "LumiChat CLI. Type a message, or /help for commands.")
	fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(c.out, "You> ")
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := c.runCommand(ctx, line); quit {
				return nil
			}
			fmt.Fprint(c.out, "You> ")
			continue
		}

		c.startSpinner()
		_, err := c.ctrl.Send(ctx, line, c.model, nil)
		c.stopSpinner()
		if errors.Is(err, domain.ErrBusy) {
			fmt.Fprintln(c.out, "A response is still streaming. Wait for it to finish.")
			fmt.Fprint(c.out, "You> ")
			continue
		}
		c.printLastAnswer()
		fmt.Fprint(c.out, "You> ")
	}
}

// runCommand handles a /slash command and reports whether the REPL should
// exit.
func (c *CLI) runCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		fmt.Fprintln(c.out, "/new            start a new chat")
		fmt.Fprintln(c.out, "/list           list chats")
		fmt.Fprintln(c.out, "/select <n>     switch to chat n")
		fmt.Fprintln(c.out, "/delete <n>     delete chat n")
		fmt.Fprintln(c.out, "/copy           copy the last answer to the clipboard")
		fmt.Fprintln(c.out, "/share          copy the whole chat to the clipboard")
		fmt.Fprintln(c.out, "/open <n>       open source n of the last answer in the browser")
		fmt.Fprintln(c.out, "/login <token>  sign in with an identity token")
		fmt.Fprintln(c.out, "/logout         sign out")
		fmt.Fprintln(c.out, "/quit           exit")
	case "/new":
		c.ctrl.NewChat()
		fmt.Fprintln(c.out, c.strings.Sidebar.NewChat)
	case "/list":
		c.printSessions()
	case "/select":
		if s, ok := c.sessionArg(fields); ok {
			c.ctrl.SelectSession(s.ID)
			fmt.Fprintf(c.out, "Switched to %q.\n", s.Title)
		}
	case "/delete":
		if s, ok := c.sessionArg(fields); ok {
			c.ctrl.DeleteSession(ctx, s.ID)
			fmt.Fprintf(c.out, "Deleted %q.\n", s.Title)
		}
	case "/copy":
		c.copyLastAnswer()
	case "/share":
		c.copyTranscript()
	case "/open":
		c.openSource(fields)
	case "/login":
		if len(fields) < 2 {
			fmt.Fprintln(c.out, "Usage: /login <token>")
			break
		}
		profile, err := c.bridge.SignIn(ctx, fields[1])
		if err != nil {
			fmt.Fprintln(c.out, auth.Guidance(err))
			break
		}
		fmt.Fprintf(c.out, "Signed in as %s.\n", profile.Name)
	case "/logout":
		c.bridge.SignOut(ctx)
		fmt.Fprintf(c.out, "Signed out. %s\n", c.strings.Sidebar.Guest)
	default:
		fmt.Fprintf(c.out, "Unknown command %s. Try /help.\n", fields[0])
	}
	return false
}

func (c *CLI) printSessions() {
	sessions := c.store.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No chats yet.")
		return
	}
	active := c.store.ActiveID()
	for i, s := range sessions {
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %2d. %s (%d messages)\n", marker, i+1, s.Title, len(s.Messages))
	}
}

// sessionArg resolves a 1-based list index from a command argument.
func (c *CLI) sessionArg(fields []string) (domain.ChatSession, bool) {
	if len(fields) < 2 {
		fmt.Fprintf(c.out, "Usage: %s <n>\n", fields[0])
		return domain.ChatSession{}, false
	}
	n, err := strconv.Atoi(fields[1])
	sessions := c.store.Sessions()
	if err != nil || n < 1 || n > len(sessions) {
		fmt.Fprintln(c.out, "No such chat. Use /list to see chat numbers.")
		return domain.ChatSession{}, false
	}
	return sessions[n-1], true
}

// lastAnswer returns the trailing assistant message of the active chat.
func (c *CLI) lastAnswer() (domain.Message, bool) {
	messages := c.store.Displayed()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleModel {
			return messages[i], true
		}
	}
	return domain.Message{}, false
}

func (c *CLI) printLastAnswer() {
	msg, ok := c.lastAnswer()
	if !ok {
		return
	}
	thought := chat.ParseThought(msg.Text)
	fmt.Fprintln(c.out, "")
	fmt.Fprintln(c.out, "--- LumiChat ---")
	if thought.HasReasoning {
		fmt.Fprintf(c.out, "[%s]\n", c.strings.MessageList.ThinkingProcess)
	}
	fmt.Fprintln(c.out, thought.Answer)
	if !msg.Grounding.Empty() {
		fmt.Fprintf(c.out, "\n%s:\n", c.strings.MessageList.Source)
		for _, chunk := range msg.Grounding.GroundingChunks {
			if chunk.Web != nil {
				fmt.Fprintf(c.out, "  %s (%s)\n", chunk.Web.Title, chunk.Web.URI)
			}
		}
	}
	fmt.Fprintln(c.out, "----------------")
}

func (c *CLI) copyLastAnswer() {
	msg, ok := c.lastAnswer()
	if !ok {
		fmt.Fprintln(c.out, "Nothing to copy yet.")
		return
	}
	if err := c.sharer.CopyMessage(chat.ParseThought(msg.Text).Answer); err != nil {
		fmt.Fprintln(c.out, "Clipboard unavailable:", err)
		return
	}
	fmt.Fprintln(c.out, c.strings.MessageList.Copied)
}

func (c *CLI) copyTranscript() {
	session, ok := c.store.Session(c.store.ActiveID())
	if !ok {
		fmt.Fprintln(c.out, "No active chat.")
		return
	}
	if err := c.sharer.CopyTranscript(session); err != nil {
		fmt.Fprintln(c.out, "Clipboard unavailable:", err)
		return
	}
	fmt.Fprintln(c.out, c.strings.MessageList.Copied)
}

// openSource opens the nth grounding source of the last answer.
func (c *CLI) openSource(fields []string) {
	msg, ok := c.lastAnswer()
	if !ok || msg.Grounding.Empty() {
		fmt.Fprintln(c.out, "The last answer has no sources.")
		return
	}
	n := 1
	if len(fields) > 1 {
		parsed, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintln(c.out, "Usage: /open <n>")
			return
		}
		n = parsed
	}
	var webSources []*domain.WebSource
	for _, chunk := range msg.Grounding.GroundingChunks {
		if chunk.Web != nil {
			webSources = append(webSources, chunk.Web)
		}
	}
	if n < 1 || n > len(webSources) {
		fmt.Fprintf(c.out, "The last answer has %d sources.\n", len(webSources))
		return
	}
	if err := c.sharer.Open(webSources[n-1].URI); err != nil {
		fmt.Fprintln(c.out, "Cannot open browser:", err)
	}
}

func (c *CLI) startSpinner() {
	c.spinMu.Lock()
	defer c.spinMu.Unlock()
	if c.spinning {
		return
	}
	c.spinning = true
	c.spinStop = make(chan struct{})
	c.spinDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				phrases := c.strings.ActivityPhrases(string(c.ctrl.Activity()))
				phrase := phrases[(i/4)%len(phrases)]
				fmt.Fprintf(c.out, "\r%s %s", frames[i%len(frames)], phrase)
				i++
			}
		}
	}(c.spinStop, c.spinDone)
}

func (c *CLI) stopSpinner() {
	c.spinMu.Lock()
	defer c.spinMu.Unlock()
	if !c.spinning {
		return
	}
	c.spinning = false
	close(c.spinStop)
	<-c.spinDone
}

func (c *CLI) Stop() error { return nil }
