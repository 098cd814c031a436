// Package router turns Telegram text updates into command handler calls.
//
// Commands are single words with optional aliases. Arguments are tokenized
// with quote support and split into positionals and flags before the handler
// runs on a bounded worker pool.
package router

import (
	"context"
	"errors"
	"html"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "contestfeed/internal/runtime/supervisor"
	kit "contestfeed/internal/transport"
	logx "contestfeed/pkg/logx"
)

// FailureReply is sent when a handler returns an error it did not answer itself.
const FailureReply = "Request was unsuccessful."

const jobQueueCap = 256

type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly limits the command to configured owners. With no owners
	// configured everyone may run it.
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// BoolFlags never consume the following token as a value.
	BoolFlags []string
	Timeout   time.Duration
	Handle    HandlerFunc
}

// Sender is the outbound half of a transport adapter.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Request struct {
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	RawArgs      []string
	Flags        map[string]string
	BoolFlags    map[string]bool
	ReqID        string
	Logger       logx.Logger

	sender  Sender
	replied bool
}

// Flag reports whether a boolean flag was given.
func (r *Request) Flag(name string) bool { return r.BoolFlags[name] }

// Reply sends HTML text to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	r.replied = true
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// ReplyError is a handler error whose text is shown to the user as is.
type ReplyError struct{ Text string }

func (e *ReplyError) Error() string { return e.Text }

// Replyf builds a ReplyError.
func Replyf(text string) error { return &ReplyError{Text: text} }

type Manager struct {
	log    logx.Logger
	sender Sender

	mu       sync.RWMutex
	commands map[string]*Command
	alias    map[string]*Command
	owners   []int64

	runMu sync.Mutex
	sup   *rtsup.Supervisor
	jobs  chan func()
}

func New(log logx.Logger, sender Sender, owners []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:      log,
		sender:   sender,
		commands: map[string]*Command{},
		alias:    map[string]*Command{},
		owners:   slices.Clone(owners),
	}
}

// Supervisor is nil unless DispatchLoop is running.
func (m *Manager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.sup
}

// SetOwners is safe during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	m.mu.Lock()
	m.owners = slices.Clone(owners)
	m.mu.Unlock()
}

func (m *Manager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owners) == 0 || slices.Contains(m.owners, id)
}

// SetCommands replaces the registry, injects /help and publishes the menu
// when the sender supports it.
func (m *Manager) SetCommands(ctx context.Context, cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "List commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	commands := map[string]*Command{}
	alias := map[string]*Command{}
	for i := range cmds {
		c := &cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		commands[name] = c
	}
	for _, c := range commands {
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := commands[a]; a == "" || taken {
				continue
			}
			alias[a] = c
		}
	}

	m.mu.Lock()
	m.commands, m.alias = commands, alias
	m.mu.Unlock()

	if up, ok := m.sender.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(commands)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (m *Manager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.commands[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(2, runtime.NumCPU())
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	jobs := make(chan func(), jobQueueCap)

	m.runMu.Lock()
	m.sup, m.jobs = sup, jobs
	m.runMu.Unlock()

	for i := range workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					m.runJob(i, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", workers))

	defer func() {
		m.runMu.Lock()
		close(jobs)
		m.sup = nil
		m.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Manager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Manager) enqueue(fn func()) bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.sup == nil {
		return false
	}
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// route parses one update and enqueues its handler. Non-command text is ignored.
func (m *Manager) route(ctx context.Context, up kit.Update) {
	req, cmd, ok := m.Parse(up)
	if !ok {
		return
	}
	if cmd == nil {
		_, _ = m.sender.SendText(ctx, req.Chat, "Unknown command. Try /help", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(req.FromID) {
		_, _ = m.sender.SendText(ctx, req.Chat, "You are not allowed to use this command.", nil)
		return
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWReplyOnError(),
		MWRequestLog(),
		MWTimeout(cmd.Timeout),
	)
	if !m.enqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.sender.SendText(ctx, req.Chat, "Busy, try again.", nil)
	}
}

// Parse builds the request for a "/command" message. cmd is nil for an
// unknown command; ok is false for anything that is not a command.
func (m *Manager) Parse(up kit.Update) (req *Request, cmd *Command, ok bool) {
	msg := up.Message
	if up.Kind != kit.UpdateMessage || msg == nil {
		return nil, nil, false
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return nil, nil, false
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return nil, nil, false
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return nil, nil, false
	}

	rid := newReqID()
	req = &Request{
		Chat:         kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      word,
		RawArgs:      parts[1:],
		ReqID:        rid,
		sender:       m.sender,
	}
	cmd, found := m.lookup(word)
	if found {
		req.Command = cmd.Name
		req.Args, req.Flags, req.BoolFlags = parseFlags(req.RawArgs, cmd.BoolFlags)
	}
	req.Logger = m.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", req.Command),
	)
	return req, cmd, true
}

func (m *Manager) helpText(args []string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := m.commands[word]
		if !ok {
			c, ok = m.alias[word]
		}
		if !ok {
			return "Unknown command. Try <code>/help</code>"
		}
		lines := []string{"<b>/" + html.EscapeString(c.Name) + "</b>", html.EscapeString(c.Description)}
		if c.Usage != "" {
			lines = append(lines, "Usage: <code>"+html.EscapeString(c.Usage)+"</code>")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: "+html.EscapeString(strings.Join(c.Aliases, ", ")))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 owner only")
		}
		return strings.Join(lines, "\n")
	}

	names := make([]string, 0, len(m.commands))
	width := 0
	for n := range m.commands {
		names = append(names, n)
		width = max(width, len(n)+1)
	}
	slices.Sort(names)
	var b strings.Builder
	b.WriteString("<pre>")
	for _, n := range names {
		c := m.commands[n]
		b.WriteString(html.EscapeString(padRight("/"+n, width+4) + c.Description))
		b.WriteByte('\n')
	}
	b.WriteString("</pre>")
	return b.String()
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s + " "
	}
	return s + strings.Repeat(" ", w-len(s))
}

func replyText(err error) string {
	var re *ReplyError
	if errors.As(err, &re) {
		return re.Text
	}
	return FailureReply
}
