// Package router matches inbound chat messages against the command table and
// runs the matched handler on a bounded worker pool.
//
// A command is matched by its name or any alias, with or without a leading
// slash (aliases may be any language, slash commands are ASCII). Commands
// that take no arguments only match when the message is exactly the alias.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "funbot/internal/runtime/supervisor"
	kit "funbot/internal/transport"
	logx "funbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// AllowArgs lets trailing text through; otherwise the command matches
	// only when the message is exactly an alias.
	AllowArgs bool
	// GroupOnly rejects the command in private chats.
	GroupOnly bool
	// Hidden keeps the command out of the Telegram menu and /help.
	Hidden  bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

// PrivateGroup is the group key of private chats.
const PrivateGroup = "private"

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	// Group is the chat id for groups and PrivateGroup for direct messages.
	Group   string
	IsGroup bool
	Command string
	Alias   string
	Args    []string
	// ArgText is the untokenized text after the alias.
	ArgText  string
	Mentions []kit.Mention
	ReqID    string

	Out    kit.TextSender
	Logger logx.Logger
}

// User is the sender id as a ledger key.
func (r *Request) User() string { return strconv.FormatInt(r.FromID, 10) }

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Out.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Config struct {
	Workers  int
	QueueCap int
	Timeout  time.Duration // default per-command timeout
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  []Command
	alias map[string]*Command // lowercased alias -> command

	owners []int64

	cfg Config
	log logx.Logger
	out kit.TextSender

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(cfg Config, log logx.Logger, out kit.TextSender, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers < 2 {
			cfg.Workers = 2
		}
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &CommandManager{
		alias:  map[string]*Command{},
		owners: append([]int64(nil), owners...),
		cfg:    cfg,
		log:    log,
		out:    out,
		jobs:   make(chan func(), cfg.QueueCap),
	}
}

// Supervisor returns the dispatcher's internal supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetRegistry replaces the command table. /help is always added. Later
// commands lose alias collisions to earlier ones.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help",
		AllowArgs:   true,
		Hidden:      true,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Out.SendText(ctx, req.Chat, m.helpText(m.isOwner(req.FromID)), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	}
	all := append(append([]Command(nil), cmds...), helper)

	table := make([]Command, 0, len(all))
	alias := map[string]*Command{}
	for _, c := range all {
		if strings.TrimSpace(c.Name) == "" || c.Handle == nil {
			continue
		}
		table = append(table, c)
	}
	for i := range table {
		c := &table[i]
		keys := append([]string{c.Name}, c.Aliases...)
		if menu := sanitizeTelegramCommand(c.Name); menu != "" {
			keys = append(keys, menu)
		}
		for _, a := range keys {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t\n") {
				continue
			}
			if prev, exists := alias[a]; exists && prev != c {
				m.log.Warn("alias collision, keeping first", logx.String("alias", a), logx.String("kept", prev.Name), logx.String("dropped", c.Name))
				continue
			}
			alias[a] = c
		}
	}

	m.mu.Lock()
	m.cmds = table
	m.alias = alias
	m.mu.Unlock()
}

// Lookup resolves a name or alias (case-insensitive, optional slash).
func (m *CommandManager) Lookup(word string) (Command, bool) {
	word = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(word), "/"))
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.alias[word]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// UpdateMenu pushes the visible commands to the chat client's menu when the
// sender supports it.
func (m *CommandManager) UpdateMenu(ctx context.Context) error {
	up, ok := m.out.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := buildTelegramMenuCommands(m.cmds)
	m.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.cfg.Workers

	// Internal supervisor keeps the worker pool resilient and observable.
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		sup.Cancel()
		// Wait briefly for workers to drain.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
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
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	// A job should never panic (middleware already catches), but keep
	// workers alive if it happens.
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	req, cmd, ok := m.match(up)
	if !ok {
		return
	}
	m.enqueueCommand(root, req, cmd)
}

// match applies alias lookup and the strict argument rule.
func (m *CommandManager) match(up kit.Update) (*Request, Command, bool) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, Command{}, false
	}
	first := fields[0]
	word := first
	slash := strings.HasPrefix(word, "/")
	if slash {
		word = word[1:]
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
	}
	cmd, ok := m.Lookup(word)
	if !ok {
		if slash && !msg.IsGroup {
			m.reply(context.Background(), kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "Unknown command. Try /help")
		}
		return nil, Command{}, false
	}

	argText := strings.TrimSpace(text[len(first):])
	if !cmd.AllowArgs && argText != "" {
		m.log.Debug("trailing text on argument-less command ignored", logx.String("cmd", cmd.Name))
		return nil, Command{}, false
	}

	group := PrivateGroup
	if msg.IsGroup {
		group = strconv.FormatInt(msg.ChatID, 10)
	}
	return &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:   msg.FromID,
		Group:    group,
		IsGroup:  msg.IsGroup,
		Command:  cmd.Name,
		Alias:    word,
		Args:     tokenizeCommandLine(argText),
		ArgText:  argText,
		Mentions: msg.Mentions,
		Out:      m.out,
	}, cmd, true
}

func (m *CommandManager) enqueueCommand(root context.Context, req *Request, cmd Command) {
	if cmd.Access == AccessOwnerOnly && !m.isOwner(req.FromID) {
		m.reply(root, req.Chat, "unauthorized")
		return
	}
	if cmd.GroupOnly && !req.IsGroup {
		m.reply(root, req.Chat, "This command only works in groups.")
		return
	}

	req.ReqID = newReqID()
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", cmd.Name),
	)

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		m.reply(root, req.Chat, "busy, try again")
	}
}

func (m *CommandManager) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if m.out == nil {
		return
	}
	if _, err := m.out.SendText(ctx, to, text, nil); err != nil {
		m.log.Debug("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
