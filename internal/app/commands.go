package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"funbot/internal/config"
	"funbot/internal/handler"
	"funbot/internal/task/scheduler"
	"funbot/internal/throttle"
	"funbot/internal/transport/telegram/router"
)

// ContentCommand exposes one content category as a chat command. Primary is
// the alias shown to users; Pair commands take two names.
type ContentCommand struct {
	Name        string
	Primary     string
	Aliases     []string
	AllowArgs   bool
	Pair        bool
	Description string
}

// Words returns the primary alias followed by the other aliases.
func (c ContentCommand) Words() []string {
	return append([]string{c.Primary}, c.Aliases...)
}

var defaultContentCommands = []ContentCommand{
	{Name: "hitokoto", Primary: "一言", Description: "a random quote"},
	{Name: "twq", Primary: "土味情话", Aliases: []string{"情话", "土味"}, Description: "a cheesy pickup line"},
	{Name: "dog", Primary: "舔狗日记", Aliases: []string{"dog", "舔狗"}, Description: "a simp diary entry"},
	{Name: "renjian", Primary: "人间凑数", Description: "a line from the world"},
	{Name: "weibo_hot", Primary: "微博热搜", Aliases: []string{"微博"}, Description: "weibo trending list"},
	{Name: "douyin_hot", Primary: "抖音热搜", Aliases: []string{"抖音"}, Description: "douyin trending list"},
	{Name: "aiqinggongyu", Primary: "爱情公寓", Description: "an ipartment quote"},
	{Name: "beauty_pic", Primary: "随机美女", Aliases: []string{"美女"}, Description: "a random picture"},
	{Name: "cp", Primary: "cp", Aliases: []string{"宇宙cp"}, AllowArgs: true, Pair: true, Description: "a couple story for two names"},
	{Name: "shenhuifu", Primary: "神回复", Aliases: []string{"神评"}, Description: "a legendary reply"},
	{Name: "joke", Primary: "讲个笑话", Aliases: []string{"笑话"}, Description: "a joke"},
}

// contentCommands applies commands.aliases overrides. An override replaces
// every alias; its first entry becomes the primary one.
func contentCommands(cfg *config.Config) []ContentCommand {
	out := make([]ContentCommand, 0, len(defaultContentCommands))
	for _, c := range defaultContentCommands {
		c.Aliases = append([]string(nil), c.Aliases...)
		if cfg != nil {
			if words := cleanWords(cfg.Commands.Aliases[c.Name]); len(words) > 0 {
				c.Primary, c.Aliases = words[0], words[1:]
			}
		}
		out = append(out, c)
	}
	return out
}

func cleanWords(in []string) []string {
	var out []string
	for _, w := range in {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

type commandSet struct {
	content []ContentCommand
	byWord  map[string]ContentCommand

	handler *handler.Handler
	ledger  *throttle.Ledger
	// sched is nil when the scheduler is disabled.
	sched *scheduler.Service
	// status renders the operator status report.
	status func() string
}

func newCommandSet(cmds []ContentCommand, h *handler.Handler, ledger *throttle.Ledger, sched *scheduler.Service, status func() string) *commandSet {
	cs := &commandSet{
		content: cmds,
		byWord:  map[string]ContentCommand{},
		handler: h,
		ledger:  ledger,
		sched:   sched,
		status:  status,
	}
	for _, c := range cmds {
		for _, w := range append([]string{c.Name}, c.Words()...) {
			cs.byWord[strings.ToLower(w)] = c
		}
	}
	return cs
}

// feature finds a content command by name or any alias.
func (cs *commandSet) feature(word string) (ContentCommand, bool) {
	c, ok := cs.byWord[strings.ToLower(strings.TrimSpace(word))]
	return c, ok
}

func (cs *commandSet) primary(name string) string {
	if c, ok := cs.byWord[strings.ToLower(name)]; ok {
		return c.Primary
	}
	return name
}

// Registry is the full router table: content commands first, then admin.
func (cs *commandSet) Registry() []router.Command {
	out := make([]router.Command, 0, len(cs.content)+8)
	for _, c := range cs.content {
		usage := c.Primary
		if c.Pair {
			usage = c.Primary + " <name> <name>"
		}
		out = append(out, router.Command{
			Name:        c.Name,
			Aliases:     c.Words(),
			Description: c.Description,
			Usage:       usage,
			AllowArgs:   c.AllowArgs,
			Handle:      cs.contentHandler(c),
		})
	}

	admin := func(name string, aliases []string, usage, desc string, args, groupOnly bool, fn router.HandlerFunc) router.Command {
		return router.Command{
			Name:        name,
			Aliases:     aliases,
			Description: desc,
			Usage:       usage,
			Access:      router.AccessOwnerOnly,
			AllowArgs:   args,
			GroupOnly:   groupOnly,
			Handle:      fn,
		}
	}
	return append(out,
		admin("enable", []string{"开启"}, "/enable <feature>", "enable a feature in this chat", true, true, cs.handleToggle(true)),
		admin("disable", []string{"关闭"}, "/disable <feature>", "disable a feature in this chat", true, true, cs.handleToggle(false)),
		admin("features", []string{"功能状态"}, "/features", "feature status of this chat", false, true, cs.handleFeatures),
		admin("schedule", []string{"设置"}, "/schedule <feature> <HH:MM>", "deliver a feature daily", true, true, cs.handleSchedule),
		admin("schedules", []string{"定时任务状态"}, "/schedules", "daily deliveries of this chat", false, true, cs.handleSchedules),
		admin("unschedule", []string{"定时任务禁用"}, "/unschedule <feature> <HH:MM>", "remove a daily delivery", true, true, cs.handleUnschedule),
		admin("cooldowns", nil, "/cooldowns [clear]", "active cooldowns per chat", true, false, cs.handleCooldowns),
		admin("status", nil, "/status", "provider health and queues", false, false, cs.handleStatus),
	)
}

func (cs *commandSet) contentHandler(c ContentCommand) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		hreq := handler.Request{
			Category: c.Name,
			Group:    req.Group,
			User:     req.User(),
			Target:   req.Chat,
		}
		if c.Pair {
			params, err := handler.PairParams(req.ArgText, req.Mentions)
			// a disabled feature answers "disabled" even with bad arguments
			if err != nil && (req.Group == handler.PrivateGroup || cs.handler.IsEnabled(req.Group, c.Name)) {
				cs.handler.Reject(ctx, hreq, err)
				return nil
			}
			hreq.Params = params
		}
		// outcomes and failures are logged and answered by the handler
		_, _ = cs.handler.Handle(ctx, hreq)
		return nil
	}
}

func (cs *commandSet) handleToggle(on bool) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		word := strings.TrimSpace(req.ArgText)
		c, ok := cs.feature(word)
		if !ok {
			return req.Reply(ctx, fmt.Sprintf("No feature named %q.", word))
		}
		if on {
			if err := cs.handler.Enable(ctx, req.Group, c.Name); err != nil {
				return err
			}
			return req.Reply(ctx, c.Primary+" enabled.")
		}
		if err := cs.handler.Disable(ctx, req.Group, c.Name); err != nil {
			return err
		}
		return req.Reply(ctx, c.Primary+" disabled.")
	}
}

func (cs *commandSet) handleFeatures(ctx context.Context, req *router.Request) error {
	lines := make([]string, 0, len(cs.content))
	for _, c := range cs.content {
		state := "enabled"
		if !cs.handler.IsEnabled(req.Group, c.Name) {
			state = "disabled"
		}
		lines = append(lines, c.Primary+": "+state)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

// scheduleArgs parses "<feature> <HH:MM>". It returns a user-facing message
// when the arguments are unusable.
func (cs *commandSet) scheduleArgs(req *router.Request, usage string) (ContentCommand, string, string) {
	if len(req.Args) != 2 {
		return ContentCommand{}, "", "Usage: " + usage
	}
	c, ok := cs.feature(req.Args[0])
	if !ok {
		return ContentCommand{}, "", fmt.Sprintf("No feature named %q.", req.Args[0])
	}
	if !scheduler.IsValidTime(req.Args[1]) {
		return ContentCommand{}, "", "Invalid time, use HH:MM."
	}
	return c, req.Args[1], ""
}

func (cs *commandSet) handleSchedule(ctx context.Context, req *router.Request) error {
	if cs.sched == nil {
		return req.Reply(ctx, "The scheduler is disabled.")
	}
	c, at, msg := cs.scheduleArgs(req, "/schedule <feature> <HH:MM>")
	if msg != "" {
		return req.Reply(ctx, msg)
	}
	added, err := cs.sched.Add(ctx, req.Group, c.Name, at)
	if err != nil && !added {
		_ = req.Reply(ctx, "Could not add the schedule.")
		return err
	}
	if !added {
		return req.Reply(ctx, fmt.Sprintf("%s is already scheduled at %s.", c.Primary, at))
	}
	// persisting may fail after the entry went live; it still fires
	_ = req.Reply(ctx, fmt.Sprintf("%s will be sent daily at %s.", c.Primary, at))
	return err
}

func (cs *commandSet) handleUnschedule(ctx context.Context, req *router.Request) error {
	if cs.sched == nil {
		return req.Reply(ctx, "The scheduler is disabled.")
	}
	c, at, msg := cs.scheduleArgs(req, "/unschedule <feature> <HH:MM>")
	if msg != "" {
		return req.Reply(ctx, msg)
	}
	removed, err := cs.sched.Remove(ctx, req.Group, c.Name, at)
	if !removed {
		return req.Reply(ctx, fmt.Sprintf("No schedule for %s at %s.", c.Primary, at))
	}
	_ = req.Reply(ctx, fmt.Sprintf("Removed %s at %s.", c.Primary, at))
	return err
}

func (cs *commandSet) handleSchedules(ctx context.Context, req *router.Request) error {
	if cs.sched == nil {
		return req.Reply(ctx, "The scheduler is disabled.")
	}
	return req.Reply(ctx, cs.renderSchedules(cs.sched.Status(req.Group)))
}

func (cs *commandSet) renderSchedules(status map[string][]string) string {
	if len(status) == 0 {
		return "No schedules in this chat."
	}
	cmds := make([]string, 0, len(status))
	for c := range status {
		cmds = append(cmds, c)
	}
	sort.Strings(cmds)
	var lines []string
	for _, c := range cmds {
		for _, at := range status[c] {
			lines = append(lines, fmt.Sprintf("%s at %s", cs.primary(c), at))
		}
	}
	return strings.Join(lines, "\n")
}

func (cs *commandSet) handleCooldowns(ctx context.Context, req *router.Request) error {
	if strings.EqualFold(strings.TrimSpace(req.ArgText), "clear") {
		cs.ledger.Clear()
		return req.Reply(ctx, "All cooldowns cleared.")
	}
	counts := cs.ledger.Counts()
	if len(counts) == 0 {
		return req.Reply(ctx, "No active cooldowns.")
	}
	groups := make([]string, 0, len(counts))
	for g := range counts {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("%s: %d", g, counts[g]))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (cs *commandSet) handleStatus(ctx context.Context, req *router.Request) error {
	if cs.status == nil {
		return req.Reply(ctx, "no status available")
	}
	return req.Reply(ctx, cs.status())
}
