// Package handler runs the command flow: feature toggle, cooldown, resolve,
// deliver, and cooldown set on success. Scheduled runs share the resolve and
// deliver steps but bypass toggles and cooldowns.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"funbot/internal/content"
	"funbot/internal/eventbus"
	kit "funbot/internal/transport"
	logx "funbot/pkg/logx"
)

// PrivateGroup is the group key of direct messages.
const PrivateGroup = "private"

const (
	undeliveredText = "Content was produced but could not be sent. Please try again later."

	// noticeTimeout bounds notices. They are detached from the request
	// context, which is often what expired.
	noticeTimeout = 10 * time.Second
)

type Resolver interface {
	Resolve(ctx context.Context, category string, params url.Values) (content.Result, error)
	Label(category string) string
}

type Toggles interface {
	IsEnabled(group, cmd string) bool
	Enable(ctx context.Context, group, cmd string) error
	Disable(ctx context.Context, group, cmd string) error
}

type Ledger interface {
	IsInCooldown(cmd, user, group string) bool
	RemainingSeconds(cmd, user, group string) int
	Cooldown(cmd string) time.Duration
	Set(cmd, user, group string, d time.Duration)
}

type Deliverer interface {
	Deliver(ctx context.Context, to kit.ChatTarget, r content.Result) error
	Notify(ctx context.Context, to kit.ChatTarget, text string) error
}

type Config struct {
	// ScheduledParams are passed to categories that need arguments when
	// they run from the scheduler, e.g. cp → n1/n2.
	ScheduledParams map[string]url.Values
}

// Request is one inbound content command.
type Request struct {
	Category string
	Group    string
	User     string
	Params   url.Values
	Target   kit.ChatTarget
}

// HandledEvent is published on command.handled.
type HandledEvent struct {
	Category  string        `json:"category"`
	Group     string        `json:"group"`
	Outcome   string        `json:"outcome"`
	Scheduled bool          `json:"scheduled"`
	Took      time.Duration `json:"took"`
}

type Handler struct {
	cfg     Config
	res     Resolver
	toggles Toggles
	ledger  Ledger
	out     Deliverer
	log     logx.Logger
	bus     eventbus.Bus
}

func New(cfg Config, res Resolver, toggles Toggles, ledger Ledger, out Deliverer, log logx.Logger, bus eventbus.Bus) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{cfg: cfg, res: res, toggles: toggles, ledger: ledger, out: out, log: log, bus: bus}
}

func (h *Handler) Resolve(ctx context.Context, category string, params url.Values) (content.Result, error) {
	return h.res.Resolve(ctx, category, params)
}

func (h *Handler) IsEnabled(group, cmd string) bool { return h.toggles.IsEnabled(group, cmd) }

func (h *Handler) Enable(ctx context.Context, group, cmd string) error {
	return h.toggles.Enable(ctx, group, cmd)
}

func (h *Handler) Disable(ctx context.Context, group, cmd string) error {
	return h.toggles.Disable(ctx, group, cmd)
}

// CooldownCheck reports whether the triple is cooling down and the whole
// seconds left, rounded up.
func (h *Handler) CooldownCheck(cmd, user, group string) (bool, int) {
	if !h.ledger.IsInCooldown(cmd, user, group) {
		return false, 0
	}
	return true, h.ledger.RemainingSeconds(cmd, user, group)
}

// CooldownSet starts the configured cooldown of cmd for the triple.
func (h *Handler) CooldownSet(cmd, user, group string) {
	h.ledger.Set(cmd, user, group, h.ledger.Cooldown(cmd))
}

// Handle runs the full command flow and replies to req.Target. The cooldown
// is set only after a successful delivery.
func (h *Handler) Handle(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	out, err := h.handle(ctx, req)
	h.done(req.Category, req.Group, out, false, start, err)
	return out, err
}

func (h *Handler) handle(ctx context.Context, req Request) (Outcome, error) {
	if req.Group != PrivateGroup && !h.toggles.IsEnabled(req.Group, req.Category) {
		h.notify(ctx, req.Target, "This feature is disabled in this chat.")
		return OutcomeDisabled, nil
	}
	if cooling, secs := h.CooldownCheck(req.Category, req.User, req.Group); cooling {
		h.notify(ctx, req.Target, fmt.Sprintf("Command is cooling down, please wait %d seconds.", secs))
		return OutcomeCooldown, nil
	}

	res, err := h.res.Resolve(ctx, req.Category, req.Params)
	if err != nil {
		h.notify(ctx, req.Target, ErrorText(h.res.Label(req.Category), err))
		return OutcomeFailed, err
	}
	if err := h.out.Deliver(ctx, req.Target, res); err != nil {
		h.notify(ctx, req.Target, undeliveredText)
		return OutcomeUndelivered, err
	}
	h.CooldownSet(req.Category, req.User, req.Group)
	return OutcomeDelivered, nil
}

// Reject replies with the error text for a request that failed argument
// parsing.
func (h *Handler) Reject(ctx context.Context, req Request, err error) Outcome {
	h.notify(ctx, req.Target, ErrorText(h.res.Label(req.Category), err))
	h.done(req.Category, req.Group, OutcomeRejected, false, time.Now(), err)
	return OutcomeRejected
}

// RunScheduled resolves cmd and delivers it to group, sending the error text
// instead when resolution fails.
func (h *Handler) RunScheduled(ctx context.Context, group, cmd string) (Outcome, error) {
	start := time.Now()
	out, err := h.runScheduled(ctx, group, cmd)
	h.done(cmd, group, out, true, start, err)
	return out, err
}

func (h *Handler) runScheduled(ctx context.Context, group, cmd string) (Outcome, error) {
	to, err := kit.TargetFromGroup(group)
	if err != nil {
		return OutcomeRejected, err
	}
	res, err := h.res.Resolve(ctx, cmd, h.cfg.ScheduledParams[cmd])
	if err != nil {
		return OutcomeFailed, h.scheduledNotice(ctx, to, ErrorText(h.res.Label(cmd), err), err)
	}
	if err := h.out.Deliver(ctx, to, res); err != nil {
		return OutcomeUndelivered, h.scheduledNotice(ctx, to, undeliveredText, err)
	}
	return OutcomeDelivered, nil
}

// scheduledNotice tells the group a scheduled run failed and returns cause
// joined with any notice error.
func (h *Handler) scheduledNotice(ctx context.Context, to kit.ChatTarget, text string, cause error) error {
	if err := h.send(ctx, to, text); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (h *Handler) notify(ctx context.Context, to kit.ChatTarget, text string) {
	if err := h.send(ctx, to, text); err != nil {
		h.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (h *Handler) send(ctx context.Context, to kit.ChatTarget, text string) error {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	return h.out.Notify(nctx, to, text)
}

func (h *Handler) done(cmd, group string, out Outcome, scheduled bool, start time.Time, err error) {
	took := time.Since(start)
	fields := []logx.Field{
		logx.String("cmd", cmd),
		logx.String("group", group),
		logx.String("outcome", out.String()),
		logx.Bool("scheduled", scheduled),
		logx.Duration("took", took),
	}
	switch out {
	case OutcomeFailed, OutcomeUndelivered:
		h.log.Warn("command finished", append(fields, logx.Err(err))...)
	default:
		h.log.Debug("command finished", fields...)
	}
	if h.bus != nil {
		h.bus.Publish(eventbus.Event{Type: eventbus.CommandHandled, Data: HandledEvent{
			Category: cmd, Group: group, Outcome: out.String(), Scheduled: scheduled, Took: took,
		}})
	}
}
