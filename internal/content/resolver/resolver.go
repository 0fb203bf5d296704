// Package resolver turns a category into content by trying the local store
// first and then the configured remote providers, one at a time in a fresh
// random order per call. The first non-empty result wins.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/url"
	"sort"
	"strings"
	"time"

	"funbot/internal/content"
	"funbot/internal/content/normalize"
	"funbot/internal/content/provider"
	"funbot/internal/eventbus"
	logx "funbot/pkg/logx"
)

// Fetcher is the provider transport.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values) (provider.Payload, error)
	Download(ctx context.Context, rawURL string, w io.Writer) (int64, string, error)
}

// LocalSource is the local content store.
type LocalSource interface {
	Supports(category string) bool
	GetRandom(ctx context.Context, category string) (content.Result, error)
}

type Config struct {
	// LocalCategories are served from the local store when it is available.
	// They stay resolvable (through providers) when it is not.
	LocalCategories []string
	// Labels name categories in ranked list headers and error text.
	Labels map[string]string
	// RankedHeader formats a ranked list header from the label. It must
	// hold exactly one %s.
	RankedHeader string

	Media  MediaConfig
	Health HealthConfig
}

// DefaultRankedHeader renders e.g. 当前微博热搜：
const DefaultRankedHeader = "当前%s："

type Option func(*Resolver)

// WithShuffle replaces the per-call provider shuffle.
func WithShuffle(fn func([]content.ProviderSpec)) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.shuffle = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

type Resolver struct {
	table   content.ProviderTable
	local   LocalSource
	fetch   Fetcher
	bus     eventbus.Bus
	log     logx.Logger
	media   MediaConfig
	labels  map[string]string
	rankHdr string

	localCats map[string]bool
	health    *healthStore

	shuffle func([]content.ProviderSpec)
	now     func() time.Time
}

// ResolvedEvent is published on content.resolved.
type ResolvedEvent struct {
	Category string        `json:"category"`
	Source   string        `json:"source"`
	Kind     string        `json:"kind"`
	Attempts int           `json:"attempts"`
	Took     time.Duration `json:"took"`
}

// ExhaustedEvent is published on content.exhausted.
type ExhaustedEvent struct {
	Category string        `json:"category"`
	Attempts int           `json:"attempts"`
	Took     time.Duration `json:"took"`
	Error    string        `json:"error,omitempty"`
}

// ProviderFailedEvent is published on provider.failed.
type ProviderFailedEvent struct {
	Category string `json:"category"`
	URL      string `json:"url"`
	Kind     string `json:"kind"`
	Code     int    `json:"code,omitempty"`
}

// New builds a resolver. local may be nil when the content store is
// unavailable.
func New(cfg Config, table content.ProviderTable, local LocalSource, fetch Fetcher, bus eventbus.Bus, log logx.Logger, opts ...Option) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resolver{
		table:     table,
		local:     local,
		fetch:     fetch,
		bus:       bus,
		log:       log,
		media:     cfg.Media,
		labels:    map[string]string{},
		rankHdr:   cfg.RankedHeader,
		localCats: map[string]bool{},
		health:    newHealthStore(cfg.Health),
		shuffle: func(s []content.ProviderSpec) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
		now: time.Now,
	}
	if strings.Count(r.rankHdr, "%s") != 1 {
		r.rankHdr = DefaultRankedHeader
	}
	for k, v := range cfg.Labels {
		r.labels[k] = v
	}
	for _, c := range cfg.LocalCategories {
		if c = strings.TrimSpace(c); c != "" {
			r.localCats[c] = true
		}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Known reports whether category can be resolved at all.
func (r *Resolver) Known(category string) bool {
	return r.table.Has(category) || r.localCats[category]
}

// Categories lists every resolvable category, sorted.
func (r *Resolver) Categories() []string {
	set := map[string]bool{}
	for _, c := range r.table.Categories() {
		set[c] = true
	}
	for c := range r.localCats {
		set[c] = true
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Label returns the display name of category.
func (r *Resolver) Label(category string) string {
	if l := strings.TrimSpace(r.labels[category]); l != "" {
		return l
	}
	return category
}

func (r *Resolver) header(category string) string {
	return fmt.Sprintf(r.rankHdr, r.Label(category))
}

func (r *Resolver) Health() []ProviderHealth { return r.health.snapshot() }

// Resolve returns the first non-empty result for category. params are merged
// over each provider's fixed query parameters and disable the local store,
// since stored records cannot honor them.
//
// Errors: content.ErrUnknownCategory (fail fast) or *content.ExhaustedError.
func (r *Resolver) Resolve(ctx context.Context, category string, params url.Values) (content.Result, error) {
	category = strings.TrimSpace(category)
	if !r.Known(category) {
		return content.Result{}, content.UnknownCategory(category)
	}
	start := r.now()
	log := r.log.With(logx.String("category", category))
	attempts := 0
	var last error

	if len(params) == 0 && r.localCats[category] && r.local != nil && r.local.Supports(category) {
		attempts++
		res, err := r.local.GetRandom(ctx, category)
		if err == nil && !res.IsEmpty() {
			r.resolved(category, res, attempts, start)
			return res, nil
		}
		if err == nil {
			err = content.ErrNotFound
		}
		last = err
		log.Debug("local store miss", logx.Err(err))
	}

	for _, spec := range r.order(category) {
		if err := ctx.Err(); err != nil {
			last = err
			break
		}
		attempts++
		res, err := r.try(ctx, spec, params)
		r.health.record(spec.URL, r.now(), err)
		if err == nil {
			r.resolved(category, res, attempts, start)
			return res, nil
		}
		last = err
		r.providerFailed(log, category, spec, err)
	}

	exh := &content.ExhaustedError{Category: category, Attempts: attempts, Last: last}
	log.Warn("all sources exhausted", logx.Int("attempts", attempts), logx.Err(last))
	ev := ExhaustedEvent{Category: category, Attempts: attempts, Took: r.now().Sub(start)}
	if last != nil {
		ev.Error = last.Error()
	}
	r.publish(eventbus.ContentExhausted, ev)
	return content.Result{}, exh
}

// order shuffles a copy of the fallback set, then moves providers with an
// open circuit to the end, keeping the shuffled order within each half.
func (r *Resolver) order(category string) []content.ProviderSpec {
	specs := r.table.Specs(category)
	if len(specs) == 0 {
		return nil
	}
	r.shuffle(specs)
	now := r.now()
	healthy := specs[:0:0]
	var open []content.ProviderSpec
	for _, s := range specs {
		if r.health.isOpen(s.URL, now) {
			open = append(open, s)
		} else {
			healthy = append(healthy, s)
		}
	}
	return append(healthy, open...)
}

func (r *Resolver) try(ctx context.Context, spec content.ProviderSpec, params url.Values) (content.Result, error) {
	p, err := r.fetch.Fetch(ctx, spec.URL, mergeParams(spec.Params, params))
	if err != nil {
		return content.Result{}, err
	}
	res, ok := normalize.Normalize(spec, r.header(spec.Category), p)
	if !ok {
		return content.Result{}, errNoContent
	}
	if spec.Shape == content.ShapeAudioURL && len(res.Data) == 0 {
		return r.fetchMedia(ctx, res)
	}
	return res, nil
}

var errNoContent = errors.New("no content in provider response")

func mergeParams(fixed, call url.Values) url.Values {
	if len(fixed) == 0 {
		return call
	}
	out := make(url.Values, len(fixed)+len(call))
	for k, v := range fixed {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range call {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (r *Resolver) resolved(category string, res content.Result, attempts int, start time.Time) {
	took := r.now().Sub(start)
	r.log.Debug("content resolved", logx.String("category", category), logx.String("source", res.Source), logx.String("kind", res.Kind.String()), logx.Int("attempts", attempts), logx.Duration("took", took))
	r.publish(eventbus.ContentResolved, ResolvedEvent{Category: category, Source: res.Source, Kind: res.Kind.String(), Attempts: attempts, Took: took})
}

func (r *Resolver) providerFailed(log logx.Logger, category string, spec content.ProviderSpec, err error) {
	ev := ProviderFailedEvent{Category: category, URL: spec.URL, Kind: "no_content"}
	if f, ok := provider.AsFailure(err); ok {
		ev.Kind = f.Kind.String()
		ev.Code = f.Code
	} else if !errors.Is(err, errNoContent) {
		ev.Kind = "media"
	}
	log.Info("provider failed, trying next", logx.String("url", spec.URL), logx.String("kind", ev.Kind), logx.Err(err))
	r.publish(eventbus.ProviderFailed, ev)
}

func (r *Resolver) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
