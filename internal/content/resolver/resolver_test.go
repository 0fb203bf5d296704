package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funbot/internal/content"
	"funbot/internal/content/provider"
	"funbot/internal/eventbus"
	logx "funbot/pkg/logx"
)

type fakeFetcher struct {
	mu     sync.Mutex
	resp   map[string]string
	fail   map[string]error
	calls  []string
	params []url.Values
	media  map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, params url.Values) (provider.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	f.params = append(f.params, params)
	if err := f.fail[rawURL]; err != nil {
		return provider.Payload{}, err
	}
	return provider.Payload{URL: rawURL, Status: 200, Body: []byte(f.resp[rawURL])}, nil
}

func (f *fakeFetcher) Download(_ context.Context, rawURL string, w io.Writer) (int64, string, error) {
	body, ok := f.media[rawURL]
	if !ok {
		return 0, "", &provider.Failure{Kind: provider.KindHTTPStatus, Code: 404, URL: rawURL}
	}
	n, err := io.WriteString(w, body)
	return int64(n), "audio/mpeg", err
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeLocal struct {
	res content.Result
	err error
	n   int
}

func (l *fakeLocal) Supports(category string) bool { return category == "hitokoto" }

func (l *fakeLocal) GetRandom(context.Context, string) (content.Result, error) {
	l.n++
	return l.res, l.err
}

func identity([]content.ProviderSpec) {}

func reverse(s []content.ProviderSpec) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

var timeoutErr = &provider.Failure{Kind: provider.KindTimeout, URL: "x"}

func textSpecs(cat string, urls ...string) []content.ProviderSpec {
	out := make([]content.ProviderSpec, 0, len(urls))
	for _, u := range urls {
		out = append(out, content.ProviderSpec{Category: cat, URL: u, Shape: content.ShapeText})
	}
	return out
}

func TestFallsBackToLaterProvider(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{
		resp: map[string]string{"http://b": `{"code":200,"data":"from b"}`},
		fail: map[string]error{"http://a": timeoutErr},
	}
	r := New(Config{}, content.NewProviderTable(textSpecs("twq", "http://a", "http://b")), nil, f, nil, logx.Nop(), WithShuffle(identity))

	res, err := r.Resolve(context.Background(), "twq", nil)
	require.NoError(t, err)
	assert.Equal(t, "from b", res.Text)
	assert.Equal(t, "http://b", res.Source)
	assert.Equal(t, []string{"http://a", "http://b"}, f.Calls())
}

func TestNoContentIsSkipped(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{resp: map[string]string{
		"http://a": `{"code":500}`,
		"http://b": `{"success":true,"data":"ok"}`,
	}}
	r := New(Config{}, content.NewProviderTable(textSpecs("twq", "http://a", "http://b")), nil, f, nil, logx.Nop(), WithShuffle(identity))
	res, err := r.Resolve(context.Background(), "twq", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
}

func TestExhaustedAfterEveryProvider(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	f := &fakeFetcher{fail: map[string]error{
		"http://a": timeoutErr,
		"http://b": &provider.Failure{Kind: provider.KindHTTPStatus, Code: 502, URL: "http://b"},
	}}
	r := New(Config{}, content.NewProviderTable(textSpecs("twq", "http://a", "http://b")), nil, f, bus, logx.Nop(), WithShuffle(identity))

	_, err := r.Resolve(context.Background(), "twq", nil)
	require.ErrorIs(t, err, content.ErrAllSourcesExhausted)
	var exh *content.ExhaustedError
	require.ErrorAs(t, err, &exh)
	assert.Equal(t, 2, exh.Attempts)
	assert.Len(t, f.Calls(), 2, "each provider tried once")

	fail, ok := provider.AsFailure(err)
	require.True(t, ok, "last failure is wrapped")
	assert.Equal(t, 502, fail.Code)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{eventbus.ProviderFailed, eventbus.ProviderFailed, eventbus.ContentExhausted}, types)
}

func TestUnknownCategoryFailsFast(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	r := New(Config{}, content.NewProviderTable(nil), nil, f, nil, logx.Nop())
	_, err := r.Resolve(context.Background(), "nope", nil)
	require.ErrorIs(t, err, content.ErrUnknownCategory)
	assert.Empty(t, f.Calls())
}

func TestLocalFirst(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{resp: map[string]string{"http://a": `{"data":"remote"}`}}
	table := content.NewProviderTable(textSpecs("hitokoto", "http://a"))

	local := &fakeLocal{res: content.Result{Kind: content.KindText, Text: "local", Source: "local"}}
	r := New(Config{LocalCategories: []string{"hitokoto"}}, table, local, f, nil, logx.Nop())
	res, err := r.Resolve(context.Background(), "hitokoto", nil)
	require.NoError(t, err)
	assert.Equal(t, "local", res.Text)
	assert.Empty(t, f.Calls())

	local.err = content.ErrNotFound
	res, err = r.Resolve(context.Background(), "hitokoto", nil)
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Text)
}

func TestLocalOnlyCategoryWithoutStoreIsExhausted(t *testing.T) {
	t.Parallel()
	r := New(Config{LocalCategories: []string{"joke"}}, content.NewProviderTable(nil), nil, &fakeFetcher{}, nil, logx.Nop())
	_, err := r.Resolve(context.Background(), "joke", nil)
	require.ErrorIs(t, err, content.ErrAllSourcesExhausted)
	assert.NotErrorIs(t, err, content.ErrUnknownCategory)
}

func TestParamsMergeAndBypassLocal(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{resp: map[string]string{"http://cp": `{"data":"x"}`}}
	spec := content.ProviderSpec{Category: "hitokoto", URL: "http://cp", Shape: content.ShapeText, Params: url.Values{"type": {"a"}, "n1": {"default"}}}
	local := &fakeLocal{res: content.Text("local")}
	r := New(Config{LocalCategories: []string{"hitokoto"}}, content.NewProviderTable([]content.ProviderSpec{spec}), local, f, nil, logx.Nop())

	_, err := r.Resolve(context.Background(), "hitokoto", url.Values{"n1": {"alice"}})
	require.NoError(t, err)
	assert.Zero(t, local.n)
	want := url.Values{"type": {"a"}, "n1": {"alice"}}
	if diff := cmp.Diff(want, f.params[0]); diff != "" {
		t.Fatalf("params (-want +got):\n%s", diff)
	}
}

func TestOpenCircuitIsDemotedNotSkipped(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{
		resp: map[string]string{"http://b": `{"data":"b"}`},
		fail: map[string]error{"http://a": timeoutErr},
	}
	r := New(Config{Health: HealthConfig{Trip: 1}}, content.NewProviderTable(textSpecs("twq", "http://a", "http://b")), nil, f, nil, logx.Nop(),
		WithShuffle(identity), WithClock(func() time.Time { return now }))

	_, err := r.Resolve(context.Background(), "twq", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a", "http://b"}, f.Calls())

	// a is now open and moves behind b.
	f.calls = nil
	_, err = r.Resolve(context.Background(), "twq", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://b"}, f.Calls())

	// With b failing too, a is still tried.
	f.calls = nil
	f.fail["http://b"] = timeoutErr
	_, err = r.Resolve(context.Background(), "twq", nil)
	require.ErrorIs(t, err, content.ErrAllSourcesExhausted)
	assert.Equal(t, []string{"http://b", "http://a"}, f.Calls())
}

func TestShuffleIsPerCall(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{resp: map[string]string{"http://a": `{"data":"a"}`, "http://b": `{"data":"b"}`}}
	calls := 0
	shuffle := func(s []content.ProviderSpec) {
		calls++
		if calls%2 == 0 {
			reverse(s)
		}
	}
	table := content.NewProviderTable(textSpecs("twq", "http://a", "http://b"))
	r := New(Config{}, table, nil, f, nil, logx.Nop(), WithShuffle(shuffle))

	first, err := r.Resolve(context.Background(), "twq", nil)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "twq", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Text)
	assert.Equal(t, "b", second.Text)
	assert.Equal(t, "http://a", table.Specs("twq")[0].URL, "table untouched")
}

func TestRankedUsesLabel(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{resp: map[string]string{"http://hot": `{"code":200,"data":[{"index":1,"title":"t","hot":"9"}]}`}}
	spec := content.ProviderSpec{Category: "weibo_hot", URL: "http://hot", Shape: content.ShapeRanked}
	r := New(Config{Labels: map[string]string{"weibo_hot": "Weibo hot search"}}, content.NewProviderTable([]content.ProviderSpec{spec}), nil, f, nil, logx.Nop())
	res, err := r.Resolve(context.Background(), "weibo_hot", nil)
	require.NoError(t, err)
	assert.Equal(t, "当前Weibo hot search：\n1. t (9)", res.Render())

	r = New(Config{RankedHeader: "Current %s:", Labels: map[string]string{"weibo_hot": "微博热搜"}},
		content.NewProviderTable([]content.ProviderSpec{spec}), nil, f, nil, logx.Nop())
	res, err = r.Resolve(context.Background(), "weibo_hot", nil)
	require.NoError(t, err)
	assert.Equal(t, "Current 微博热搜:", res.Header)
}

func TestAudioTwoStage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := &fakeFetcher{
		resp: map[string]string{
			"http://m1": `{"code":200,"data":{"url":"https://cdn/missing.mp3"}}`,
			"http://m2": `{"code":200,"data":{"url":"https://cdn/song.mp3?x=1"}}`,
		},
		media: map[string]string{"https://cdn/song.mp3?x=1": "ID3-bytes"},
	}
	specs := []content.ProviderSpec{
		{Category: "music", URL: "http://m1", Shape: content.ShapeAudioURL},
		{Category: "music", URL: "http://m2", Shape: content.ShapeAudioURL},
	}
	r := New(Config{Media: MediaConfig{TempDir: dir}}, content.NewProviderTable(specs), nil, f, nil, logx.Nop(), WithShuffle(identity))

	res, err := r.Resolve(context.Background(), "music", nil)
	require.NoError(t, err)
	assert.Equal(t, content.KindAudio, res.Kind)
	assert.Equal(t, []byte("ID3-bytes"), res.Data)
	assert.Equal(t, "audio.mp3", res.Name)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files removed on success and failure")
}

func TestAudioDownloadOverHTTP(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api":
			_, _ = io.WriteString(w, `{"code":200,"url":"`+"http://"+r.Host+`/a.mp3"}`)
		case "/a.mp3":
			_, _ = io.WriteString(w, "mp3data")
		}
	}))
	defer srv.Close()

	spec := content.ProviderSpec{Category: "music", URL: srv.URL + "/api", Shape: content.ShapeAudioURL}
	r := New(Config{Media: MediaConfig{TempDir: t.TempDir()}}, content.NewProviderTable([]content.ProviderSpec{spec}), nil, provider.New(provider.Config{}, logx.Nop()), nil, logx.Nop())
	res, err := r.Resolve(context.Background(), "music", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3data"), res.Data)
}

func TestTranscodeFailureFallsThrough(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := &fakeFetcher{
		resp:  map[string]string{"http://m": `{"url":"https://cdn/a.mp3"}`},
		media: map[string]string{"https://cdn/a.mp3": "bytes"},
	}
	spec := content.ProviderSpec{Category: "music", URL: "http://m", Shape: content.ShapeAudioURL}
	r := New(Config{Media: MediaConfig{TempDir: dir, Transcode: []string{"/nonexistent/ffmpeg", "-i", "{in}", "{out}"}}},
		content.NewProviderTable([]content.ProviderSpec{spec}), nil, f, nil, logx.Nop())

	_, err := r.Resolve(context.Background(), "music", nil)
	require.ErrorIs(t, err, content.ErrAllSourcesExhausted)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCanceledContextStops(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fail: map[string]error{"http://a": errors.New("x")}}
	r := New(Config{}, content.NewProviderTable(textSpecs("twq", "http://a", "http://b")), nil, f, nil, logx.Nop(), WithShuffle(identity))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Resolve(ctx, "twq", nil)
	require.ErrorIs(t, err, content.ErrAllSourcesExhausted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.Calls())
}
