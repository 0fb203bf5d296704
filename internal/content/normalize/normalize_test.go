package normalize

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funbot/internal/content"
	"funbot/internal/content/provider"
)

func payload(body string) provider.Payload {
	return provider.Payload{Status: 200, ContentType: "application/json", Body: []byte(body)}
}

func TestTextSuccessMarkers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{name: "numeric code", body: `{"code":200,"data":"hello"}`, want: "hello", ok: true},
		{name: "string code", body: `{"code":"200","content":"hello"}`, want: "hello", ok: true},
		{name: "success flag", body: `{"success":true,"data":"hello"}`, want: "hello", ok: true},
		{name: "no markers", body: `{"hitokoto":"hello"}`, want: "hello", ok: true},
		{name: "list of one", body: `[{"code":200,"data":"hello"}]`, want: "hello", ok: true},
		{name: "nested data", body: `{"code":200,"data":{"content":"hello"}}`, want: "hello", ok: true},
		{name: "bare json string", body: `"hello"`, want: "hello", ok: true},
		{name: "failed code", body: `{"code":500,"data":"hello"}`},
		{name: "success false", body: `{"success":false,"data":"hello"}`},
		{name: "empty data", body: `{"code":200,"data":"   "}`},
		{name: "empty list", body: `[]`},
		{name: "garbage", body: `<<<not json`},
		{name: "empty body", body: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Normalize(content.ProviderSpec{Shape: content.ShapeText, URL: "http://p"}, "x", payload(tt.body))
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.True(t, r.IsEmpty())
				return
			}
			assert.Equal(t, content.KindText, r.Kind)
			assert.Equal(t, tt.want, r.Text)
			assert.Equal(t, "http://p", r.Source)
		})
	}
}

func TestTextConvertsLineBreaks(t *testing.T) {
	t.Parallel()
	body := `{"code":200,"data":"first<br>second<br/>third<br />&nbsp;<b>fourth</b> &amp; more<br><br>"}`
	r, ok := Text([]byte(body))
	require.True(t, ok)
	assert.Equal(t, "first\nsecond\nthird\nfourth & more", r.Text)
}

func TestCleanMarkup(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"plain":          "  just text  ",
		"blank lines":    "a\n\n\r\n  b  \n",
		"script dropped": "<script>alert(1)</script>visible",
		"paragraphs":     "<p>one</p><p>two</p>",
		"lone ampersand": "fish & chips",
	}
	want := map[string]string{
		"plain":          "just text",
		"blank lines":    "a\nb",
		"script dropped": "visible",
		"paragraphs":     "one\ntwo",
		"lone ampersand": "fish & chips",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want[name], CleanMarkup(in))
		})
	}
}

func rankedBody(n int) string {
	items := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, fmt.Sprintf(`{"index":%d,"title":"topic %d","hot":"%d"}`, i, i, 1000-i))
	}
	return `{"code":200,"data":[` + strings.Join(items, ",") + `]}`
}

func TestRankedListTruncatesInSourceOrder(t *testing.T) {
	t.Parallel()
	r, ok := Normalize(content.ProviderSpec{Shape: content.ShapeRanked}, "当前微博热搜：", payload(rankedBody(15)))
	require.True(t, ok)
	require.Equal(t, content.KindRankedList, r.Kind)
	require.Len(t, r.Items, MaxRankedItems)
	assert.Equal(t, "当前微博热搜：", r.Header)
	for i, it := range r.Items {
		assert.Equal(t, i+1, it.Rank)
		assert.Equal(t, fmt.Sprintf("topic %d", i+1), it.Title)
	}
	lines := strings.Split(r.Render(), "\n")
	require.Len(t, lines, 11)
	assert.Equal(t, "1. topic 1 (999)", lines[1])
}

func TestRankedListKeepsSourceOrderWithoutSorting(t *testing.T) {
	t.Parallel()
	body := `{"success":true,"data":[{"rank":3,"word":"c","hot_value":5},{"title":"no rank"},{"rank":"1","name":"a"},{"title":""},"junk"]}`
	r, ok := RankedList([]byte(body), "")
	require.True(t, ok)
	want := []content.RankedItem{
		{Rank: 3, Title: "c", Score: "5"},
		{Rank: 2, Title: "no rank"},
		{Rank: 1, Title: "a"},
	}
	if diff := cmp.Diff(want, r.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, r.Header)
}

func TestRankedListCapsBySourcePosition(t *testing.T) {
	t.Parallel()
	items := make([]string, 0, 15)
	for i := 1; i <= 15; i++ {
		title := fmt.Sprintf("t%d", i)
		if i == 3 {
			title = ""
		}
		items = append(items, fmt.Sprintf(`{"index":%d,"title":%q,"hot":"%d"}`, i, title, 100-i))
	}
	body := `{"code":200,"data":[` + strings.Join(items, ",") + `]}`

	r, ok := RankedList([]byte(body), "")
	require.True(t, ok)
	require.Len(t, r.Items, MaxRankedItems-1)
	assert.Equal(t, 2, r.Items[1].Rank)
	assert.Equal(t, 4, r.Items[2].Rank)
	assert.Equal(t, content.RankedItem{Rank: 10, Title: "t10", Score: "90"}, r.Items[len(r.Items)-1])
}

func TestRankedListRejects(t *testing.T) {
	t.Parallel()
	for _, body := range []string{`{"code":404,"data":[{"title":"x"}]}`, `{"code":200,"data":[]}`, `{"code":200,"data":"x"}`, `nope`} {
		_, ok := RankedList([]byte(body), "x")
		assert.False(t, ok, body)
	}
}

func TestImageURL(t *testing.T) {
	t.Parallel()
	spec := content.ProviderSpec{Shape: content.ShapeImageURL}
	tests := []struct {
		body string
		want string
	}{
		{body: "https://img.example.com/a.jpg\n", want: "https://img.example.com/a.jpg"},
		{body: `{"code":200,"imgurl":"https://img.example.com/b.jpg"}`, want: "https://img.example.com/b.jpg"},
		{body: `{"code":200,"data":{"url":"http://img.example.com/c.png"}}`, want: "http://img.example.com/c.png"},
		{body: `{"code":200,"data":"not a url"}`},
		{body: `{"code":200,"url":"ftp://x/y"}`},
	}
	for _, tt := range tests {
		r, ok := Normalize(spec, "", payload(tt.body))
		if tt.want == "" {
			assert.False(t, ok, tt.body)
			continue
		}
		require.True(t, ok, tt.body)
		assert.Equal(t, content.KindImage, r.Kind)
		assert.Equal(t, tt.want, r.URL)
	}
}

func TestAudioURL(t *testing.T) {
	t.Parallel()
	r, ok := Normalize(content.ProviderSpec{Shape: content.ShapeAudioURL}, "", payload(`{"code":"200","data":{"mp3":"https://cdn.example.com/s.mp3"}}`))
	require.True(t, ok)
	assert.Equal(t, content.KindAudio, r.Kind)
	assert.Equal(t, "https://cdn.example.com/s.mp3", r.URL)
}

func TestImageBytes(t *testing.T) {
	t.Parallel()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	r, ok := ImageBytes(provider.Payload{ContentType: "image/png", Body: png})
	require.True(t, ok)
	assert.Equal(t, png, r.Data)

	r, ok = ImageBytes(provider.Payload{Body: png})
	require.True(t, ok, "sniffed")
	assert.Equal(t, content.KindImage, r.Kind)

	_, ok = ImageBytes(provider.Payload{ContentType: "application/json", Body: []byte(`{"code":500}`)})
	assert.False(t, ok)
	_, ok = ImageBytes(provider.Payload{Body: []byte("error: missing n1")})
	assert.False(t, ok)
	_, ok = ImageBytes(provider.Payload{ContentType: "image/png"})
	assert.False(t, ok)
}

func TestPlain(t *testing.T) {
	t.Parallel()
	r, ok := Normalize(content.ProviderSpec{Shape: content.ShapePlain}, "", provider.Payload{Body: []byte("line one<br>line two\n\n")})
	require.True(t, ok)
	assert.Equal(t, "line one\nline two", r.Text)

	_, ok = Normalize(content.ProviderSpec{Shape: content.ShapePlain}, "", provider.Payload{Body: []byte(" \n ")})
	assert.False(t, ok)
}
