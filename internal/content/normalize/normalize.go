// Package normalize maps raw provider payloads onto content.Result values.
// Every function here is pure; a payload that does not fit its shape yields
// ok=false rather than an error.
package normalize

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"funbot/internal/content"
	"funbot/internal/content/provider"
)

// MaxRankedItems caps ranked lists; items keep source order.
const MaxRankedItems = 10

var (
	textKeys  = []string{"data", "content", "hitokoto", "text"}
	imageKeys = []string{"data", "url", "imgurl", "image", "pic"}
	audioKeys = []string{"data", "url", "mp3", "music_url", "src"}
	titleKeys = []string{"title", "name", "word"}
	rankKeys  = []string{"index", "rank"}
	scoreKeys = []string{"hot", "hot_value", "hotValue", "score"}
)

// Normalize dispatches on spec.Shape. header titles ranked lists.
func Normalize(spec content.ProviderSpec, header string, p provider.Payload) (content.Result, bool) {
	var (
		r  content.Result
		ok bool
	)
	switch spec.Shape {
	case content.ShapeText, "":
		r, ok = Text(p.Body)
	case content.ShapePlain:
		r, ok = Plain(p.Body)
	case content.ShapeRanked:
		r, ok = RankedList(p.Body, header)
	case content.ShapeImageURL:
		r, ok = mediaURL(p.Body, imageKeys)
		r.Kind = content.KindImage
	case content.ShapeImageBytes:
		r, ok = ImageBytes(p)
	case content.ShapeAudioURL:
		r, ok = mediaURL(p.Body, audioKeys)
		r.Kind = content.KindAudio
	}
	if !ok || r.IsEmpty() {
		return content.Result{}, false
	}
	if r.Source == "" {
		r.Source = spec.URL
	}
	return r, true
}

// Text reads a JSON envelope carrying a text field. A bare JSON string body
// is accepted as well.
func Text(body []byte) (content.Result, bool) {
	v, ok := decode(body)
	if !ok {
		return content.Result{}, false
	}
	if s, isStr := v.(string); isStr {
		s = CleanMarkup(s)
		return content.Text(s), s != ""
	}
	env, ok := envelope(v)
	if !ok || !succeeded(env) {
		return content.Result{}, false
	}
	s := firstString(env, textKeys)
	if s == "" {
		// Some providers nest the payload one level down.
		if inner, isMap := env["data"].(map[string]any); isMap {
			s = firstString(inner, textKeys[1:])
		}
	}
	s = CleanMarkup(s)
	return content.Text(s), s != ""
}

// Plain treats the whole body as text.
func Plain(body []byte) (content.Result, bool) {
	s := CleanMarkup(string(body))
	return content.Text(s), s != ""
}

// RankedList reads {code|success, data:[{index,title,hot}...]}. Only the
// first MaxRankedItems source entries are considered; entries without a title
// are dropped, not replaced. A missing rank falls back to the 1-based position.
func RankedList(body []byte, header string) (content.Result, bool) {
	v, ok := decode(body)
	if !ok {
		return content.Result{}, false
	}
	var list []any
	switch x := v.(type) {
	case []any:
		list = x
	case map[string]any:
		if !succeeded(x) {
			return content.Result{}, false
		}
		list, _ = x["data"].([]any)
	}
	list = list[:min(len(list), MaxRankedItems)]
	items := make([]content.RankedItem, 0, len(list))
	for i, raw := range list {
		m, isMap := raw.(map[string]any)
		if !isMap {
			continue
		}
		title := strings.TrimSpace(firstString(m, titleKeys))
		if title == "" {
			continue
		}
		rank, hasRank := firstInt(m, rankKeys)
		if !hasRank {
			rank = i + 1
		}
		items = append(items, content.RankedItem{Rank: rank, Title: title, Score: firstString(m, scoreKeys)})
	}
	if len(items) == 0 {
		return content.Result{}, false
	}
	return content.Ranked(strings.TrimSpace(header), items), true
}

// ImageBytes accepts any non-textual body as an inline image.
func ImageBytes(p provider.Payload) (content.Result, bool) {
	if len(p.Body) == 0 {
		return content.Result{}, false
	}
	mt := p.MediaType()
	if mt == "" || mt == "application/octet-stream" {
		mt = http.DetectContentType(p.Body)
	}
	if strings.HasPrefix(mt, "text/") || strings.Contains(mt, "json") {
		return content.Result{}, false
	}
	return content.ImageData(p.Body), true
}

func mediaURL(body []byte, keys []string) (content.Result, bool) {
	trimmed := strings.TrimSpace(string(body))
	if isHTTPURL(trimmed) {
		return content.Result{URL: trimmed}, true
	}
	v, ok := decode(body)
	if !ok {
		return content.Result{}, false
	}
	if s, isStr := v.(string); isStr {
		s = strings.TrimSpace(s)
		return content.Result{URL: s}, isHTTPURL(s)
	}
	env, ok := envelope(v)
	if !ok || !succeeded(env) {
		return content.Result{}, false
	}
	u := strings.TrimSpace(firstString(env, keys))
	if u == "" {
		if inner, isMap := env["data"].(map[string]any); isMap {
			u = strings.TrimSpace(firstString(inner, keys[1:]))
		}
	}
	return content.Result{URL: u}, isHTTPURL(u)
}

func decode(body []byte) (any, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// envelope unwraps an object or a list whose first element is an object.
func envelope(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case []any:
		if len(x) == 0 {
			return nil, false
		}
		m, ok := x[0].(map[string]any)
		return m, ok
	}
	return nil, false
}

// succeeded checks the provider success markers. code==200, code=="200" and
// success==true all count; an envelope carrying neither key is accepted.
func succeeded(m map[string]any) bool {
	code, hasCode := m["code"]
	success, hasSuccess := m["success"]
	if !hasCode && !hasSuccess {
		return true
	}
	if b, ok := success.(bool); ok && b {
		return true
	}
	switch c := code.(type) {
	case json.Number:
		return c.String() == "200"
	case string:
		return strings.TrimSpace(c) == "200"
	case float64:
		return c == 200
	}
	return false
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func firstInt(m map[string]any, keys []string) (int, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n), true
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func isHTTPURL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \n\t") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
