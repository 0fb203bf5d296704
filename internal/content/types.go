// Package content holds the domain types shared by the resolution pipeline:
// the Result variants produced by normalizers and local stores, the static
// provider table, and the error taxonomy surfaced to callers.
package content

import (
	"strconv"
	"strings"
)

// Kind tags the variant held by a Result.
type Kind int

const (
	KindNone Kind = iota
	KindText
	KindImage
	KindRankedList
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindRankedList:
		return "ranked_list"
	case KindAudio:
		return "audio"
	default:
		return "none"
	}
}

// RankedItem is one row of a hot-topic style list.
type RankedItem struct {
	Rank  int
	Title string
	Score string
}

// Result is the canonical content value handed to delivery.
//
// Exactly one payload is meaningful per Kind:
//   - KindText: Text
//   - KindImage, KindAudio: URL or Data (Data wins when both are set)
//   - KindRankedList: Header and Items
type Result struct {
	Kind Kind

	Text string

	URL  string
	Data []byte
	// Name is an optional file name hint for binary payloads.
	Name string

	Header string
	Items  []RankedItem

	// Source records which source produced the value ("local" or a provider URL).
	Source string
}

func Text(s string) Result { return Result{Kind: KindText, Text: s} }

func ImageURL(u string) Result { return Result{Kind: KindImage, URL: u} }

func ImageData(b []byte) Result { return Result{Kind: KindImage, Data: b} }

func AudioURL(u string) Result { return Result{Kind: KindAudio, URL: u} }

func AudioData(b []byte, name string) Result { return Result{Kind: KindAudio, Data: b, Name: name} }

func Ranked(header string, items []RankedItem) Result {
	return Result{Kind: KindRankedList, Header: header, Items: items}
}

// IsEmpty reports whether r carries no deliverable payload.
func (r Result) IsEmpty() bool {
	switch r.Kind {
	case KindText:
		return strings.TrimSpace(r.Text) == ""
	case KindImage, KindAudio:
		return len(r.Data) == 0 && strings.TrimSpace(r.URL) == ""
	case KindRankedList:
		return len(r.Items) == 0
	default:
		return true
	}
}

// Render returns the textual form of r. Ranked lists render as a header line
// followed by "rank. title (score)" rows; media variants render as their URL.
func (r Result) Render() string {
	switch r.Kind {
	case KindText:
		return r.Text
	case KindRankedList:
		var b strings.Builder
		if r.Header != "" {
			b.WriteString(r.Header)
		}
		for _, it := range r.Items {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strconv.Itoa(it.Rank))
			b.WriteString(". ")
			b.WriteString(it.Title)
			if it.Score != "" {
				b.WriteString(" (")
				b.WriteString(it.Score)
				b.WriteString(")")
			}
		}
		return b.String()
	case KindImage, KindAudio:
		return r.URL
	default:
		return ""
	}
}

// QA is a question/answer record from the local store.
type QA struct {
	Question string
	Answer   string
}

// Result renders the pair as a two-line text value.
func (q QA) Result() Result {
	return Text("Q: " + q.Question + "\nA: " + q.Answer)
}
