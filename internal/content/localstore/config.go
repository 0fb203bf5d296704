package localstore

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultPoolSize    = 5
	DefaultBatchSize   = 10
	defaultBusyTimeout = 5 * time.Second
)

// TableKind selects how a row maps onto a content.Result.
type TableKind string

const (
	TableText  TableKind = "text"
	TableQA    TableKind = "qa"
	TableImage TableKind = "image"
)

// Table maps one category onto a table of the content database.
type Table struct {
	Table          string    `json:"table"`
	Column         string    `json:"column,omitempty"`
	Kind           TableKind `json:"kind,omitempty"`
	QuestionColumn string    `json:"question_column,omitempty"`
	AnswerColumn   string    `json:"answer_column,omitempty"`
	// ProcessBR converts embedded <br> markup to newlines.
	ProcessBR bool `json:"process_br,omitempty"`
}

type Config struct {
	Path        string
	PoolSize    int
	BusyTimeout time.Duration
	// Tables overrides DefaultTables entry by entry when non-empty.
	Tables map[string]Table
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	merged := DefaultTables()
	for k, t := range c.Tables {
		merged[strings.TrimSpace(k)] = t
	}
	c.Tables = merged
	return c
}

// DefaultTables mirrors the layout of the shipped content database.
func DefaultTables() map[string]Table {
	text := func(table string) Table {
		return Table{Table: table, Column: "content", Kind: TableText, ProcessBR: true}
	}
	return map[string]Table{
		"hitokoto":     text("hitokoto"),
		"twq":          text("twq"),
		"dog":          text("dog"),
		"aiqinggongyu": text("aiqinggongyu"),
		"renjian":      text("renjian"),
		"joke":         text("jokes"),
		"shenhuifu":    {Table: "shenhuifu", Kind: TableQA, QuestionColumn: "questions", AnswerColumn: "answers"},
		"beauty_pic":   {Table: "beauty_pic", Column: "url", Kind: TableImage},
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (t Table) validate() error {
	if t.Kind == "" {
		t.Kind = TableText
	}
	idents := []string{t.Table}
	switch t.Kind {
	case TableText, TableImage:
		idents = append(idents, t.Column)
	case TableQA:
		idents = append(idents, t.QuestionColumn, t.AnswerColumn)
	default:
		return fmt.Errorf("unknown table kind %q", t.Kind)
	}
	for _, id := range idents {
		if !identRe.MatchString(id) {
			return fmt.Errorf("invalid identifier %q", id)
		}
	}
	return nil
}

func (t Table) kind() TableKind {
	if t.Kind == "" {
		return TableText
	}
	return t.Kind
}
