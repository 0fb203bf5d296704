package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders the command list in Telegram HTML. Owner-only commands
// are listed for owners only.
func (m *CommandManager) helpText(owner bool) string {
	m.mu.RLock()
	cmds := append([]Command(nil), m.cmds...)
	m.mu.RUnlock()

	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})

	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	adminHeader := false
	for _, c := range cmds {
		if c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			continue
		}
		if c.Access == AccessOwnerOnly && !adminHeader {
			b.WriteString("\n<b>Admin</b>\n")
			adminHeader = true
		}
		b.WriteString("<code>")
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(html.EscapeString(usage))
		b.WriteString("</code>")
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(" ")
			b.WriteString(html.EscapeString(d))
		}
		if len(c.Aliases) > 0 {
			b.WriteString(" <i>(")
			b.WriteString(html.EscapeString(strings.Join(c.Aliases, ", ")))
			b.WriteString(")</i>")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
