// Package template renders rule templates against a reaction event. The
// syntax is deliberately flat: {{name}} placeholders only, no logic, no
// nesting. Rendering is a pure function and never fails; an unknown
// placeholder renders as the empty string.
package template

import (
	"strconv"
	"strings"

	"github.com/flowhook/reactor/internal/model"
)

// Vars is the placeholder set available to a rule template.
type Vars struct {
	Event      model.ReactionEvent
	TaskNumber int64
}

// Render substitutes every {{name}} placeholder in tmpl. Placeholder names
// are case-sensitive; whitespace inside the braces is tolerated.
func Render(tmpl string, v Vars) string {
	var b strings.Builder
	b.Grow(len(tmpl))
	for {
		i := strings.Index(tmpl, "{{")
		if i < 0 {
			b.WriteString(tmpl)
			return b.String()
		}
		j := strings.Index(tmpl[i:], "}}")
		if j < 0 {
			b.WriteString(tmpl)
			return b.String()
		}
		b.WriteString(tmpl[:i])
		name := strings.TrimSpace(tmpl[i+2 : i+j])
		b.WriteString(v.lookup(name))
		tmpl = tmpl[i+j+2:]
	}
}

func (v Vars) lookup(name string) string {
	switch name {
	case "content":
		return v.Event.Content
	case "emoji":
		return v.Event.Emoji
	case "messageId":
		return v.Event.MessageID
	case "chatId":
		return v.Event.ChatJID.LocalPart()
	case "chatJid":
		return v.Event.ChatJID.String()
	case "sender":
		return v.Event.ReactorJID.LocalPart()
	case "senderJid":
		return v.Event.ReactorJID.String()
	case "taskNumber":
		return strconv.FormatInt(v.TaskNumber, 10)
	}
	return ""
}
