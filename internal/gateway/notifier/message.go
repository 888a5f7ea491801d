package notifier

import (
	"html"
	"strings"
	"time"

	"sigwatch/internal/pkg/text"
)

// Telegram rejects messages above 4096 characters.
const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的运维告警。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderHTML 生成 HTML 文本，自动裁剪长度。
func (m StructuredMessage) RenderHTML() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + html.EscapeString(strings.TrimSpace(m.Title)))
	if header != "" {
		b.WriteString("<b>" + header + "</b>\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(html.EscapeString(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("<i>" + m.Timestamp.Format("2006-01-02 15:04:05 MST") + "</i>")
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = text.Truncate(body, maxStructuredMessageLen)
	}
	return body
}

func renderSections(secs []MessageSection) string {
	var b strings.Builder
	first := true
	for _, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if !first {
			b.WriteString("\n")
		}
		first = false
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString("<u>" + html.EscapeString(title) + "</u>\n")
		}
		for _, line := range lines {
			b.WriteString("• ")
			b.WriteString(html.EscapeString(line))
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString("\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
