package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	wireMu   sync.Mutex
	wireLog  *log.Logger
	wireBody bool
)

// SetWireWriter routes raw exchange and messaging traffic to w. nil disables it.
func SetWireWriter(w io.Writer) {
	wireMu.Lock()
	defer wireMu.Unlock()
	if w == nil {
		wireLog = nil
		return
	}
	wireLog = log.New(w, "", log.LstdFlags)
}

// EnableWireBodies controls whether response bodies are written in addition to the request line.
func EnableWireBodies(enabled bool) {
	wireMu.Lock()
	wireBody = enabled
	wireMu.Unlock()
}

type wireSection struct {
	Title string
	Body  string
}

func logWire(kind, peer, op string, sections []wireSection) {
	wireMu.Lock()
	l := wireLog
	wireMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[WIRE]")
	for _, tag := range []string{kind, peer, op} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

// LogWireRequest records an outbound call. Secrets must be stripped by the caller.
func LogWireRequest(peer, op, line string) {
	logWire("request", peer, op, []wireSection{{Title: "LINE", Body: line}})
}

// LogWireResponse records the status and, when enabled, the raw body of a reply.
func LogWireResponse(peer, op string, status int, body string) {
	sections := []wireSection{{Title: "STATUS", Body: strconv.Itoa(status)}}
	wireMu.Lock()
	dump := wireBody
	wireMu.Unlock()
	if dump && strings.TrimSpace(body) != "" {
		sections = append(sections, wireSection{Title: "BODY", Body: body})
	}
	logWire("response", peer, op, sections)
}

// SetRotatingWireFile sends wire traffic to its own lumberjack-rotated file.
func SetRotatingWireFile(opts RotateOptions) (io.Closer, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		SetWireWriter(nil)
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	SetWireWriter(lj)
	return lj, nil
}
