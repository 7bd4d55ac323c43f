package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const gaugeWidth = 20

// ConsoleWriter renders zerolog's JSON events as short coloured lines.
//
// Shader events are tagged with their stage and show the source relative to the working
// directory. Download progress events of a dependency get a small gauge in front of the
// message.
type ConsoleWriter struct {
	out    io.Writer
	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

func debugEnabled() bool {
	return os.Getenv("PREV_DEBUG") != ""
}

func levelColor(level interface{}) string {
	switch level {
	case "fatal", "error":
		return "[red]"
	case "warn":
		return "[yellow]"
	case "debug", "trace":
		return "[blue]"
	default:
		return "[green]"
	}
}

func number(value interface{}) (float64, bool) {
	num, ok := value.(json.Number)
	if !ok {
		return 0, false
	}

	f, err := num.Float64()
	return f, err == nil
}

func relPath(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}

	rel, err := filepath.Rel(".", path)
	if err != nil {
		return path
	}
	return rel
}

// gauge draws pct as [#####---------------]
func gauge(pct float64) string {
	filled := int(pct / 100 * gaugeWidth)
	if filled < 0 {
		filled = 0
	} else if filled > gaugeWidth {
		filled = gaugeWidth
	}

	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", gaugeWidth-filled) + "]"
}

func (w *ConsoleWriter) writeSubject(evt map[string]interface{}, color string) {
	if shader, ok := evt["shader"].(string); ok {
		if stage, ok := evt["stage"].(string); ok {
			w.buffer.WriteString("[bold]" + stage + "[reset]" + color + " ")
		}
		w.buffer.WriteString(relPath(shader) + ": ")
		return
	}

	if dep, ok := evt["dep"].(string); ok {
		w.buffer.WriteString(dep + ": ")
		if pct, ok := number(evt["percent"]); ok {
			w.buffer.WriteString(gauge(pct) + " ")
		}
	}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	color := levelColor(evt["level"])
	w.buffer.Reset()
	w.buffer.WriteString(color)
	w.writeSubject(evt, color)

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)
	if path, ok := evt["path"].(string); ok {
		msg = strings.ReplaceAll(msg, path, relPath(path))
	}
	w.buffer.WriteString(msg)

	// zerolog writes durations in milliseconds
	if elapsed, ok := number(evt["elapsed"]); ok {
		took := time.Duration(elapsed * float64(time.Millisecond))
		w.buffer.WriteString(fmt.Sprintf(" (%s)", took.Round(time.Millisecond)))
	}

	if errorDetails, ok := evt["error"]; ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(fmt.Sprint(errorDetails))
	}

	if debugEnabled() {
		w.buffer.WriteString("\n")
		for name, value := range evt {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, value))
		}
	}

	w.buffer.WriteString("[reset]\n")
	_, err = colorstring.Fprint(w.out, w.buffer.String())
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, debugEnabled())
	}
}
