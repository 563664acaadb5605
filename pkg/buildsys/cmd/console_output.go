package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/ngld/devbox/pkg/build"
)

// ConsoleWriter renders zerolog's JSON events as short, colored lines
type ConsoleWriter struct {
	out    io.Writer
	buffer strings.Builder
	lock   sync.Mutex
	color  colorstring.Colorize
}

func debugEnabled() bool {
	return os.Getenv("DEVBOX_DEBUG") != ""
}

// NewConsoleWriter returns a writer which prints to out (os.Stderr if nil)
func NewConsoleWriter(out io.Writer, disableColor bool) *ConsoleWriter {
	if out == nil {
		out = os.Stderr
	}

	return &ConsoleWriter{
		out: out,
		color: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: disableColor,
			Reset:   true,
		},
	}
}

func stringField(evt map[string]interface{}, name string) (string, bool) {
	value, ok := evt[name]
	if !ok {
		return "", false
	}

	str, ok := value.(string)
	if !ok {
		str = fmt.Sprint(value)
	}
	return str, true
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

	w.buffer.Reset()
	level, _ := stringField(evt, "level")
	switch level {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if step, ok := stringField(evt, "step"); ok {
		w.buffer.WriteString(step + ": ")
	}

	if level == "error" {
		w.buffer.WriteString("Error: ")
	}

	if isCmd, ok := evt["command"].(bool); ok && isCmd {
		w.buffer.WriteString("[bold]")
	}

	msg, _ := stringField(evt, "message")
	if path, ok := stringField(evt, "path"); ok {
		// simplify the path
		wd, err := os.Getwd()
		if err == nil && filepath.IsAbs(path) {
			relPath, err := filepath.Rel(wd, path)
			if err == nil && !strings.HasPrefix(relPath, "..") {
				msg = strings.ReplaceAll(msg, path, relPath)
			}
		}
	}

	w.buffer.WriteString(msg)

	if errorDetails, ok := stringField(evt, "error"); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	if debugEnabled() {
		w.buffer.WriteString("\n")
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")
	_, err = io.WriteString(w.out, w.color.Color(w.buffer.String()))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// NewLogger builds the CLI logger from the project configuration
func NewLogger(cfg *build.Config, out io.Writer) zerolog.Logger {
	var writer io.Writer
	if cfg.Log.JSON {
		writer = out
		if writer == nil {
			writer = os.Stderr
		}
	} else {
		writer = NewConsoleWriter(out, os.Getenv("NO_COLOR") != "")
	}

	return zerolog.New(writer).Level(cfg.LogLevel()).With().Timestamp().Logger()
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, debugEnabled())
	}
}
