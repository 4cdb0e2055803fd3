package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var levelColors = map[string]string{
	"trace": "[blue]",
	"debug": "[blue]",
	"warn":  "[yellow]",
	"error": "[red]",
	"fatal": "[red]",
	"panic": "[red]",
}

// ConsoleWriter renders zerolog's JSON event stream as colored, human
// readable lines on stderr. Set DECKHAND_DEBUG to dump every event field.
type ConsoleWriter struct{}

func NewConsoleWriter() ConsoleWriter { return ConsoleWriter{} }

func (ConsoleWriter) Write(p []byte) (int, error) {
	var evt map[string]interface{}
	if err := json.Unmarshal(p, &evt); err != nil {
		return 0, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	line := strings.Builder{}
	level := asString(evt["level"])

	color, ok := levelColors[level]
	if !ok {
		color = "[green]"
	}
	line.WriteString(color)

	if step := asString(evt["step"]); step != "" {
		line.WriteString(step + ": ")
	}

	if level == "error" {
		line.WriteString("Error: ")
	}

	line.WriteString(asString(evt["message"]))

	if details := asString(evt["error"]); details != "" {
		line.WriteString("\n" + details)
	}

	if os.Getenv("DECKHAND_DEBUG") != "" {
		for name, value := range evt {
			fmt.Fprintf(&line, "\n  %s: %+v", name, value)
		}
	}

	line.WriteString("[reset]\n")
	return colorstring.Fprint(os.Stderr, line.String())
}

func asString(value interface{}) string {
	text, _ := value.(string)
	return text
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv("DECKHAND_DEBUG") != "")
	}
}
