package pkg

import (
	"io"
	"os"

	"github.com/mitchellh/colorstring"
)

// Output receives the task list printed by the helpers below
var Output io.Writer = os.Stdout

func PrintTask(msg string) {
	colorstring.Fprintf(Output, "[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Fprintf(Output, "[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Fprintf(Output, "[red][bold]  ->[reset] %s\n", msg)
}
