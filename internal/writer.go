package internal

import (
	"fmt"
	"io"
	"os"
)

// Writer carries user-facing command output. Diagnostics go to the logger;
// results and warnings meant for the operator go here.
type Writer interface {
	// Print writes a message to the output stream.
	Print(v ...any)

	// Printf writes a formatted message to the output stream.
	Printf(format string, v ...any)

	// Println writes a message with a newline to the output stream.
	Println(v ...any)

	// Warning writes a warning message to the error stream.
	Warning(v ...any)

	// Warningf writes a formatted warning message to the error stream.
	Warningf(format string, v ...any)

	// GetWriter returns the underlying io.Writer for direct writing.
	GetWriter() io.Writer
}

// StandardWriter sends results to one stream and warnings to another.
type StandardWriter struct {
	out io.Writer
	err io.Writer
}

// NewStandardWriter creates a Writer that outputs to stdout and stderr.
func NewStandardWriter() *StandardWriter {
	return &StandardWriter{
		out: os.Stdout,
		err: os.Stderr,
	}
}

// NewCustomWriter creates a Writer over the given streams; tests use it to
// capture command output.
func NewCustomWriter(out, err io.Writer) *StandardWriter {
	return &StandardWriter{
		out: out,
		err: err,
	}
}

// Print writes a message to the output stream without adding a newline.
func (w *StandardWriter) Print(v ...any) {
	fmt.Fprint(w.out, v...)
}

// Printf writes a formatted message to the output stream.
func (w *StandardWriter) Printf(format string, v ...any) {
	fmt.Fprintf(w.out, format, v...)
}

// Println writes a message with a newline to the output stream.
func (w *StandardWriter) Println(v ...any) {
	fmt.Fprintln(w.out, v...)
}

// Warning writes a warning message to the error stream with a "Warning: " prefix.
func (w *StandardWriter) Warning(v ...any) {
	fmt.Fprint(w.err, "Warning: ")
	fmt.Fprintln(w.err, v...)
}

// Warningf writes a formatted warning message to the error stream with a "Warning: " prefix.
func (w *StandardWriter) Warningf(format string, v ...any) {
	fmt.Fprintf(w.err, "Warning: "+format+"\n", v...)
}

// GetWriter returns the output stream, for tabular output.
func (w *StandardWriter) GetWriter() io.Writer {
	return w.out
}
