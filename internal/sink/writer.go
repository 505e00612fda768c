package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	onvif "github.com/SridarDhandapani/onvif-events"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatNone = "none"
)

// Writer prints events and connection states in one of the output formats.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	format string
	device string
}

// NewWriter returns a writer for format. Unknown formats are rejected.
func NewWriter(out io.Writer, format, device string) (*Writer, error) {
	switch format {
	case FormatText, FormatJSON, FormatYAML, FormatNone:
	default:
		return nil, errors.NotValidf("output format %q", format)
	}
	return &Writer{out: out, format: format, device: device}, nil
}

// HandleEvent implements EventSink.
func (w *Writer) HandleEvent(event onvif.DeviceEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := NewRecord(w.device, event)
	switch w.format {
	case FormatText:
		_, err := fmt.Fprintf(w.out, "[%s] %s\n%s\n", event.Timestamp.Local().Format("15:04:05"), event.Topic, event.Message)
		return errors.Trace(err)
	case FormatJSON:
		return errors.Trace(json.NewEncoder(w.out).Encode(record))
	case FormatYAML:
		data, err := yaml.Marshal(record)
		if err != nil {
			return errors.Annotate(err, "encoding event")
		}
		if _, err := io.WriteString(w.out, "---\n"); err != nil {
			return errors.Trace(err)
		}
		_, err = w.out.Write(data)
		return errors.Trace(err)
	default:
		return nil
	}
}

// WriteState prints a connection state line. States are printed for every format
// except none, always as plain text.
func (w *Writer) WriteState(info onvif.ConnectionStateInfo) error {
	if w.format == FormatNone {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintln(w.out, info.String())
	return errors.Trace(err)
}
