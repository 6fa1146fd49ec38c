package emit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// LogEmitter writes one line per event, built in full before a single
// Write so lines from concurrent graphs never interleave.
//
// Text mode, meta keys sorted:
//
//	node_execute run=run-001 step=3 node=sum attempt=0 state=executing
//
// JSON mode (JSON Lines):
//
//	{"event":"node_execute","run_id":"run-001","step":3,"node_id":"sum","meta":{"attempt":0,"state":"executing"}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
	buf      bytes.Buffer
}

// NewLogEmitter writes to writer, or os.Stdout when writer is nil.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

type jsonLine struct {
	Event  string                 `json:"event"`
	RunID  string                 `json:"run_id"`
	Step   int                    `json:"step"`
	NodeID string                 `json:"node_id,omitempty"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

// Emit writes the event. Write errors are dropped.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Reset()
	if l.jsonMode {
		l.appendJSON(event)
	} else {
		l.appendText(event)
	}
	l.buf.WriteByte('\n')
	_, _ = l.writer.Write(l.buf.Bytes())
}

func (l *LogEmitter) appendJSON(event Event) {
	data, err := json.Marshal(jsonLine{
		Event:  event.Msg,
		RunID:  event.RunID,
		Step:   event.Step,
		NodeID: event.NodeID,
		Meta:   event.Meta,
	})
	if err != nil {
		data, _ = json.Marshal(map[string]string{
			"event": event.Msg,
			"error": "unencodable meta: " + err.Error(),
		})
	}
	l.buf.Write(data)
}

func (l *LogEmitter) appendText(event Event) {
	l.buf.WriteString(event.Msg)
	l.buf.WriteString(" run=")
	l.buf.WriteString(textValue(event.RunID))
	l.buf.WriteString(" step=")
	l.buf.WriteString(strconv.Itoa(event.Step))
	if event.NodeID != "" {
		l.buf.WriteString(" node=")
		l.buf.WriteString(textValue(event.NodeID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		l.buf.WriteByte(' ')
		l.buf.WriteString(k)
		l.buf.WriteByte('=')
		l.buf.WriteString(textValue(event.Meta[k]))
	}
}

// textValue renders scalars bare and quotes strings that contain spaces or
// quotes. Composite values are written as JSON.
func textValue(v interface{}) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case nil:
		return "null"
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			s = fmt.Sprint(t)
		} else {
			return string(b)
		}
	}
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return strconv.Quote(s)
	}
	return s
}
