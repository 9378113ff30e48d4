package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/util"
	"github.com/user/ble-advertiser/wire/gatt"
)

// transcript records every call crossing the radio boundary as a protobuf
// Struct, in order.
type transcript struct {
	mu      sync.Mutex
	records []*structpb.Struct
}

func newTranscript() *transcript {
	return &transcript{}
}

func (t *transcript) record(op string, fields map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := map[string]interface{}{
		"op":  op,
		"seq": len(t.records) + 1,
	}
	for k, v := range fields {
		m[k] = v
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		logger.Warn("sim", "transcript record %s: %v", op, err)
		return
	}
	t.records = append(t.records, s)
	logger.TraceJSON("sim", op, s)
}

func (t *transcript) snapshot() []*structpb.Struct {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*structpb.Struct, len(t.records))
	for i, r := range t.records {
		out[i] = proto.Clone(r).(*structpb.Struct)
	}
	return out
}

// Transcript returns a copy of every recorded call
func (m *Manager) Transcript() []*structpb.Struct {
	return m.transcript.snapshot()
}

// TranscriptOps returns the op name of every recorded call, in order
func (m *Manager) TranscriptOps() []string {
	records := m.transcript.snapshot()
	ops := make([]string, 0, len(records))
	for _, r := range records {
		ops = append(ops, r.GetFields()["op"].GetStringValue())
	}
	return ops
}

// TranscriptJSON renders the transcript as a protojson list
func (m *Manager) TranscriptJSON() ([]byte, error) {
	list := &structpb.ListValue{}
	for _, r := range m.transcript.snapshot() {
		list.Values = append(list.Values, structpb.NewStructValue(r))
	}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(list)
}

// SaveTranscript writes the transcript to <data dir>/transcripts/<name>.json
// and returns the path.
func (m *Manager) SaveTranscript(name string) (string, error) {
	data, err := m.TranscriptJSON()
	if err != nil {
		return "", errors.Wrap(err, "marshal transcript")
	}
	dir, err := util.TranscriptDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write transcript %s", path)
	}
	logger.Debug("sim", "transcript saved to %s", path)
	return path, nil
}

// attribute returns a copy of an attribute from the current database
func (m *Manager) attribute(handle uint16) (gatt.Attribute, error) {
	return m.table.Attribute(handle)
}

// printable renders a value for the transcript
func printable(v []byte) string {
	if utf8.Valid(v) {
		return string(v)
	}
	return fmt.Sprintf("0x%X", v)
}
