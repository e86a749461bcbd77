package lexibase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// SnapshotSink receives the safety copy of the legacy store that is taken
// before migration touches anything. Save returns where the copy went.
type SnapshotSink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// BackendSink saves snapshot files into a Backend under a prefix
type BackendSink struct {
	Backend Backend
	Prefix  string
}

func (s BackendSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	key := joinKey(s.Prefix, name)
	if err := s.Backend.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return key, nil
}

// LegacySnapshotFile is the document written to the sink before migration
type LegacySnapshotFile struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      Snapshot  `json:"data"`
	Note      string    `json:"note"`
}

// snapshotFileName is unique per second so repeated attempts on one day keep
// every earlier copy
func snapshotFileName(t time.Time) string {
	return fmt.Sprintf("vocabulary-backup-%s.json", t.UTC().Format("2006-01-02-150405"))
}

func saveLegacySnapshot(ctx context.Context, sink SnapshotSink, snap *Snapshot, now time.Time) (string, error) {
	doc := LegacySnapshotFile{
		Timestamp: now,
		Source:    string(StorageSimple),
		Data:      *snap,
		Note:      "Backup created before migration to the structured store",
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return sink.Save(ctx, snapshotFileName(now), data)
}

// WriteExport encodes an export document as indented JSON
func WriteExport(w io.Writer, exp *Export) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exp)
}

// ReadExport decodes an export document. Legacy snapshot files, which nest
// the collections under "data", are accepted as well.
func ReadExport(r io.Reader) (*Export, error) {
	var raw struct {
		Export
		Data *Snapshot `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": "export is not valid JSON",
			"error":  err.Error(),
		})
	}
	exp := raw.Export
	if raw.Data != nil && exp.Words == nil && exp.Lessons == nil {
		exp.Snapshot = *raw.Data
	}
	if exp.Words == nil && exp.Lessons == nil && exp.Progress == nil && exp.Settings == nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": "export holds no words, lessons, progress or settings",
		})
	}
	return &exp, nil
}

// withSettingDefaults fills the two well-known settings the UI always reads
func withSettingDefaults(settings map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(settings)+2)
	for k, v := range settings {
		out[k] = v
	}
	if _, ok := out[SettingCurrentLessonID]; !ok {
		out[SettingCurrentLessonID] = json.RawMessage("null")
	}
	if _, ok := out[SettingSelectedPracticeLessons]; !ok {
		out[SettingSelectedPracticeLessons] = json.RawMessage("{}")
	}
	return out
}
