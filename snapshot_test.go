package lexibase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSnapshotFileName(t *testing.T) {
	loc := time.FixedZone("ICT", 7*60*60)
	got := snapshotFileName(time.Date(2024, 5, 1, 19, 4, 5, 0, loc))
	if got != "vocabulary-backup-2024-05-01-120405.json" {
		t.Errorf("unexpected file name %s", got)
	}
}

func TestBackendSink_Save(t *testing.T) {
	ctx := context.Background()
	backend := NewFilesystemBackend(t.TempDir())
	sink := BackendSink{Backend: backend, Prefix: "exports"}

	key, err := sink.Save(ctx, "a.json", []byte(`{}`))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if key != "exports/a.json" {
		t.Errorf("expected exports/a.json, got %s", key)
	}
	if exists, _ := backend.Exists(ctx, key); !exists {
		t.Error("expected snapshot to be written")
	}
}

func TestExport_RoundTrip(t *testing.T) {
	p := DefaultProgress()
	exp := &Export{
		Snapshot: Snapshot{
			Words:    []Word{testWord("w1", "mother", "lesson-1", testEpoch)},
			Lessons:  []Lesson{testLesson("lesson-1", "Family", testEpoch)},
			Progress: &p,
			Settings: map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)},
		},
		ExportDate:  testEpoch,
		StorageType: StorageStructured,
		Version:     ExportFormatVersion,
	}

	var buf bytes.Buffer
	if err := WriteExport(&buf, exp); err != nil {
		t.Fatalf("WriteExport failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"storageType": "structured"`) {
		t.Errorf("expected indented output, got %s", buf.String())
	}

	got, err := ReadExport(&buf)
	if err != nil {
		t.Fatalf("ReadExport failed: %v", err)
	}
	if len(got.Words) != 1 || got.Words[0].English != "mother" {
		t.Errorf("unexpected words %+v", got.Words)
	}
	if !got.ExportDate.Equal(testEpoch) || got.Version != ExportFormatVersion {
		t.Errorf("unexpected header %+v", got)
	}
}

func TestReadExport_LegacySnapshotFile(t *testing.T) {
	doc := `{
		"timestamp": "2024-05-01T12:00:00Z",
		"source": "simple",
		"data": {
			"words": [{"id": 1, "english": "mother", "lessonId": "lesson-1"}],
			"lessons": [{"id": "lesson-1", "name": "Family"}],
			"progress": null,
			"settings": {}
		},
		"note": "Backup created before migration"
	}`

	exp, err := ReadExport(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ReadExport failed: %v", err)
	}
	if len(exp.Words) != 1 || exp.Words[0].ID != "1" {
		t.Errorf("expected nested words, got %+v", exp.Words)
	}
	if len(exp.Lessons) != 1 {
		t.Errorf("expected nested lessons, got %+v", exp.Lessons)
	}
}

func TestReadExport_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"not json": `{words`,
		"empty":    `{}`,
		"unknown":  `{"foo": 1}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadExport(strings.NewReader(doc))
			if !errors.Is(err, ErrInvalidData) {
				t.Errorf("expected ErrInvalidData, got %v", err)
			}
		})
	}
}

func TestWithSettingDefaults(t *testing.T) {
	in := map[string]json.RawMessage{SettingCurrentLessonID: json.RawMessage(`"lesson-2"`)}
	out := withSettingDefaults(in)

	if string(out[SettingCurrentLessonID]) != `"lesson-2"` {
		t.Errorf("existing value must be kept, got %s", out[SettingCurrentLessonID])
	}
	if string(out[SettingSelectedPracticeLessons]) != `{}` {
		t.Errorf("expected {} default, got %s", out[SettingSelectedPracticeLessons])
	}
	if len(in) != 1 {
		t.Error("input map must not be modified")
	}

	out = withSettingDefaults(nil)
	if string(out[SettingCurrentLessonID]) != `null` {
		t.Errorf("expected null default, got %s", out[SettingCurrentLessonID])
	}
}
