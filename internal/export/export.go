// Package export renders a vocabulary snapshot as PostgreSQL DDL and INSERT
// statements, for users leaving lexibase for a relational database.
package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adrianmcphee/lexibase"
)

// Column is one column of an exported table
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool
	References string
	Default    string
}

// Table describes an exported table
type Table struct {
	Name    string
	Columns []Column
}

// Row maps column names to Go values: string, int, int64, bool, time.Time,
// *time.Time, json.RawMessage or nil
type Row map[string]interface{}

// Tables lists the exported tables in creation order. lesson_id carries no
// foreign key because legacy words may point at deleted lessons.
func Tables() []Table {
	return []Table{
		{
			Name: "lessons",
			Columns: []Column{
				{Name: "id", Type: "text", PrimaryKey: true},
				{Name: "name", Type: "text", NotNull: true},
				{Name: "description", Type: "text"},
				{Name: "color", Type: "text"},
				{Name: "created_date", Type: "timestamptz", NotNull: true},
			},
		},
		{
			Name: "words",
			Columns: []Column{
				{Name: "id", Type: "text", PrimaryKey: true},
				{Name: "english", Type: "text", NotNull: true},
				{Name: "vietnamese", Type: "text", NotNull: true},
				{Name: "example", Type: "text"},
				{Name: "category", Type: "text", NotNull: true, Default: "'general'"},
				{Name: "lesson_id", Type: "text"},
				{Name: "added_date", Type: "timestamptz", NotNull: true},
				{Name: "reviewed", Type: "int", NotNull: true, Default: "0"},
				{Name: "last_reviewed", Type: "timestamptz"},
			},
		},
		{
			Name: "progress",
			Columns: []Column{
				{Name: "type", Type: "text", PrimaryKey: true},
				{Name: "total_questions", Type: "int", NotNull: true},
				{Name: "correct_answers", Type: "int", NotNull: true},
				{Name: "total_words", Type: "int", NotNull: true},
				{Name: "learned_words", Type: "jsonb", NotNull: true},
			},
		},
		{
			Name: "settings",
			Columns: []Column{
				{Name: "key", Type: "text", PrimaryKey: true},
				{Name: "value", Type: "jsonb"},
			},
		},
	}
}

// ExportDDL generates the CREATE TABLE statements
func ExportDDL() string {
	var sb strings.Builder
	sb.WriteString("-- lexibase export to PostgreSQL\n")
	sb.WriteString("-- Generated schema (no migration history)\n\n")

	tables := Tables()
	for i := range tables {
		sb.WriteString(TableToDDL(&tables[i]))
		if i < len(tables)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// TableToDDL generates a CREATE TABLE statement for a single table
func TableToDDL(table *Table) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CREATE TABLE %s (\n", table.Name))
	for i, col := range table.Columns {
		sb.WriteString("  ")
		sb.WriteString(columnToDDL(&col))
		if i < len(table.Columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(");\n")
	return sb.String()
}

func columnToDDL(col *Column) string {
	parts := []string{col.Name, mapType(col.Type)}
	if col.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if col.NotNull && !col.PrimaryKey {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != "" {
		parts = append(parts, "DEFAULT", col.Default)
	}
	if col.References != "" {
		parts = append(parts, "REFERENCES", col.References)
	}
	return strings.Join(parts, " ")
}

func mapType(t string) string {
	switch strings.ToLower(t) {
	case "text", "string":
		return "TEXT"
	case "int", "integer":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "boolean", "bool":
		return "BOOLEAN"
	case "timestamp", "timestamptz":
		return "TIMESTAMPTZ"
	case "json", "jsonb":
		return "JSONB"
	default:
		return "TEXT"
	}
}

// Rows flattens a snapshot into table rows keyed by table name. Words and
// lessons keep their snapshot order; settings are sorted by key.
func Rows(snap *lexibase.Snapshot) (map[string][]Row, error) {
	rows := make(map[string][]Row, 4)

	for _, l := range snap.Lessons {
		rows["lessons"] = append(rows["lessons"], Row{
			"id":           l.ID.String(),
			"name":         l.Name,
			"description":  optional(l.Description),
			"color":        optional(l.Color),
			"created_date": l.CreatedDate,
		})
	}

	for _, w := range snap.Words {
		var lessonID interface{}
		if w.LessonID != "" {
			lessonID = w.LessonID.String()
		}
		rows["words"] = append(rows["words"], Row{
			"id":            w.ID.String(),
			"english":       w.English,
			"vietnamese":    w.Vietnamese,
			"example":       optional(w.Example),
			"category":      string(w.Category),
			"lesson_id":     lessonID,
			"added_date":    w.AddedDate,
			"reviewed":      w.Reviewed,
			"last_reviewed": w.LastReviewed,
		})
	}

	if snap.Progress != nil {
		learned := snap.Progress.LearnedWords
		if learned == nil {
			learned = []lexibase.ID{}
		}
		data, err := json.Marshal(learned)
		if err != nil {
			return nil, fmt.Errorf("failed to encode learned words: %w", err)
		}
		rows["progress"] = append(rows["progress"], Row{
			"type":            lexibase.ProgressTypeQuiz,
			"total_questions": snap.Progress.TotalQuestions,
			"correct_answers": snap.Progress.CorrectAnswers,
			"total_words":     snap.Progress.TotalWords,
			"learned_words":   json.RawMessage(data),
		})
	}

	keys := make([]string, 0, len(snap.Settings))
	for k := range snap.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var value interface{}
		if raw := snap.Settings[k]; len(raw) > 0 && string(raw) != "null" {
			value = raw
		}
		rows["settings"] = append(rows["settings"], Row{"key": k, "value": value})
	}

	return rows, nil
}

func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ExportData generates INSERT statements for every row of the snapshot
func ExportData(snap *lexibase.Snapshot) (string, error) {
	rows, err := Rows(snap)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("-- lexibase data export\n\n")
	for _, table := range Tables() {
		tableRows := rows[table.Name]
		if len(tableRows) == 0 {
			continue
		}
		colNames := make([]string, len(table.Columns))
		for i, col := range table.Columns {
			colNames[i] = col.Name
		}
		for _, row := range tableRows {
			sb.WriteString(rowToInsert(table.Name, colNames, row))
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func rowToInsert(tableName string, colNames []string, row Row) string {
	values := make([]string, len(colNames))
	for i, colName := range colNames {
		values[i] = literal(row[colName])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);\n",
		tableName,
		strings.Join(colNames, ", "),
		strings.Join(values, ", "))
}

func literal(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case time.Time:
		return quote(v.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if v == nil {
			return "NULL"
		}
		return quote(v.UTC().Format(time.RFC3339Nano))
	case json.RawMessage:
		return quote(string(v)) + "::jsonb"
	default:
		return quote(fmt.Sprintf("%v", v))
	}
}

// Export generates both DDL and data
func Export(snap *lexibase.Snapshot) (string, error) {
	data, err := ExportData(snap)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(ExportDDL())
	sb.WriteString("\n")
	sb.WriteString(data)
	return sb.String(), nil
}
