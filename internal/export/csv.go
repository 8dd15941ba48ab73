package export

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"invoicelens/api/internal/invoice"
)

// Result is a finished CSV export.
type Result struct {
	CSV      string
	Filename string
}

// ApprovedOnly narrows rows to approved extractions. Exports never include
// anything still under review, whatever the caller passed in.
func ApprovedOnly(rows []invoice.ExtractionRecord) []invoice.ExtractionRecord {
	out := make([]invoice.ExtractionRecord, 0, len(rows))
	for _, row := range rows {
		if row.Status == invoice.StatusApproved {
			out = append(out, row)
		}
	}
	return out
}

// BuildCSV renders rows into a CSV document. A row with N line items expands
// into N CSV rows repeating the header-level values; a row with no line items
// still emits one CSV row. With an empty selection every column from
// BuildColumns is exported; otherwise only the selected columns are, in
// schema order. Hidden columns are filtered out of the selection again here
// so a forged selection cannot leak them.
func BuildCSV(rows []invoice.ExtractionRecord, selectedColumns []string) Result {
	set := BuildColumns(rows)
	columns := selectColumns(set.AllColumns, selectedColumns)

	var b strings.Builder
	writeRecord(&b, columns)
	for _, row := range rows {
		for _, values := range expandRow(row, columns, set.HeaderDisplayMap) {
			writeRecord(&b, values)
		}
	}

	return Result{
		CSV:      b.String(),
		Filename: "invoices_export_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + ".csv",
	}
}

// selectColumns intersects the requested selection with the discovered
// schema, with hidden columns dropped either way. Matching is
// case-insensitive and the output always follows schema order, not the
// order the export dialog sent the selection in.
func selectColumns(all []string, selected []string) []string {
	if len(selected) == 0 {
		return all
	}
	wanted := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		wanted[strings.ToLower(name)] = struct{}{}
	}
	out := make([]string, 0, len(selected))
	for _, name := range all {
		if isHidden(name) {
			continue
		}
		if _, ok := wanted[strings.ToLower(name)]; ok {
			out = append(out, name)
		}
	}
	return out
}

// expandRow produces one value slice per line item, or a single slice when
// the record has none. Header-level values repeat on every expanded row.
func expandRow(row invoice.ExtractionRecord, columns []string, displayMap map[string]string) [][]string {
	items := row.LineItems
	if len(items) == 0 {
		items = []map[string]any{nil}
	}
	out := make([][]string, 0, len(items))
	for _, item := range items {
		values := make([]string, len(columns))
		for i, column := range columns {
			values[i] = cellValue(row, item, column, displayMap)
		}
		out = append(out, values)
	}
	return out
}

func cellValue(row invoice.ExtractionRecord, item map[string]any, column string, displayMap map[string]string) string {
	switch column {
	case "file_name":
		return row.FileName
	}
	if item != nil {
		fields, ok := lineItemFields(item)
		if !ok {
			if column == RawLineItemColumn {
				raw, _ := serializedPayload(item)
				return raw
			}
		} else if value, found := lookupFold(fields, column); found {
			return stringify(value)
		}
	}
	// A suffixed header column reads from the original header key.
	key := column
	if original, ok := displayMap[column]; ok {
		key = original
	}
	if value, found := lookupFold(row.Headers, key); found {
		return stringify(value)
	}
	return ""
}

// lookupFold finds a map value by case-insensitive key.
func lookupFold(m map[string]any, key string) (any, bool) {
	if value, ok := m[key]; ok {
		return value, true
	}
	for k, value := range m {
		if strings.EqualFold(k, key) {
			return value, true
		}
	}
	return nil, false
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		// Nested objects and arrays keep a compact JSON rendering.
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// writeRecord appends one CSV record terminated by CRLF. A field is quoted
// when it contains a comma, double quote, or newline; embedded quotes are
// doubled.
func writeRecord(b *strings.Builder, values []string) {
	for i, value := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		if strings.ContainsAny(value, "\",\n\r") {
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(value, `"`, `""`))
			b.WriteByte('"')
		} else {
			b.WriteString(value)
		}
	}
	b.WriteString("\r\n")
}
