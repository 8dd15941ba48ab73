// Package export turns heterogeneous extraction records into a stable CSV
// schema: column discovery, case-insensitive dedup, collision suffixing,
// and row-per-line-item flattening.
package export

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"invoicelens/api/internal/invoice"
)

// RawLineItemColumn is the synthetic column used when a serialized line
// item cannot be parsed into fields.
const RawLineItemColumn = "raw_lineitem"

// baseColumns is the fixed base schema, in export order. Most of it is
// internal bookkeeping and hidden from selection and export.
var baseColumns = []string{
	"extraction_id",
	"file_id",
	"file_name",
	"file_path",
	"client_id",
	"client_name",
	"status",
	"created_at",
	"page_number",
}

// hiddenColumns can never be selected or exported, regardless of input.
var hiddenColumns = map[string]struct{}{
	"extraction_id": {},
	"file_id":       {},
	"client_name":   {},
	"status":        {},
	"file_path":     {},
	"client_id":     {},
	"created_at":    {},
	"page_number":   {},
}

func isHidden(name string) bool {
	_, hidden := hiddenColumns[strings.ToLower(name)]
	return hidden
}

// ColumnSet is the harmonized export schema for a set of records.
type ColumnSet struct {
	// AllColumns is every exportable column: visible base columns, then
	// resolved header columns, then line-item columns, in discovery order.
	AllColumns []string
	// HeaderColumns are the resolved (possibly suffixed) header names.
	HeaderColumns []string
	// LineItemColumns are the discovered line-item field names.
	LineItemColumns []string
	// HeaderDisplayMap maps a resolved header column back to the original
	// header key it was discovered under.
	HeaderDisplayMap map[string]string
}

// BuildColumns scans every row's headers and line items and returns the
// deduplicated, collision-resolved column schema. Line-item names take
// precedence over header names: a header colliding with a line-item column
// (or a base column) is suffixed with _hdr, then _hdr1, _hdr2, and so on.
// Hidden columns are excluded entirely, whatever their origin.
func BuildColumns(rows []invoice.ExtractionRecord) ColumnSet {
	headers := discoverHeaders(rows)
	lineItems := discoverLineItemColumns(rows)

	taken := make(map[string]struct{}, len(baseColumns)+len(lineItems))
	for _, name := range baseColumns {
		taken[strings.ToLower(name)] = struct{}{}
	}
	for _, name := range lineItems {
		taken[strings.ToLower(name)] = struct{}{}
	}

	displayMap := make(map[string]string, len(headers))
	resolvedHeaders := make([]string, 0, len(headers))
	for _, original := range headers {
		if isHidden(original) {
			// A header shadowing a hidden base column is dropped, not renamed.
			continue
		}
		resolved := resolveCollision(original, taken)
		taken[strings.ToLower(resolved)] = struct{}{}
		displayMap[resolved] = original
		resolvedHeaders = append(resolvedHeaders, resolved)
	}

	visibleLineItems := make([]string, 0, len(lineItems))
	for _, name := range lineItems {
		if isHidden(name) {
			continue
		}
		visibleLineItems = append(visibleLineItems, name)
	}

	all := make([]string, 0, len(baseColumns)+len(resolvedHeaders)+len(visibleLineItems))
	for _, name := range baseColumns {
		if isHidden(name) {
			continue
		}
		all = append(all, name)
	}
	all = append(all, resolvedHeaders...)
	all = append(all, visibleLineItems...)

	return ColumnSet{
		AllColumns:       all,
		HeaderColumns:    resolvedHeaders,
		LineItemColumns:  visibleLineItems,
		HeaderDisplayMap: displayMap,
	}
}

// discoverHeaders walks every row's header map in sequence, deduplicating
// keys case-insensitively. First-seen original casing wins. Keys within a
// single row are visited in sorted order so discovery is deterministic.
func discoverHeaders(rows []invoice.ExtractionRecord) []string {
	order := make([]string, 0)
	seen := make(map[string]struct{})
	for _, row := range rows {
		for _, key := range sortedKeys(row.Headers) {
			lower := strings.ToLower(key)
			if _, done := seen[lower]; done {
				continue
			}
			seen[lower] = struct{}{}
			order = append(order, key)
		}
	}
	return order
}

// discoverLineItemColumns collects field names across all line items of all
// rows. Serialized items are parsed as JSON objects; anything unparseable
// contributes the raw_lineitem fallback column instead.
func discoverLineItemColumns(rows []invoice.ExtractionRecord) []string {
	order := make([]string, 0)
	seen := make(map[string]struct{})
	add := func(key string) {
		lower := strings.ToLower(key)
		if _, done := seen[lower]; done {
			return
		}
		seen[lower] = struct{}{}
		order = append(order, key)
	}
	for _, row := range rows {
		for _, item := range row.LineItems {
			fields, ok := lineItemFields(item)
			if !ok {
				add(RawLineItemColumn)
				continue
			}
			for _, key := range sortedKeys(fields) {
				add(key)
			}
		}
	}
	return order
}

// lineItemFields normalizes one line item into a field map. Items arrive
// either structured or as a serialized JSON string under a single "raw"
// value, depending on the upstream pipeline version.
func lineItemFields(item map[string]any) (map[string]any, bool) {
	raw, serialized := serializedPayload(item)
	if !serialized {
		return item, true
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed == nil {
		return nil, false
	}
	return parsed, true
}

func serializedPayload(item map[string]any) (string, bool) {
	if len(item) != 1 {
		return "", false
	}
	for key, value := range item {
		if !strings.EqualFold(key, "raw") {
			return "", false
		}
		text, ok := value.(string)
		return text, ok
	}
	return "", false
}

func resolveCollision(name string, taken map[string]struct{}) string {
	if _, clash := taken[strings.ToLower(name)]; !clash {
		return name
	}
	candidate := name + "_hdr"
	for i := 1; ; i++ {
		if _, clash := taken[strings.ToLower(candidate)]; !clash {
			return candidate
		}
		candidate = name + "_hdr" + strconv.Itoa(i)
	}
}

// sortedKeys returns map keys in sorted order so column discovery does not
// depend on Go's randomized map iteration.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
