package invoice

// Keys the review grid attaches to rows for its own bookkeeping. They must
// never reach the database.
var scaffoldKeys = map[string]struct{}{
	"isAddRow": {},
	"isNewRow": {},
	"tempId":   {},
}

// StripScaffold removes grid-only bookkeeping keys from edited line items
// so only genuine field data is persisted. Items that end up empty after
// stripping are dropped entirely.
func StripScaffold(items []map[string]any) []map[string]any {
	if items == nil {
		return nil
	}
	cleaned := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out := make(map[string]any, len(item))
		for key, value := range item {
			if _, skip := scaffoldKeys[key]; skip {
				continue
			}
			out[key] = value
		}
		if len(out) == 0 {
			continue
		}
		cleaned = append(cleaned, out)
	}
	return cleaned
}
