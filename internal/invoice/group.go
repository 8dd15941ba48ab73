package invoice

import "sort"

// Group folds flat per-page extraction records into one GroupedInvoice per
// FileID. Records with a blank FileID are skipped. Display fields come from
// the first record seen for a file; pages end up sorted by page number and
// groups by creation time, newest file first. Ties keep input order so a
// refetch cannot reshuffle the list.
func Group(records []ExtractionRecord) []GroupedInvoice {
	byFile := make(map[string]*GroupedInvoice)
	order := make([]string, 0, len(records))

	for _, record := range records {
		if record.FileID == "" {
			continue
		}
		group, ok := byFile[record.FileID]
		if !ok {
			group = &GroupedInvoice{
				FileID:     record.FileID,
				FileName:   record.FileName,
				FilePath:   record.FilePath,
				ClientName: record.ClientName,
				CreatedAt:  record.CreatedAt,
			}
			byFile[record.FileID] = group
			order = append(order, record.FileID)
		}
		group.Pages = append(group.Pages, record)
		group.PageCount++
		switch record.Status {
		case StatusApproved:
			group.StatusCounts.Approved++
		case StatusHold:
			group.StatusCounts.Hold++
		case StatusDuplicate:
			group.StatusCounts.Duplicate++
		default:
			group.StatusCounts.Pending++
		}
	}

	groups := make([]GroupedInvoice, 0, len(order))
	for _, fileID := range order {
		group := byFile[fileID]
		sort.SliceStable(group.Pages, func(i, j int) bool {
			return group.Pages[i].PageNumber < group.Pages[j].PageNumber
		})
		group.PageCount = len(group.Pages)
		groups = append(groups, *group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].CreatedAt.After(groups[j].CreatedAt)
	})
	return groups
}

// Partition restricts grouped invoices to a single triage status. With the
// pending/empty target it returns groups unchanged (the all-statuses view).
// Otherwise only groups holding at least one matching page survive, their
// pages are narrowed to that status, and the status counts report only the
// active bucket. The other three buckets are deliberately zeroed: each tab
// shows its own pages while keeping the file-level grouping intact.
func Partition(groups []GroupedInvoice, target Status) []GroupedInvoice {
	if target == StatusPending {
		return groups
	}

	filtered := make([]GroupedInvoice, 0, len(groups))
	for _, group := range groups {
		if group.StatusCounts.of(target) == 0 {
			continue
		}
		pages := make([]ExtractionRecord, 0, group.StatusCounts.of(target))
		for _, page := range group.Pages {
			if page.Status == target {
				pages = append(pages, page)
			}
		}
		group.Pages = pages
		group.PageCount = len(pages)
		counts := StatusCounts{}
		switch target {
		case StatusApproved:
			counts.Approved = len(pages)
		case StatusHold:
			counts.Hold = len(pages)
		case StatusDuplicate:
			counts.Duplicate = len(pages)
		}
		group.StatusCounts = counts
		filtered = append(filtered, group)
	}
	return filtered
}

// Paginate slices groups into a 1-indexed fixed-size page. Total always
// reflects the full group count, even when the requested page is out of
// range and Data comes back empty.
func Paginate(groups []GroupedInvoice, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	total := len(groups)
	start := (page - 1) * pageSize
	if start >= total {
		return Page{Data: []GroupedInvoice{}, Total: total}
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return Page{Data: groups[start:end], Total: total}
}
