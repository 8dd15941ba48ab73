package search

import "time"

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	FileName   string `json:"fileName"`
	ClientID   string `json:"clientId,omitempty"`
	ClientName string `json:"clientName,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// Query describes a search request. OrgID is mandatory: results never
// cross tenants.
type Query struct {
	Text   string
	OrgID  string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// FileRecord is the data indexed per uploaded invoice document.
type FileRecord struct {
	ID         string `json:"id"`
	OrgID      string `json:"orgId"`
	FileName   string `json:"fileName"`
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
	CreatedAt  string `json:"createdAt"`
}

// NewFileRecord builds the indexable form of one uploaded file.
func NewFileRecord(id, orgID, fileName, clientID, clientName string, createdAt time.Time) FileRecord {
	return FileRecord{
		ID:         id,
		OrgID:      orgID,
		FileName:   fileName,
		ClientID:   clientID,
		ClientName: clientName,
		CreatedAt:  createdAt.UTC().Format(time.RFC3339),
	}
}
