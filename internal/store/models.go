package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	OrgID                 string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Org struct {
	ID        string
	Name      string
	Slug      string
	PlanID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrgMember struct {
	ID        string
	OrgID     string
	UserID    string
	Role      string
	InvitedBy string
	CreatedAt time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

type Client struct {
	ID        string
	OrgID     string
	Name      string
	Email     string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvoiceFile is one uploaded source document. Extractions reference it by
// file_id; the object itself lives in blob storage under StoragePath.
type InvoiceFile struct {
	ID          string
	OrgID       string
	UserID      string
	ClientID    *string
	FileName    string
	StoragePath string
	ContentType string
	SizeBytes   int64
	PageCount   int
	CreatedAt   time.Time
}

// IndexedFile is an InvoiceFile joined to its client name, the shape the
// search index wants when rebuilding from the database.
type IndexedFile struct {
	InvoiceFile
	ClientName string
}

// ExtractionRow is the persisted form of one extracted invoice page. The
// header fields and line items are stored as JSONB and surface here as raw
// bytes for the service layer to decode.
type ExtractionRow struct {
	ID         string
	FileID     string
	OrgID      string
	UserID     string
	ClientID   *string
	PageNumber int
	Status     string
	Headers    []byte
	LineItems  []byte
	FileName   string
	FilePath   string
	ClientName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StatusTally is the per-status extraction count for one org.
type StatusTally struct {
	Approved  int
	Hold      int
	Duplicate int
	Pending   int
}

type Plan struct {
	ID           string
	Name         string
	PriceIDR     int64
	MonthlyPages int
	MaxMembers   int
	MaxClients   int
	CreatedAt    time.Time
}

type Subscription struct {
	ID        string
	OrgID     string
	PlanID    string
	Status    string
	OrderID   string
	PeriodEnd *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UsageSnapshot is an org's consumption against its plan for the current
// billing period.
type UsageSnapshot struct {
	OrgID          string
	PagesProcessed int
	MemberCount    int
	ClientCount    int
	PeriodStart    time.Time
}

// AdminProfile is one row of the cross-org admin listing.
type AdminProfile struct {
	User
	OrgName  string
	PlanName string
	Usage    *UsageSnapshot
}
