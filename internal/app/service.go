package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"invoicelens/api/internal/auth"
	"invoicelens/api/internal/authpw"
	"invoicelens/api/internal/billing"
	"invoicelens/api/internal/cache"
	"invoicelens/api/internal/config"
	"invoicelens/api/internal/email"
	"invoicelens/api/internal/export"
	"invoicelens/api/internal/invoice"
	"invoicelens/api/internal/rbac"
	"invoicelens/api/internal/realtime"
	"invoicelens/api/internal/search"
	"invoicelens/api/internal/session"
	"invoicelens/api/internal/storage"
	"invoicelens/api/internal/store"
	"invoicelens/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	OrgID        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// InvoiceListQuery carries every filter the invoice listing accepts. All
// fields participate in the cache key, so two queries share a cached page
// only when they match exactly.
type InvoiceListQuery struct {
	Status   string
	Page     int
	PageSize int
	Q        string
	From     *time.Time
	To       *time.Time
	ClientID string
}

type UpdateStatusInput struct {
	Status    string           `json:"status"`
	Headers   map[string]any   `json:"invoiceHeaders"`
	LineItems []map[string]any `json:"invoiceLineItems"`
}

type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64
	PageCount   int
	ClientID    string
	Body        io.Reader
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateOrg(context.Context, store.Org, string) (store.Org, error)
	GetOrg(context.Context, string) (store.Org, error)
	ListOrgMembers(context.Context, string) ([]store.OrgMember, error)
	UpsertOrgMember(context.Context, store.OrgMember) error
	RemoveOrgMember(context.Context, string, string) error
	CreateClient(context.Context, store.Client) (store.Client, error)
	GetClient(context.Context, string, string) (store.Client, error)
	ListClients(context.Context, string) ([]store.Client, error)
	UpdateClient(context.Context, store.Client) (store.Client, error)
	DeleteClient(context.Context, string, string) error
	CreateInvoiceFile(context.Context, store.InvoiceFile) (store.InvoiceFile, error)
	GetInvoiceFile(context.Context, string, string) (store.InvoiceFile, error)
	DeleteInvoiceFile(context.Context, string, string) (store.InvoiceFile, error)
	ListExtractions(context.Context, store.ExtractionFilter) ([]store.ExtractionRow, error)
	GetExtraction(context.Context, string, string) (store.ExtractionRow, error)
	ReviewExtraction(context.Context, string, string, string, []byte, []byte) error
	CountExtractionsByStatus(context.Context, string) (store.StatusTally, error)
	GetUsage(context.Context, string) (store.UsageSnapshot, error)
	ListAdminProfiles(context.Context) ([]store.AdminProfile, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	AccessTokenRevoked(context.Context, string) (bool, error)
	Ping(context.Context) error
}

type queryCache interface {
	GetOrCompute(ctx context.Context, key string, dest any, fn func(ctx context.Context) (any, error)) error
	Invalidate(ctx context.Context, prefixes ...string) error
	Ping(ctx context.Context) error
}

type changePublisher interface {
	Publish(ctx context.Context, orgID, topic string) error
}

type objectStore interface {
	Upload(ctx context.Context, orgID, fileName, contentType string, body io.Reader, size int64) (string, error)
	PresignedDownload(ctx context.Context, objectKey, downloadName string) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

type fileSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexFile(record search.FileRecord)
	DeleteFile(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	queries  queryCache
	changes  changePublisher
	objects  objectStore
	search   fileSearch
	mail     *email.Service
	billing  *billing.Service
	authpw   *authpw.Service
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions *session.RedisStore,
	queries *cache.Cache,
	changes *realtime.Broker,
	objects *storage.Store,
	searchSvc *search.Service,
	mail *email.Service,
	billingSvc *billing.Service,
	authSvc *authpw.Service,
) *Service {
	svc := &Service{
		cfg:     cfg,
		store:   dataStore,
		mail:    mail,
		billing: billingSvc,
		authpw:  authSvc,
	}
	if sessions != nil {
		svc.sessions = sessions
	}
	if queries != nil {
		svc.queries = queries
	}
	if changes != nil {
		svc.changes = changes
	}
	if objects != nil {
		svc.objects = objects
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	return svc
}

// AuthPasswordService exposes the email/password flow to the HTTP layer.
// Nil when authentication is not configured.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues an access/refresh token pair for a verified user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Org:  user.OrgID,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		OrgID:        user.OrgID,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and rehydrates the session
// from the user row, so role and org changes take effect without waiting
// for the token to expire.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	revoked, err := s.sessions.AccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		OrgID:     user.OrgID,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the refresh token and blacklists the access token's JTI,
// so the pair stops working immediately instead of at expiry.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	if accessToken != "" {
		if claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), accessToken); err == nil {
			_ = s.sessions.RevokeAccessToken(ctx, claims.JTI, time.Unix(claims.Exp, 0))
		}
	}
	return nil
}

// ---- invoices ----

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ListInvoices fetches the org's extraction rows, groups them by uploaded
// file, partitions by the requested review status, and returns one page.
// The whole derived page is cached briefly; concurrent identical reads
// share a single computation.
func (s *Service) ListInvoices(ctx context.Context, sess Session, q InvoiceListQuery) (invoice.Page, error) {
	target := invoice.Status(q.Status)
	if !target.Valid() {
		return invoice.Page{}, domainError(http.StatusUnprocessableEntity, "INVALID_STATUS", fmt.Sprintf("unknown status %q", q.Status), nil)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}

	key := cache.Key("invoices.list:"+sess.OrgID, map[string]any{
		"status":   q.Status,
		"page":     q.Page,
		"pageSize": q.PageSize,
		"q":        q.Q,
		"from":     q.From,
		"to":       q.To,
		"clientId": q.ClientID,
	})

	var result invoice.Page
	err := s.cached(ctx, key, &result, func(ctx context.Context) (any, error) {
		rows, err := s.store.ListExtractions(ctx, store.ExtractionFilter{
			OrgID:    sess.OrgID,
			Q:        q.Q,
			From:     q.From,
			To:       q.To,
			ClientID: q.ClientID,
		})
		if err != nil {
			return nil, err
		}
		groups := invoice.Group(decodeRecords(rows))
		groups = invoice.Partition(groups, target)
		return invoice.Paginate(groups, q.Page, q.PageSize), nil
	})
	if err != nil {
		return invoice.Page{}, err
	}
	if result.Data == nil {
		result.Data = []invoice.GroupedInvoice{}
	}
	return result, nil
}

func (s *Service) InvoiceCounts(ctx context.Context, sess Session) (store.StatusTally, error) {
	var tally store.StatusTally
	err := s.cached(ctx, cache.Key("invoices.counts:"+sess.OrgID, nil), &tally, func(ctx context.Context) (any, error) {
		return s.store.CountExtractionsByStatus(ctx, sess.OrgID)
	})
	return tally, err
}

// UpdateInvoiceStatus moves one extraction to a reviewed state, optionally
// persisting edited header fields and line items in the same call. Review
// is one-way: a record never returns to pending.
func (s *Service) UpdateInvoiceStatus(ctx context.Context, sess Session, extractionID string, input UpdateStatusInput) (map[string]any, error) {
	target := invoice.Status(input.Status)
	if target == invoice.StatusPending || !target.Valid() {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_STATUS", fmt.Sprintf("%q is not a review status", input.Status), nil)
	}

	row, err := s.store.GetExtraction(ctx, sess.OrgID, extractionID)
	if err != nil {
		return nil, err
	}
	current := invoice.Status(row.Status)
	if !current.CanTransition(target) {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION", "status transition not allowed", map[string]any{
			"from": string(current),
			"to":   string(target),
		})
	}

	var headers, lineItems []byte
	if input.Headers != nil {
		if headers, err = json.Marshal(input.Headers); err != nil {
			return nil, fmt.Errorf("encode headers: %w", err)
		}
	}
	if input.LineItems != nil {
		if lineItems, err = json.Marshal(invoice.StripScaffold(input.LineItems)); err != nil {
			return nil, fmt.Errorf("encode line items: %w", err)
		}
	}

	if err := s.store.ReviewExtraction(ctx, sess.OrgID, extractionID, string(target), headers, lineItems); err != nil {
		return nil, err
	}

	s.invalidateInvoices(ctx, sess.OrgID)
	s.notifyChange(sess.OrgID, "invoices")

	return map[string]any{
		"id":     extractionID,
		"status": string(target),
	}, nil
}

// UploadInvoice stores the document, records the file, and indexes it for
// search. The upload is rejected before any write when it would exceed the
// org's monthly page quota.
func (s *Service) UploadInvoice(ctx context.Context, sess Session, input UploadInput) (map[string]any, error) {
	if strings.TrimSpace(input.FileName) == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_FILE", "file name is required", nil)
	}
	if !contentTypeAllowed(input.ContentType) {
		return nil, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", fmt.Sprintf("content type %q is not accepted", input.ContentType), map[string]any{
			"allowed": storage.AllowedContentTypes,
		})
	}
	if input.PageCount < 1 {
		input.PageCount = 1
	}

	if s.billing != nil {
		ok, err := s.billing.WithinPageQuota(ctx, sess.OrgID, input.PageCount)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domainError(http.StatusPaymentRequired, "PAGE_QUOTA_EXCEEDED", "monthly page quota exceeded", nil)
		}
	}

	objectKey, err := s.objects.Upload(ctx, sess.OrgID, input.FileName, input.ContentType, input.Body, input.Size)
	if err != nil {
		return nil, err
	}

	file := store.InvoiceFile{
		ID:          util.NewID("file"),
		OrgID:       sess.OrgID,
		UserID:      sess.UserID,
		FileName:    input.FileName,
		StoragePath: objectKey,
		ContentType: input.ContentType,
		SizeBytes:   input.Size,
		PageCount:   input.PageCount,
	}
	clientName := ""
	if input.ClientID != "" {
		client, err := s.store.GetClient(ctx, sess.OrgID, input.ClientID)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "UNKNOWN_CLIENT", "client not found", nil)
		}
		file.ClientID = &client.ID
		clientName = client.Name
	}

	created, err := s.store.CreateInvoiceFile(ctx, file)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexFile(search.NewFileRecord(created.ID, created.OrgID, created.FileName, input.ClientID, clientName, created.CreatedAt))
	}
	s.invalidateInvoices(ctx, sess.OrgID)
	s.notifyChange(sess.OrgID, "invoices")

	return map[string]any{
		"id":        created.ID,
		"fileName":  created.FileName,
		"pageCount": created.PageCount,
		"clientId":  input.ClientID,
		"createdAt": created.CreatedAt,
	}, nil
}

// DeleteInvoiceFile removes an uploaded file together with its extraction
// rows, the stored object, and its search index entry. The database row is
// the source of truth; object and index cleanup are best-effort.
func (s *Service) DeleteInvoiceFile(ctx context.Context, sess Session, fileID string) error {
	file, err := s.store.DeleteInvoiceFile(ctx, sess.OrgID, fileID)
	if err != nil {
		return err
	}

	if s.objects != nil {
		if err := s.objects.Delete(ctx, file.StoragePath); err != nil {
			log.Printf("delete object %s: %v", file.StoragePath, err)
		}
	}
	if s.search != nil {
		s.search.DeleteFile(file.ID)
	}
	s.invalidateInvoices(ctx, sess.OrgID)
	s.notifyChange(sess.OrgID, "invoices")
	return nil
}

// FileDownloadURL returns a short-lived link to the original document.
func (s *Service) FileDownloadURL(ctx context.Context, sess Session, fileID string) (string, error) {
	file, err := s.store.GetInvoiceFile(ctx, sess.OrgID, fileID)
	if err != nil {
		return "", err
	}
	return s.objects.PresignedDownload(ctx, file.StoragePath, file.FileName)
}

// ExportColumns derives the harmonized column schema over the org's
// approved extractions.
func (s *Service) ExportColumns(ctx context.Context, sess Session) (export.ColumnSet, error) {
	var columns export.ColumnSet
	err := s.cached(ctx, cache.Key("invoices.columns:"+sess.OrgID, nil), &columns, func(ctx context.Context) (any, error) {
		records, err := s.approvedRecords(ctx, sess.OrgID)
		if err != nil {
			return nil, err
		}
		return export.BuildColumns(records), nil
	})
	return columns, err
}

// ExportCSV renders the org's approved extractions as a CSV download.
// An empty column selection exports the full schema.
func (s *Service) ExportCSV(ctx context.Context, sess Session, selectedColumns []string) (export.Result, error) {
	records, err := s.approvedRecords(ctx, sess.OrgID)
	if err != nil {
		return export.Result{}, err
	}
	if len(records) == 0 {
		return export.Result{}, domainError(http.StatusUnprocessableEntity, "NOTHING_TO_EXPORT", "no approved invoices to export", nil)
	}
	return export.BuildCSV(records, selectedColumns), nil
}

func (s *Service) approvedRecords(ctx context.Context, orgID string) ([]invoice.ExtractionRecord, error) {
	rows, err := s.store.ListExtractions(ctx, store.ExtractionFilter{
		OrgID:  orgID,
		Status: string(invoice.StatusApproved),
	})
	if err != nil {
		return nil, err
	}
	return export.ApprovedOnly(decodeRecords(rows)), nil
}

func (s *Service) SearchFiles(ctx context.Context, sess Session, text string, limit, offset int) search.Response {
	if limit < 1 || limit > 50 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(ctx, search.Query{
		Text:   text,
		OrgID:  sess.OrgID,
		Limit:  limit,
		Offset: offset,
	})
}

// ---- orgs and members ----

func (s *Service) GetMyOrg(ctx context.Context, sess Session) (map[string]any, error) {
	if sess.OrgID == "" {
		return nil, domainError(http.StatusNotFound, "NO_ORG", "you are not a member of an organization", nil)
	}
	org, err := s.store.GetOrg(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	return orgPayload(org), nil
}

func (s *Service) CreateOrg(ctx context.Context, sess Session, name string) (map[string]any, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_NAME", "organization name is required", nil)
	}
	if sess.OrgID != "" {
		return nil, domainError(http.StatusConflict, "ALREADY_IN_ORG", "you already belong to an organization", nil)
	}

	org, err := s.store.CreateOrg(ctx, store.Org{
		ID:     util.NewID("org"),
		Name:   trimmed,
		Slug:   slugify(trimmed),
		PlanID: "plan_free",
	}, sess.UserID)
	if err != nil {
		return nil, err
	}
	return orgPayload(org), nil
}

func (s *Service) ListMembers(ctx context.Context, sess Session) ([]map[string]any, error) {
	members, err := s.store.ListOrgMembers(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, map[string]any{
			"userId":   member.UserID,
			"email":    member.UserEmail,
			"name":     member.UserName,
			"role":     member.Role,
			"joinedAt": member.CreatedAt,
		})
	}
	return items, nil
}

// InviteMember attaches an existing account to the caller's org. When SMTP
// is configured the invitee also gets a notification email; delivery
// failures never fail the invite.
func (s *Service) InviteMember(ctx context.Context, sess Session, emailAddr, role string) (map[string]any, error) {
	if !validRole(role) {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_ROLE", fmt.Sprintf("unknown role %q", role), nil)
	}
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(emailAddr))
	if err != nil {
		return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "no account with that email", nil)
	}
	if user.OrgID != "" && user.OrgID != sess.OrgID {
		return nil, domainError(http.StatusConflict, "ALREADY_IN_ORG", "user already belongs to another organization", nil)
	}

	member := store.OrgMember{
		ID:        util.NewID("mem"),
		OrgID:     sess.OrgID,
		UserID:    user.ID,
		Role:      role,
		InvitedBy: sess.UserID,
	}
	if err := s.store.UpsertOrgMember(ctx, member); err != nil {
		return nil, err
	}

	if s.SMTPConfigured() {
		org, err := s.store.GetOrg(ctx, sess.OrgID)
		if err == nil {
			go func() {
				if err := s.mail.SendOrgInviteEmail(user.Email, user.DisplayName, org.Name, sess.UserName, ""); err != nil {
					log.Printf("send invite email to %s: %v", user.Email, err)
				}
			}()
		}
	}

	return map[string]any{
		"userId": user.ID,
		"email":  user.Email,
		"role":   role,
	}, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, sess Session, userID, role string) (map[string]any, error) {
	if !validRole(role) {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_ROLE", fmt.Sprintf("unknown role %q", role), nil)
	}
	if userID == sess.UserID {
		return nil, domainError(http.StatusUnprocessableEntity, "CANNOT_EDIT_SELF", "you cannot change your own role", nil)
	}
	if err := s.store.UpsertOrgMember(ctx, store.OrgMember{
		ID:        util.NewID("mem"),
		OrgID:     sess.OrgID,
		UserID:    userID,
		Role:      role,
		InvitedBy: sess.UserID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"userId": userID, "role": role}, nil
}

func (s *Service) RemoveMember(ctx context.Context, sess Session, userID string) error {
	if userID == sess.UserID {
		return domainError(http.StatusUnprocessableEntity, "CANNOT_REMOVE_SELF", "you cannot remove yourself", nil)
	}
	return s.store.RemoveOrgMember(ctx, sess.OrgID, userID)
}

// ---- clients ----

func (s *Service) ListClients(ctx context.Context, sess Session) ([]map[string]any, error) {
	clients, err := s.store.ListClients(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(clients))
	for _, client := range clients {
		items = append(items, clientPayload(client))
	}
	return items, nil
}

func (s *Service) CreateClient(ctx context.Context, sess Session, name, emailAddr, notes string) (map[string]any, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_NAME", "client name is required", nil)
	}
	client, err := s.store.CreateClient(ctx, store.Client{
		ID:    util.NewID("cli"),
		OrgID: sess.OrgID,
		Name:  trimmed,
		Email: strings.TrimSpace(emailAddr),
		Notes: notes,
	})
	if err != nil {
		return nil, err
	}
	return clientPayload(client), nil
}

func (s *Service) GetClient(ctx context.Context, sess Session, clientID string) (map[string]any, error) {
	client, err := s.store.GetClient(ctx, sess.OrgID, clientID)
	if err != nil {
		return nil, err
	}
	return clientPayload(client), nil
}

func (s *Service) UpdateClient(ctx context.Context, sess Session, clientID, name, emailAddr, notes string) (map[string]any, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_NAME", "client name is required", nil)
	}
	client, err := s.store.UpdateClient(ctx, store.Client{
		ID:    clientID,
		OrgID: sess.OrgID,
		Name:  trimmed,
		Email: strings.TrimSpace(emailAddr),
		Notes: notes,
	})
	if err != nil {
		return nil, err
	}
	return clientPayload(client), nil
}

func (s *Service) DeleteClient(ctx context.Context, sess Session, clientID string) error {
	return s.store.DeleteClient(ctx, sess.OrgID, clientID)
}

// ---- billing ----

func (s *Service) BillingPlans(ctx context.Context) ([]store.Plan, error) {
	if s.billing == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "billing is not configured", nil)
	}
	return s.billing.Plans(ctx)
}

func (s *Service) BillingUsage(ctx context.Context, sess Session) (billing.Usage, error) {
	if s.billing == nil {
		return billing.Usage{}, domainError(http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "billing is not configured", nil)
	}
	return s.billing.Usage(ctx, sess.OrgID)
}

func (s *Service) BillingCheckout(ctx context.Context, sess Session, planID string) (billing.CheckoutResult, error) {
	if s.billing == nil {
		return billing.CheckoutResult{}, domainError(http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "billing is not configured", nil)
	}
	payer, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return billing.CheckoutResult{}, err
	}
	result, err := s.billing.Checkout(ctx, sess.OrgID, planID, payer.Email, payer.DisplayName)
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			return billing.CheckoutResult{}, domainError(http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "payment gateway is not configured", nil)
		}
		return billing.CheckoutResult{}, err
	}
	return result, nil
}

func (s *Service) HandleBillingNotification(ctx context.Context, n billing.Notification) error {
	if s.billing == nil {
		return domainError(http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "billing is not configured", nil)
	}
	if err := s.billing.HandleNotification(ctx, n); err != nil {
		if errors.Is(err, billing.ErrBadSignature) {
			return domainError(http.StatusForbidden, "BAD_SIGNATURE", "notification signature mismatch", nil)
		}
		return err
	}
	return nil
}

// ---- admin ----

// AdminProfiles lists every account with org, plan, and usage context.
// A failed usage lookup degrades that single profile instead of failing
// the whole listing.
func (s *Service) AdminProfiles(ctx context.Context) ([]map[string]any, error) {
	var items []map[string]any
	err := s.cached(ctx, cache.Key("admin.profiles", nil), &items, func(ctx context.Context) (any, error) {
		profiles, err := s.store.ListAdminProfiles(ctx)
		if err != nil {
			return nil, err
		}

		payload := make([]map[string]any, 0, len(profiles))
		for _, profile := range profiles {
			item := map[string]any{
				"userId":    profile.ID,
				"name":      profile.DisplayName,
				"email":     profile.Email,
				"role":      profile.Role,
				"orgId":     profile.OrgID,
				"orgName":   profile.OrgName,
				"planName":  profile.PlanName,
				"createdAt": profile.CreatedAt,
				"usage":     nil,
			}
			if profile.OrgID != "" {
				usage, err := s.store.GetUsage(ctx, profile.OrgID)
				if err != nil {
					log.Printf("admin profiles: usage for org %s: %v", profile.OrgID, err)
				} else {
					item["usage"] = map[string]any{
						"pagesProcessed": usage.PagesProcessed,
						"memberCount":    usage.MemberCount,
						"clientCount":    usage.ClientCount,
					}
				}
			}
			payload = append(payload, item)
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []map[string]any{}
	}
	return items, nil
}

// ---- health ----

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingCache(ctx context.Context) error {
	if s.queries == nil {
		return nil
	}
	return s.queries.Ping(ctx)
}

// ---- helpers ----

func (s *Service) cached(ctx context.Context, key string, dest any, fn func(ctx context.Context) (any, error)) error {
	if s.queries == nil {
		value, err := fn(ctx)
		if err != nil {
			return err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dest)
	}
	return s.queries.GetOrCompute(ctx, key, dest, fn)
}

func (s *Service) invalidateInvoices(ctx context.Context, orgID string) {
	if s.queries == nil {
		return
	}
	prefixes := []string{
		"invoices.list:" + orgID,
		"invoices.counts:" + orgID,
		"invoices.columns:" + orgID,
	}
	if err := s.queries.Invalidate(ctx, prefixes...); err != nil {
		log.Printf("invalidate invoice caches for org %s: %v", orgID, err)
	}
}

// notifyChange emits a change event asynchronously. A lost event only
// delays a client refetch until the cache TTL expires.
func (s *Service) notifyChange(orgID, topic string) {
	if s.changes == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.changes.Publish(ctx, orgID, topic); err != nil {
			log.Printf("publish change %s for org %s: %v", topic, orgID, err)
		}
	}()
}

func decodeRecords(rows []store.ExtractionRow) []invoice.ExtractionRecord {
	records := make([]invoice.ExtractionRecord, 0, len(rows))
	for _, row := range rows {
		record := invoice.ExtractionRecord{
			ID:         row.ID,
			FileID:     row.FileID,
			PageNumber: row.PageNumber,
			UserID:     row.UserID,
			OrgID:      row.OrgID,
			Status:     invoice.Status(row.Status),
			FilePath:   row.FilePath,
			FileName:   row.FileName,
			ClientName: row.ClientName,
			CreatedAt:  row.CreatedAt,
		}
		if row.ClientID != nil {
			record.ClientID = *row.ClientID
		}
		if len(row.Headers) > 0 {
			if err := json.Unmarshal(row.Headers, &record.Headers); err != nil {
				log.Printf("decode headers for extraction %s: %v", row.ID, err)
			}
		}
		if len(row.LineItems) > 0 {
			if err := json.Unmarshal(row.LineItems, &record.LineItems); err != nil {
				log.Printf("decode line items for extraction %s: %v", row.ID, err)
			}
		}
		records = append(records, record)
	}
	return records
}

func contentTypeAllowed(contentType string) bool {
	for _, allowed := range storage.AllowedContentTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func validRole(role string) bool {
	switch rbac.Role(role) {
	case rbac.RoleViewer, rbac.RoleReviewer, rbac.RoleEditor, rbac.RoleAdmin:
		return true
	}
	return false
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func orgPayload(org store.Org) map[string]any {
	return map[string]any{
		"id":        org.ID,
		"name":      org.Name,
		"slug":      org.Slug,
		"planId":    org.PlanID,
		"createdAt": org.CreatedAt,
	}
}

func clientPayload(client store.Client) map[string]any {
	return map[string]any{
		"id":        client.ID,
		"name":      client.Name,
		"email":     client.Email,
		"notes":     client.Notes,
		"createdAt": client.CreatedAt,
	}
}
