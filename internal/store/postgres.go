package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	const insert = `
		INSERT INTO users (id, display_name, email, password_hash, org_id, role, verification_token, verification_expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, insert,
		user.ID, user.DisplayName, user.Email, user.PasswordHash, user.OrgID,
		user.Role, user.VerificationToken, user.VerificationExpiresAt,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, display_name, email, password_hash, org_id, role,
		       is_email_verified, deactivated_at, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.OrgID,
		&user.Role, &user.IsEmailVerified, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `
		SELECT id, display_name, email, password_hash, org_id, role,
		       is_email_verified, deactivated_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.OrgID,
		&user.Role, &user.IsEmailVerified, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) MarkEmailVerified(ctx context.Context, token string) (User, error) {
	const update = `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = '', verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1
			AND verification_expires_at > NOW()
		RETURNING id, display_name, email, org_id, role
	`
	var user User
	err := s.db.QueryRowContext(ctx, update, token).Scan(&user.ID, &user.DisplayName, &user.Email, &user.OrgID, &user.Role)
	if err != nil {
		return User{}, err
	}
	user.IsEmailVerified = true
	return user, nil
}

func (s *PostgresStore) SetPasswordResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash, passwordHash string) (User, error) {
	const consume = `
		WITH reset AS (
			DELETE FROM password_resets
			WHERE token_hash = $1 AND expires_at > NOW()
			RETURNING user_id
		)
		UPDATE users u
		SET password_hash = $2, updated_at = NOW()
		FROM reset
		WHERE u.id = reset.user_id
		RETURNING u.id, u.display_name, u.email, u.org_id, u.role
	`
	var user User
	err := s.db.QueryRowContext(ctx, consume, tokenHash, passwordHash).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.OrgID, &user.Role,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- orgs ----

func (s *PostgresStore) CreateOrg(ctx context.Context, org Org, ownerID string) (Org, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Org{}, fmt.Errorf("begin create org: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertOrg = `
		INSERT INTO orgs (id, name, slug, plan_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	if err := tx.QueryRowContext(ctx, insertOrg, org.ID, org.Name, org.Slug, org.PlanID).Scan(&org.CreatedAt, &org.UpdatedAt); err != nil {
		return Org{}, fmt.Errorf("insert org: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO org_members (id, org_id, user_id, role, invited_by)
		VALUES ($1, $2, $3, 'admin', $3)
	`, org.ID+"_owner", org.ID, ownerID); err != nil {
		return Org{}, fmt.Errorf("insert owner membership: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET org_id = $1, role = 'admin', updated_at = NOW() WHERE id = $2`, org.ID, ownerID); err != nil {
		return Org{}, fmt.Errorf("attach owner to org: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Org{}, fmt.Errorf("commit create org: %w", err)
	}
	return org, nil
}

func (s *PostgresStore) GetOrg(ctx context.Context, orgID string) (Org, error) {
	var org Org
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan_id, created_at, updated_at FROM orgs WHERE id = $1
	`, orgID).Scan(&org.ID, &org.Name, &org.Slug, &org.PlanID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return Org{}, err
	}
	return org, nil
}

func (s *PostgresStore) ListOrgMembers(ctx context.Context, orgID string) ([]OrgMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.org_id, m.user_id, m.role, m.invited_by, m.created_at, u.email, u.display_name
		FROM org_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.org_id = $1
		ORDER BY m.created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list org members: %w", err)
	}
	defer rows.Close()

	items := make([]OrgMember, 0)
	for rows.Next() {
		var item OrgMember
		if err := rows.Scan(&item.ID, &item.OrgID, &item.UserID, &item.Role, &item.InvitedBy, &item.CreatedAt, &item.UserEmail, &item.UserName); err != nil {
			return nil, fmt.Errorf("scan org member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate org members: %w", err)
	}
	return items, nil
}

// UpsertOrgMember records a membership and mirrors the org and role onto
// the user row, which is what sessions read on every request.
func (s *PostgresStore) UpsertOrgMember(ctx context.Context, member OrgMember) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert member: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO org_members (id, org_id, user_id, role, invited_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (org_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, member.ID, member.OrgID, member.UserID, member.Role, member.InvitedBy); err != nil {
		return fmt.Errorf("upsert org member: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET org_id = $1, role = $2, updated_at = NOW() WHERE id = $3
	`, member.OrgID, member.Role, member.UserID); err != nil {
		return fmt.Errorf("sync member role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveOrgMember(ctx context.Context, orgID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove member: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM org_members WHERE org_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("remove org member: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET org_id = '', role = 'viewer', updated_at = NOW() WHERE id = $1 AND org_id = $2
	`, userID, orgID); err != nil {
		return fmt.Errorf("detach member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove member: %w", err)
	}
	return nil
}

// ---- clients ----

func (s *PostgresStore) CreateClient(ctx context.Context, client Client) (Client, error) {
	const insert = `
		INSERT INTO clients (id, org_id, name, email, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, insert, client.ID, client.OrgID, client.Name, client.Email, client.Notes).
		Scan(&client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		return Client{}, fmt.Errorf("insert client: %w", err)
	}
	return client, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, orgID, clientID string) (Client, error) {
	var client Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, email, notes, created_at, updated_at
		FROM clients WHERE org_id = $1 AND id = $2
	`, orgID, clientID).Scan(&client.ID, &client.OrgID, &client.Name, &client.Email, &client.Notes, &client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		return Client{}, err
	}
	return client, nil
}

func (s *PostgresStore) ListClients(ctx context.Context, orgID string) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, email, notes, created_at, updated_at
		FROM clients WHERE org_id = $1
		ORDER BY name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	items := make([]Client, 0)
	for rows.Next() {
		var item Client
		if err := rows.Scan(&item.ID, &item.OrgID, &item.Name, &item.Email, &item.Notes, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateClient(ctx context.Context, client Client) (Client, error) {
	const update = `
		UPDATE clients
		SET name = $3, email = $4, notes = $5, updated_at = NOW()
		WHERE org_id = $1 AND id = $2
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, update, client.OrgID, client.ID, client.Name, client.Email, client.Notes).
		Scan(&client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		return Client{}, err
	}
	return client, nil
}

func (s *PostgresStore) DeleteClient(ctx context.Context, orgID, clientID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE org_id = $1 AND id = $2`, orgID, clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- invoice files ----

func (s *PostgresStore) CreateInvoiceFile(ctx context.Context, file InvoiceFile) (InvoiceFile, error) {
	const insert = `
		INSERT INTO invoice_files (id, org_id, user_id, client_id, file_name, storage_path, content_type, size_bytes, page_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, insert,
		file.ID, file.OrgID, file.UserID, file.ClientID, file.FileName,
		file.StoragePath, file.ContentType, file.SizeBytes, file.PageCount,
	).Scan(&file.CreatedAt)
	if err != nil {
		return InvoiceFile{}, fmt.Errorf("insert invoice file: %w", err)
	}
	return file, nil
}

func (s *PostgresStore) GetInvoiceFile(ctx context.Context, orgID, fileID string) (InvoiceFile, error) {
	var file InvoiceFile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, user_id, client_id, file_name, storage_path, content_type, size_bytes, page_count, created_at
		FROM invoice_files WHERE org_id = $1 AND id = $2
	`, orgID, fileID).Scan(
		&file.ID, &file.OrgID, &file.UserID, &file.ClientID, &file.FileName,
		&file.StoragePath, &file.ContentType, &file.SizeBytes, &file.PageCount, &file.CreatedAt,
	)
	if err != nil {
		return InvoiceFile{}, err
	}
	return file, nil
}

func (s *PostgresStore) SearchInvoiceFiles(ctx context.Context, orgID, query string, limit int) ([]InvoiceFile, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.org_id, f.user_id, f.client_id, f.file_name, f.storage_path, f.content_type, f.size_bytes, f.page_count, f.created_at
		FROM invoice_files f
		LEFT JOIN clients c ON c.id = f.client_id
		WHERE f.org_id = $1
			AND (f.file_name ILIKE '%' || $2 || '%' OR c.name ILIKE '%' || $2 || '%')
		ORDER BY f.created_at DESC
		LIMIT $3
	`, orgID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search invoice files: %w", err)
	}
	defer rows.Close()

	items := make([]InvoiceFile, 0)
	for rows.Next() {
		var item InvoiceFile
		if err := rows.Scan(&item.ID, &item.OrgID, &item.UserID, &item.ClientID, &item.FileName,
			&item.StoragePath, &item.ContentType, &item.SizeBytes, &item.PageCount, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice files: %w", err)
	}
	return items, nil
}

// DeleteInvoiceFile removes an uploaded file and returns the deleted row so
// the caller can clean up blob storage and the search index. Extraction
// rows go with it via the file_id cascade.
func (s *PostgresStore) DeleteInvoiceFile(ctx context.Context, orgID, fileID string) (InvoiceFile, error) {
	var file InvoiceFile
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM invoice_files WHERE org_id = $1 AND id = $2
		RETURNING id, org_id, user_id, client_id, file_name, storage_path, content_type, size_bytes, page_count, created_at
	`, orgID, fileID).Scan(
		&file.ID, &file.OrgID, &file.UserID, &file.ClientID, &file.FileName,
		&file.StoragePath, &file.ContentType, &file.SizeBytes, &file.PageCount, &file.CreatedAt,
	)
	if err != nil {
		return InvoiceFile{}, err
	}
	return file, nil
}

// ListInvoiceFilesForIndex returns every stored file joined to its client
// name, used to rebuild the search index at boot.
func (s *PostgresStore) ListInvoiceFilesForIndex(ctx context.Context) ([]IndexedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.org_id, f.user_id, f.client_id, f.file_name, f.storage_path, f.content_type, f.size_bytes, f.page_count, f.created_at,
			COALESCE(c.name, '')
		FROM invoice_files f
		LEFT JOIN clients c ON c.id = f.client_id
		ORDER BY f.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list invoice files for index: %w", err)
	}
	defer rows.Close()

	items := make([]IndexedFile, 0)
	for rows.Next() {
		var item IndexedFile
		if err := rows.Scan(&item.ID, &item.OrgID, &item.UserID, &item.ClientID, &item.FileName,
			&item.StoragePath, &item.ContentType, &item.SizeBytes, &item.PageCount, &item.CreatedAt,
			&item.ClientName); err != nil {
			return nil, fmt.Errorf("scan indexed file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexed files: %w", err)
	}
	return items, nil
}

// ---- extractions ----

// ExtractionFilter narrows the extraction read. OrgID is mandatory; the
// rest are optional and combine with AND. Q matches the source file name.
type ExtractionFilter struct {
	OrgID    string
	Status   string
	Q        string
	From     *time.Time
	To       *time.Time
	ClientID string
}

// ListExtractions returns every extraction row matching the filter, newest
// file first. Grouping and pagination happen above the store, at the file
// level, so this read is deliberately unpaginated.
func (s *PostgresStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]ExtractionRow, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT e.id, e.file_id, e.org_id, e.user_id, e.client_id, e.page_number, e.status,
		       e.headers, e.line_items, f.file_name, f.storage_path, COALESCE(c.name, ''), e.created_at, e.updated_at
		FROM extractions e
		JOIN invoice_files f ON f.id = e.file_id
		LEFT JOIN clients c ON c.id = e.client_id
		WHERE e.org_id = $1`)
	args := []any{filter.OrgID}

	next := func() string {
		return "$" + strconv.Itoa(len(args)+1)
	}
	if filter.Status != "" {
		b.WriteString(" AND e.status = " + next())
		args = append(args, filter.Status)
	}
	if filter.Q != "" {
		b.WriteString(" AND f.file_name ILIKE '%' || " + next() + " || '%'")
		args = append(args, filter.Q)
	}
	if filter.From != nil {
		b.WriteString(" AND e.created_at >= " + next())
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		b.WriteString(" AND e.created_at <= " + next())
		args = append(args, *filter.To)
	}
	if filter.ClientID != "" {
		b.WriteString(" AND e.client_id = " + next())
		args = append(args, filter.ClientID)
	}
	b.WriteString(" ORDER BY e.created_at DESC, e.id ASC")

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list extractions: %w", err)
	}
	defer rows.Close()

	items := make([]ExtractionRow, 0)
	for rows.Next() {
		var item ExtractionRow
		if err := rows.Scan(&item.ID, &item.FileID, &item.OrgID, &item.UserID, &item.ClientID,
			&item.PageNumber, &item.Status, &item.Headers, &item.LineItems,
			&item.FileName, &item.FilePath, &item.ClientName, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan extraction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extractions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetExtraction(ctx context.Context, orgID, extractionID string) (ExtractionRow, error) {
	var item ExtractionRow
	err := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.file_id, e.org_id, e.user_id, e.client_id, e.page_number, e.status,
		       e.headers, e.line_items, f.file_name, f.storage_path, COALESCE(c.name, ''), e.created_at, e.updated_at
		FROM extractions e
		JOIN invoice_files f ON f.id = e.file_id
		LEFT JOIN clients c ON c.id = e.client_id
		WHERE e.org_id = $1 AND e.id = $2
	`, orgID, extractionID).Scan(&item.ID, &item.FileID, &item.OrgID, &item.UserID, &item.ClientID,
		&item.PageNumber, &item.Status, &item.Headers, &item.LineItems,
		&item.FileName, &item.FilePath, &item.ClientName, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return ExtractionRow{}, err
	}
	return item, nil
}

// ReviewExtraction applies a status decision through the review_extraction
// SQL function, which revalidates the transition and persists the edited
// payload atomically.
func (s *PostgresStore) ReviewExtraction(ctx context.Context, orgID, extractionID, status string, headers, lineItems []byte) error {
	var applied bool
	err := s.db.QueryRowContext(ctx,
		`SELECT review_extraction($1, $2, $3, $4::jsonb, $5::jsonb)`,
		orgID, extractionID, status, headers, lineItems,
	).Scan(&applied)
	if err != nil {
		return fmt.Errorf("review extraction: %w", err)
	}
	if !applied {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CountExtractionsByStatus(ctx context.Context, orgID string) (StatusTally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM extractions WHERE org_id = $1 GROUP BY status
	`, orgID)
	if err != nil {
		return StatusTally{}, fmt.Errorf("count extractions: %w", err)
	}
	defer rows.Close()

	var tally StatusTally
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return StatusTally{}, fmt.Errorf("scan status count: %w", err)
		}
		switch status {
		case "approved":
			tally.Approved = count
		case "hold":
			tally.Hold = count
		case "duplicate":
			tally.Duplicate = count
		default:
			tally.Pending += count
		}
	}
	if err := rows.Err(); err != nil {
		return StatusTally{}, fmt.Errorf("iterate status counts: %w", err)
	}
	return tally, nil
}

// ---- billing ----

func (s *PostgresStore) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_idr, monthly_pages, max_members, max_clients, created_at
		FROM plans ORDER BY price_idr ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	items := make([]Plan, 0)
	for rows.Next() {
		var item Plan
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceIDR, &item.MonthlyPages, &item.MaxMembers, &item.MaxClients, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (Plan, error) {
	var plan Plan
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_idr, monthly_pages, max_members, max_clients, created_at
		FROM plans WHERE id = $1
	`, planID).Scan(&plan.ID, &plan.Name, &plan.PriceIDR, &plan.MonthlyPages, &plan.MaxMembers, &plan.MaxClients, &plan.CreatedAt)
	if err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	const insert = `
		INSERT INTO subscriptions (id, org_id, plan_id, status, order_id, period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, insert, sub.ID, sub.OrgID, sub.PlanID, sub.Status, sub.OrderID, sub.PeriodEnd).
		Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

// SettleSubscription marks a checkout order settled and switches the org
// onto the purchased plan.
func (s *PostgresStore) SettleSubscription(ctx context.Context, orderID, status string, periodEnd time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settle subscription: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var orgID, planID string
	err = tx.QueryRowContext(ctx, `
		UPDATE subscriptions
		SET status = $2, period_end = $3, updated_at = NOW()
		WHERE order_id = $1
		RETURNING org_id, plan_id
	`, orderID, status, periodEnd).Scan(&orgID, &planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("settle subscription: %w", err)
	}

	if status == "settlement" || status == "capture" {
		if _, err := tx.ExecContext(ctx, `UPDATE orgs SET plan_id = $1, updated_at = NOW() WHERE id = $2`, planID, orgID); err != nil {
			return fmt.Errorf("apply plan to org: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settle subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, orgID string) (UsageSnapshot, error) {
	const query = `
		SELECT
			(SELECT COALESCE(SUM(page_count), 0) FROM invoice_files
			 WHERE org_id = $1 AND created_at >= date_trunc('month', NOW())),
			(SELECT COUNT(*) FROM org_members WHERE org_id = $1),
			(SELECT COUNT(*) FROM clients WHERE org_id = $1),
			date_trunc('month', NOW())
	`
	snapshot := UsageSnapshot{OrgID: orgID}
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&snapshot.PagesProcessed, &snapshot.MemberCount, &snapshot.ClientCount, &snapshot.PeriodStart,
	)
	if err != nil {
		return UsageSnapshot{}, fmt.Errorf("read usage: %w", err)
	}
	return snapshot, nil
}

// ---- admin ----

// ListAdminProfiles returns every user joined to its org and plan. Usage is
// filled in by the caller so one broken org cannot fail the whole listing.
func (s *PostgresStore) ListAdminProfiles(ctx context.Context) ([]AdminProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.org_id, u.role, u.is_email_verified,
		       u.deactivated_at, u.created_at, u.updated_at,
		       COALESCE(o.name, ''), COALESCE(p.name, '')
		FROM users u
		LEFT JOIN orgs o ON o.id = u.org_id
		LEFT JOIN plans p ON p.id = o.plan_id
		ORDER BY u.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list admin profiles: %w", err)
	}
	defer rows.Close()

	items := make([]AdminProfile, 0)
	for rows.Next() {
		var item AdminProfile
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.Email, &item.OrgID, &item.Role,
			&item.IsEmailVerified, &item.DeactivatedAt, &item.CreatedAt, &item.UpdatedAt,
			&item.OrgName, &item.PlanName); err != nil {
			return nil, fmt.Errorf("scan admin profile: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin profiles: %w", err)
	}
	return items, nil
}
