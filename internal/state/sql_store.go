package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ETAnderson/productimporter/internal/db"
	"github.com/ETAnderson/productimporter/internal/domain"
)

// upsertChunk bounds the rows per INSERT so a large batch stays under the
// placeholder limits of both drivers.
const upsertChunk = 500

type SQLStore struct {
	db      *sqlx.DB
	dialect string
}

func NewSQLStore(conn *sqlx.DB, dialect string) *SQLStore {
	return &SQLStore{db: conn, dialect: dialect}
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return db.Ping(ctx, s.db)
}

// onConflict renders the dialect specific upsert tail.
func (s *SQLStore) onConflict(keys []string, cols []string) string {
	parts := make([]string, 0, len(cols))
	if s.dialect == db.DialectMySQL {
		for _, c := range cols {
			parts = append(parts, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(parts, ", ")
	}
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(parts, ", "))
}

const productColumns = `id, sku, name, price, COALESCE(description, '') AS description, active, created_at, updated_at`

func (s *SQLStore) UpsertProducts(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	tail := s.onConflict([]string{"sku"}, []string{"name", "price", "description", "active", "updated_at"})

	for start := 0; start < len(products); start += upsertChunk {
		end := start + upsertChunk
		if end > len(products) {
			end = len(products)
		}
		chunk := products[start:end]

		var b strings.Builder
		b.WriteString(`INSERT INTO products (sku, name, price, description, active, created_at, updated_at) VALUES `)
		args := make([]any, 0, len(chunk)*7)
		for i, p := range chunk {
			p = p.Normalize()
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, p.SKU, p.Name, p.Price, p.Description, p.Active, ts, ts)
		}
		b.WriteString(tail)

		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("upsert products: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLStore) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	p = p.Normalize()
	ts := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (sku, name, price, description, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.SKU, p.Name, p.Price, p.Description, p.Active, ts, ts,
	)
	if isDuplicate(err) {
		return domain.Product{}, ErrConflict
	}
	if err != nil {
		return domain.Product{}, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Product{}, err
	}
	return s.GetProduct(ctx, id)
}

func (s *SQLStore) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	p = p.Normalize()

	_, err := s.db.ExecContext(ctx,
		`UPDATE products SET sku = ?, name = ?, price = ?, description = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		p.SKU, p.Name, p.Price, p.Description, p.Active, now(), p.ID,
	)
	if isDuplicate(err) {
		return domain.Product{}, ErrConflict
	}
	if err != nil {
		return domain.Product{}, err
	}

	// MySQL reports zero affected rows for a no-op update, so existence is
	// confirmed by reading the row back.
	return s.GetProduct(ctx, p.ID)
}

func (s *SQLStore) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := s.db.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, ErrNotFound
	}
	return p, err
}

func (s *SQLStore) GetProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	var p domain.Product
	err := s.db.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE sku = ?`, domain.NormalizeSKU(sku))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, ErrNotFound
	}
	return p, err
}

func (s *SQLStore) DeleteProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return domain.Product{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Product{}, ErrNotFound
	}
	return p, nil
}

func (s *SQLStore) DeleteProducts(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	q, args, err := sqlx.In(`DELETE FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) DeleteAllProducts(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) ListProducts(ctx context.Context, page Page) (ProductPage, error) {
	page = page.normalized()
	out := ProductPage{Items: []domain.Product{}, Page: page.Number, Size: page.Size}

	if err := s.db.GetContext(ctx, &out.Total, `SELECT COUNT(*) FROM products`); err != nil {
		return ProductPage{}, err
	}

	err := s.db.SelectContext(ctx, &out.Items,
		`SELECT `+productColumns+` FROM products ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`,
		page.Size, page.Offset(),
	)
	if err != nil {
		return ProductPage{}, err
	}
	return out, nil
}

func (s *SQLStore) CountProducts(ctx context.Context) (domain.ProductCounts, error) {
	var row struct {
		Total  int `db:"total"`
		Active int `db:"active"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS total, COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0) AS active FROM products`)
	if err != nil {
		return domain.ProductCounts{}, err
	}
	return domain.ProductCounts{Total: row.Total, Active: row.Active, Inactive: row.Total - row.Active}, nil
}

type sessionRow struct {
	ID            string         `db:"session_id"`
	Filename      string         `db:"filename"`
	TotalRows     int            `db:"total_rows"`
	ProcessedRows int            `db:"processed_rows"`
	SuccessCount  int            `db:"success_count"`
	ErrorCount    int            `db:"error_count"`
	Status        string         `db:"status"`
	ErrorLog      sql.NullString `db:"error_log"`
	ErrorsDropped int            `db:"error_log_dropped"`
	FailureReason sql.NullString `db:"failure_reason"`
	StartedAt     *time.Time     `db:"started_at"`
	FinishedAt    *time.Time     `db:"finished_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r sessionRow) toDomain() (domain.ImportSession, error) {
	out := domain.ImportSession{
		ID:            r.ID,
		Filename:      r.Filename,
		TotalRows:     r.TotalRows,
		ProcessedRows: r.ProcessedRows,
		SuccessCount:  r.SuccessCount,
		ErrorCount:    r.ErrorCount,
		Status:        domain.ImportStatus(r.Status),
		ErrorsDropped: r.ErrorsDropped,
		FailureReason: r.FailureReason.String,
		StartedAt:     utcPtr(r.StartedAt),
		FinishedAt:    utcPtr(r.FinishedAt),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.ErrorLog.Valid && r.ErrorLog.String != "" {
		if err := json.Unmarshal([]byte(r.ErrorLog.String), &out.Errors); err != nil {
			return domain.ImportSession{}, fmt.Errorf("decode error_log for %s: %w", r.ID, err)
		}
	}
	return out, nil
}

const sessionColumns = `session_id, filename, total_rows, processed_rows, success_count, error_count, status,
	error_log, error_log_dropped, failure_reason, started_at, finished_at, created_at, updated_at`

func (s *SQLStore) SaveSession(ctx context.Context, sess domain.ImportSession) error {
	errs := sess.Errors
	if errs == nil {
		errs = []domain.RowError{}
	}
	logJSON, err := json.Marshal(errs)
	if err != nil {
		return err
	}

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now()
	}

	tail := s.onConflict([]string{"session_id"}, []string{
		"total_rows", "processed_rows", "success_count", "error_count", "status",
		"error_log", "error_log_dropped", "failure_reason", "started_at", "finished_at", "updated_at",
	})

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+tail,
		sess.ID, sess.Filename, sess.TotalRows, sess.ProcessedRows, sess.SuccessCount, sess.ErrorCount, string(sess.Status),
		string(logJSON), sess.ErrorsDropped, nullString(sess.FailureReason), utcPtr(sess.StartedAt), utcPtr(sess.FinishedAt),
		sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (domain.ImportSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM import_sessions WHERE session_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ImportSession{}, ErrNotFound
	}
	if err != nil {
		return domain.ImportSession{}, err
	}
	return row.toDomain()
}

func (s *SQLStore) ListSessions(ctx context.Context, limit int) ([]domain.ImportSession, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+sessionColumns+` FROM import_sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ImportSession, 0, len(rows))
	for _, r := range rows {
		sess, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

const subscriptionColumns = `id, name, url, event_type, active, secret,
	last_status_code, last_latency_ms, last_success, last_error, last_tested_at, created_at, updated_at`

func (s *SQLStore) CreateSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	ts := now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_subscriptions (id, name, url, event_type, active, secret, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Name, sub.URL, string(sub.EventType), sub.Active, sub.Secret, ts, ts,
	)
	if isDuplicate(err) {
		return domain.Subscription{}, ErrConflict
	}
	if err != nil {
		return domain.Subscription{}, err
	}
	return s.GetSubscription(ctx, sub.ID)
}

func (s *SQLStore) UpdateSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if _, err := s.GetSubscription(ctx, sub.ID); err != nil {
		return domain.Subscription{}, err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions SET name = ?, url = ?, event_type = ?, active = ?, secret = ?, updated_at = ?
		 WHERE id = ?`,
		sub.Name, sub.URL, string(sub.EventType), sub.Active, sub.Secret, now(), sub.ID,
	)
	if err != nil {
		return domain.Subscription{}, err
	}
	return s.GetSubscription(ctx, sub.ID)
}

func (s *SQLStore) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	var sub domain.Subscription
	err := s.db.GetContext(ctx, &sub, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, ErrNotFound
	}
	return sub, err
}

func (s *SQLStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	out := []domain.Subscription{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions ORDER BY created_at DESC, id`)
	return out, err
}

func (s *SQLStore) ListActiveSubscriptions(ctx context.Context, eventType domain.EventType) ([]domain.Subscription, error) {
	out := []domain.Subscription{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		 WHERE event_type = ? AND active = ? ORDER BY created_at DESC, id`,
		string(eventType), true,
	)
	return out, err
}

func (s *SQLStore) RecordTestOutcome(ctx context.Context, id string, out domain.TestOutcome) error {
	var lastErr *string
	if out.Error != "" {
		msg := out.Error
		lastErr = &msg
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions
		 SET last_status_code = ?, last_latency_ms = ?, last_success = ?, last_error = ?, last_tested_at = ?
		 WHERE id = ?`,
		out.StatusCode, out.Latency.Milliseconds(), out.Success, lastErr, out.TestedAt.UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetIdempotency(ctx context.Context, endpoint string, idemKeyHash string) (IdempotencyRecord, bool, error) {
	var row struct {
		StatusCode int       `db:"status_code"`
		Body       []byte    `db:"response_body_json"`
		CreatedAt  time.Time `db:"created_at"`
		ExpiresAt  time.Time `db:"expires_at"`
	}

	err := s.db.GetContext(ctx, &row,
		`SELECT status_code, response_body_json, created_at, expires_at
		 FROM idempotency
		 WHERE endpoint = ? AND idem_key_hash = ?`,
		endpoint, idemKeyHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	if time.Now().UTC().After(row.ExpiresAt.UTC()) {
		return IdempotencyRecord{}, false, nil
	}

	return IdempotencyRecord{
		StatusCode: row.StatusCode,
		BodyJSON:   row.Body,
		CreatedAt:  row.CreatedAt.UTC(),
		ExpiresAt:  row.ExpiresAt.UTC(),
	}, true, nil
}

func (s *SQLStore) PutIdempotency(ctx context.Context, endpoint string, idemKeyHash string, rec IdempotencyRecord) error {
	tail := s.onConflict([]string{"endpoint", "idem_key_hash"}, []string{"status_code", "response_body_json", "created_at", "expires_at"})

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency (endpoint, idem_key_hash, status_code, response_body_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`+tail,
		endpoint, idemKeyHash, rec.StatusCode, rec.BodyJSON, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(),
	)
	return err
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
