package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"keygate.org/internal/admin"
	"keygate.org/internal/license"
)

// Store implements the license and admin stores on PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ license.Store = (*Store)(nil)
	_ admin.Store   = (*Store)(nil)
)

// Open connects with pool defaults tuned for short request/response handlers.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const accessCodeColumns = `id, email, code, payment_id, blocked, approved, device_fingerprint, ip_address, first_access_at, created_at, updated_at`

func (s *Store) CreateCode(ctx context.Context, rec *license.AccessCode) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into access_codes(id, email, code, payment_id, blocked, approved, created_at, updated_at)
		values ($1,$2,$3,$4,false,false,$5,$6)
	`, rec.ID, rec.Email, rec.Code, rec.PaymentID, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "access_codes_payment_id_key":
				return license.ErrDuplicatePayment
			case "access_codes_code_key":
				return license.ErrCodeExists
			}
		}
		return err
	}
	return nil
}

func (s *Store) FindByPaymentID(ctx context.Context, paymentID string) (*license.AccessCode, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accessCodeColumns+` from access_codes where payment_id=$1`, paymentID)
	return scanAccessCode(row)
}

func (s *Store) FindByCredentials(ctx context.Context, email, code string) (*license.AccessCode, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accessCodeColumns+` from access_codes where email=$1 and code=$2`, email, code)
	return scanAccessCode(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*license.AccessCode, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accessCodeColumns+` from access_codes where id=$1`, id)
	return scanAccessCode(row)
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from access_codes where code=$1)`, code).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// BindDevice is the atomic Unbound -> Bound transition. The fingerprint-null
// predicate makes the first writer win; everyone else falls into the
// diagnostic re-read below.
func (s *Store) BindDevice(ctx context.Context, id, fingerprint, ip string, at time.Time) error {
	ipValue := sql.NullString{String: ip, Valid: ip != ""}
	res, err := s.db.ExecContext(ctx, `
		update access_codes
		set device_fingerprint=$2, ip_address=$3, first_access_at=$4, updated_at=now()
		where id=$1 and device_fingerprint is null and not blocked
	`, id, fingerprint, ipValue, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Nothing updated: distinguish missing, blocked and lost-race.
	rec, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Blocked {
		return license.ErrBlocked
	}
	if rec.DeviceFingerprint != nil {
		return license.ErrAlreadyBound
	}
	return license.ErrNotFound
}

func (s *Store) Block(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update access_codes set blocked=true, updated_at=now() where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return license.ErrNotFound
	}
	return nil
}

func (s *Store) ApplyPatch(ctx context.Context, id string, patch license.Patch) (*license.AccessCode, error) {
	row := s.db.QueryRowContext(ctx, `
		update access_codes
		set blocked = coalesce($2::boolean, blocked),
		    approved = coalesce($3::boolean, approved),
		    device_fingerprint = case when $4 then null else device_fingerprint end,
		    ip_address = case when $4 then null else ip_address end,
		    first_access_at = case when $4 then null else first_access_at end,
		    updated_at = now()
		where id=$1
		returning `+accessCodeColumns,
		id, nullableBool(patch.Blocked), nullableBool(patch.Approved), patch.ClearFingerprint)
	return scanAccessCode(row)
}

func (s *Store) FindPrincipal(ctx context.Context, email string) (*admin.Principal, error) {
	var p admin.Principal
	err := s.db.QueryRowContext(ctx,
		`select id, email, status, created_at from admins where email=$1`, email).
		Scan(&p.ID, &p.Email, &p.Status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, admin.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccessCode(row rowScanner) (*license.AccessCode, error) {
	var (
		rec         license.AccessCode
		fingerprint sql.NullString
		ip          sql.NullString
		firstAccess sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.Email, &rec.Code, &rec.PaymentID,
		&rec.Blocked, &rec.Approved,
		&fingerprint, &ip, &firstAccess,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if fingerprint.Valid {
		rec.DeviceFingerprint = &fingerprint.String
	}
	if ip.Valid {
		rec.IPAddress = &ip.String
	}
	if firstAccess.Valid {
		t := firstAccess.Time
		rec.FirstAccessAt = &t
	}
	return &rec, nil
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
