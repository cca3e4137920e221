package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cosflow/internal/services"
)

// UpsertUser inserts or replaces a reference user by id.
func (o ops) UpsertUser(ctx context.Context, u User) error {
	if u.ID <= 0 || u.Username == "" {
		return services.Wrap(services.ErrValidation, "store", "upsert user", "id and username are required", nil)
	}
	if !u.Role.Valid() {
		return services.Wrap(services.ErrValidation, "store", "upsert user", fmt.Sprintf("unknown role %d", int(u.Role)), nil)
	}
	_, err := o.exec(ctx,
		`INSERT INTO users (id, username, first_name, full_name, role_id) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     username = excluded.username,
		     first_name = excluded.first_name,
		     full_name = excluded.full_name,
		     role_id = excluded.role_id`,
		u.ID, u.Username, u.FirstName, u.FullName, int(u.Role),
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

// GetUser loads a user by id.
func (o ops) GetUser(ctx context.Context, id int64) (*User, error) {
	row := o.q.QueryRowContext(ensureContext(ctx), "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get user", fmt.Sprintf("user %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// UsersByRoles lists users holding any of the given roles, ordered by name.
func (o ops) UsersByRoles(ctx context.Context, roles []Role) ([]User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := make([]any, len(roles))
	for i, r := range roles {
		args[i] = int(r)
	}
	rows, err := o.q.QueryContext(ensureContext(ctx),
		"SELECT "+userColumns+" FROM users WHERE role_id IN ("+makePlaceholders(len(roles))+") ORDER BY full_name, username", args...)
	if err != nil {
		return nil, fmt.Errorf("users by roles: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpsertOperator inserts or replaces an operator by NIK.
func (o ops) UpsertOperator(ctx context.Context, op Operator) error {
	if op.NIK == "" || op.Name == "" {
		return services.Wrap(services.ErrValidation, "store", "upsert operator", "nik and name are required", nil)
	}
	_, err := o.exec(ctx,
		`INSERT INTO operators (nik, name, line) VALUES (?, ?, ?)
		 ON CONFLICT(nik) DO UPDATE SET name = excluded.name, line = excluded.line`,
		op.NIK, op.Name, op.Line,
	)
	if err != nil {
		return fmt.Errorf("upsert operator %s: %w", op.NIK, err)
	}
	return nil
}

// InsertCertificate stores a base64 encoded, pre-merged certificate PDF for an
// operator. sourceDigest identifies the inputs the PDF was built from and may be
// empty when they are unknown.
func (o ops) InsertCertificate(ctx context.Context, nik, mergedPDF, sourceDigest string, at time.Time) (int64, error) {
	if nik == "" || mergedPDF == "" {
		return 0, services.Wrap(services.ErrValidation, "store", "insert certificate", "nik and payload are required", nil)
	}
	res, err := o.exec(ctx,
		"INSERT INTO operator_certificates (nik, merged_pdf, source_digest, created_at) VALUES (?, ?, ?, ?)",
		nik, mergedPDF, sourceDigest, formatTime(at),
	)
	if err != nil {
		return 0, fmt.Errorf("insert certificate for %s: %w", nik, err)
	}
	return res.LastInsertId()
}

// FindCertificate returns the certificate already stored for nik from the same
// sources. An empty digest never matches.
func (o ops) FindCertificate(ctx context.Context, nik, sourceDigest string) (int64, bool, error) {
	if sourceDigest == "" {
		return 0, false, nil
	}
	var id int64
	err := o.q.QueryRowContext(ensureContext(ctx),
		"SELECT id FROM operator_certificates WHERE nik = ? AND source_digest = ?",
		nik, sourceDigest,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find certificate for %s: %w", nik, err)
	}
	return id, true, nil
}

// GetCertificate loads a certificate by id.
func (o ops) GetCertificate(ctx context.Context, id int64) (*OperatorCertificate, error) {
	var (
		c       OperatorCertificate
		created sql.NullString
	)
	err := o.q.QueryRowContext(ensureContext(ctx),
		"SELECT id, nik, merged_pdf, source_digest, created_at FROM operator_certificates WHERE id = ?", id,
	).Scan(&c.ID, &c.NIK, &c.MergedPDF, &c.SourceDigest, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get certificate", fmt.Sprintf("certificate %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get certificate %d: %w", id, err)
	}
	c.CreatedAt = parseTime(created)
	return &c, nil
}
