package lead

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"voice-lead-agent/pkg/logger"
	"voice-lead-agent/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
)

// NOTE: PostgresStore keeps the record log shape in a table:
// - lead_versions is INSERT-only; every write adds (lead_id, version+1).
// - The current lead is the highest version for its id.
// - Reads order leads by the time their first version was written.

//go:embed migrations/*.sql
var migrations embed.FS

const pgUniqueViolation = "23505"

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("lead: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("lead: migrate: %w", err)
	}
	return nil
}

type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB, log *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: logger.Component(log, "postgres_store")}
}

func (s *PostgresStore) Append(ctx context.Context, l Lead) error {
	record, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("lead: encode %s: %w", l.ID, err)
	}
	const q = `
INSERT INTO lead_versions (lead_id, version, record)
VALUES ($1, 1, $2)
`
	if _, err := s.db.ExecContext(ctx, q, l.ID, record); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		s.log.Error("lead append failed", "lead_id", l.ID, "err", err)
		return err
	}
	s.log.Info("lead saved", "lead_id", l.ID)
	return nil
}

func (s *PostgresStore) ReadAll(ctx context.Context) ([]Lead, error) {
	const q = `
SELECT v.record
FROM lead_versions v
JOIN (
    SELECT lead_id, MAX(version) AS version, MIN(created_at) AS first_seen
    FROM lead_versions
    GROUP BY lead_id
) latest ON latest.lead_id = v.lead_id AND latest.version = v.version
ORDER BY latest.first_seen, v.lead_id
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]Lead, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var l Lead
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("lead: decode record: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Lead, error) {
	const q = `
SELECT record
FROM lead_versions
WHERE lead_id = $1
ORDER BY version DESC
LIMIT 1
`
	var raw []byte
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	var l Lead
	if err := json.Unmarshal(raw, &l); err != nil {
		return Lead{}, fmt.Errorf("lead: decode record: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) UpdateByID(ctx context.Context, id string, p Patch) (Lead, error) {
	var merged Lead
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		version, current, err := latestForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if version == 0 {
			return ErrNotFound
		}
		if err := current.Apply(p); err != nil {
			return err
		}
		merged = current
		return insertVersion(ctx, tx, current, version+1)
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidPatch) {
			s.log.Error("lead update failed", "lead_id", id, "err", err)
		}
		return Lead{}, err
	}
	s.log.Info("lead updated", "lead_id", id)
	return merged, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, l Lead) error {
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		version, _, err := latestForUpdate(ctx, tx, l.ID)
		if err != nil {
			return err
		}
		return insertVersion(ctx, tx, l, version+1)
	})
	if err != nil {
		s.log.Error("lead upsert failed", "lead_id", l.ID, "err", err)
		return err
	}
	s.log.Debug("lead upserted", "lead_id", l.ID)
	return nil
}

// latestForUpdate returns version 0 when the lead has no rows yet.
func latestForUpdate(ctx context.Context, tx *sql.Tx, id string) (int, Lead, error) {
	const q = `
SELECT version, record
FROM lead_versions
WHERE lead_id = $1
ORDER BY version DESC
LIMIT 1
FOR UPDATE
`
	var (
		version int
		raw     []byte
	)
	if err := tx.QueryRowContext(ctx, q, id).Scan(&version, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, Lead{}, nil
		}
		return 0, Lead{}, err
	}
	var l Lead
	if err := json.Unmarshal(raw, &l); err != nil {
		return 0, Lead{}, fmt.Errorf("lead: decode record: %w", err)
	}
	return version, l, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, l Lead, version int) error {
	record, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("lead: encode %s: %w", l.ID, err)
	}
	const q = `
INSERT INTO lead_versions (lead_id, version, record)
VALUES ($1, $2, $3)
`
	_, err = tx.ExecContext(ctx, q, l.ID, version, record)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
