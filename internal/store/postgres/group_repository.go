package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"faultline/internal/domain"
)

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

const groupColumns = `
	id, hash, type, message, stack, component, operation, last_ip,
	last_user_agent, severity, status, occurrences, first_seen, last_seen,
	recent_contexts, created_at, updated_at`

// GroupRepository implements store.GroupRepository using PostgreSQL.
type GroupRepository struct {
	db *DB
}

// NewGroupRepository creates a new PostgreSQL-backed group repository.
func NewGroupRepository(db *DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create stores a new group.
func (r *GroupRepository) Create(ctx context.Context, group *domain.ErrorGroup) error {
	contexts, err := marshalContexts(group.Details.RecentContexts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO error_groups (` + groupColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.pool.Exec(ctx, query,
		group.ID,
		group.Hash,
		group.Type,
		group.Message,
		group.Stack,
		group.Component,
		group.Operation,
		group.LastIP,
		group.LastUserAgent,
		group.Severity,
		group.Status,
		group.Details.Count,
		group.Details.FirstSeen,
		group.Details.LastSeen,
		contexts,
		group.CreatedAt,
		group.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrGroupAlreadyExists
		}
		return fmt.Errorf("failed to create error group: %w", err)
	}

	return nil
}

// Update applies a patch in a single statement. The occurrence delta is added
// in SQL and last_seen only moves forward, so concurrent updates never lose
// counts.
func (r *GroupRepository) Update(ctx context.Context, id string, patch domain.GroupPatch) (*domain.ErrorGroup, error) {
	var contexts []byte
	if patch.RecentContexts != nil {
		var err error
		if contexts, err = marshalContexts(patch.RecentContexts); err != nil {
			return nil, err
		}
	}

	query := `
		UPDATE error_groups SET
			occurrences = occurrences + $2,
			last_seen = GREATEST(last_seen, $3),
			recent_contexts = COALESCE($4::jsonb, recent_contexts),
			last_ip = COALESCE(NULLIF($5::text, ''), last_ip),
			last_user_agent = COALESCE(NULLIF($6::text, ''), last_user_agent),
			severity = COALESCE(NULLIF($7::text, ''), severity),
			status = COALESCE(NULLIF($8::text, ''), status),
			updated_at = $9
		WHERE id = $1
		RETURNING ` + groupColumns

	row := r.db.pool.QueryRow(ctx, query,
		id,
		patch.Occurrences,
		patch.LastSeen,
		contexts,
		patch.LastIP,
		patch.LastUserAgent,
		string(patch.Severity),
		string(patch.Status),
		time.Now().UTC(),
	)

	group, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to update error group: %w", err)
	}

	return group, nil
}

// FindByHash retrieves the group for a fingerprint hash.
func (r *GroupRepository) FindByHash(ctx context.Context, hash string) (*domain.ErrorGroup, error) {
	return r.getOne(ctx, "hash = $1", hash)
}

// GetByID retrieves a group by its ID.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*domain.ErrorGroup, error) {
	return r.getOne(ctx, "id = $1", id)
}

// getOne retrieves a single group matching the given condition.
func (r *GroupRepository) getOne(ctx context.Context, condition string, args ...interface{}) (*domain.ErrorGroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM error_groups WHERE %s`, groupColumns, condition)

	group, err := scanGroup(r.db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get error group: %w", err)
	}

	return group, nil
}

// List retrieves groups matching the filter criteria, newest last-seen first.
func (r *GroupRepository) List(ctx context.Context, filter domain.GroupFilter) ([]*domain.ErrorGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM error_groups WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND last_seen >= $%d", argNum)
		args = append(args, filter.Since)
		argNum++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filter.Status)
		argNum++
	}

	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, filter.Severity)
		argNum++
	}

	query += " ORDER BY last_seen DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list error groups: %w", err)
	}
	defer rows.Close()

	var groups []*domain.ErrorGroup
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan error group: %w", err)
		}
		groups = append(groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating error groups: %w", err)
	}

	return groups, nil
}

// Delete removes a group by ID.
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM error_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete error group: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}

	return nil
}

// DeleteOlderThan removes groups last seen before cutoff.
func (r *GroupRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM error_groups WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old error groups: %w", err)
	}
	return result.RowsAffected(), nil
}

// scanGroup scans a single row into an ErrorGroup.
func scanGroup(row pgx.Row) (*domain.ErrorGroup, error) {
	var group domain.ErrorGroup
	var contexts []byte

	err := row.Scan(
		&group.ID,
		&group.Hash,
		&group.Type,
		&group.Message,
		&group.Stack,
		&group.Component,
		&group.Operation,
		&group.LastIP,
		&group.LastUserAgent,
		&group.Severity,
		&group.Status,
		&group.Details.Count,
		&group.Details.FirstSeen,
		&group.Details.LastSeen,
		&contexts,
		&group.CreatedAt,
		&group.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	if len(contexts) > 0 {
		if err := json.Unmarshal(contexts, &group.Details.RecentContexts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recent contexts: %w", err)
		}
	}

	return &group, nil
}

func marshalContexts(contexts []domain.RecentContext) ([]byte, error) {
	if contexts == nil {
		contexts = []domain.RecentContext{}
	}
	data, err := json.Marshal(contexts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recent contexts: %w", err)
	}
	return data, nil
}
