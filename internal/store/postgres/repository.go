package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/querymesh/querymesh/internal/store"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping metastore db: %w", err)
	}
	return nil
}

func (r *Repository) CreateTemplate(ctx context.Context, in store.CreateTemplateInput) (store.TemplateRecord, error) {
	query := `
INSERT INTO sql_template (template_id, pattern, sql_body, params_json, dialect, priority, promoted)
VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
RETURNING created_at`

	record := store.TemplateRecord{
		ID:         in.ID,
		Pattern:    in.Pattern,
		SQL:        in.SQL,
		ParamsJSON: in.ParamsJSON,
		Dialect:    in.Dialect,
		Priority:   in.Priority,
		Promoted:   in.Promoted,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.ID, in.Pattern, in.SQL, string(in.ParamsJSON), in.Dialect, in.Priority, in.Promoted,
	).Scan(&record.CreatedAt); err != nil {
		return store.TemplateRecord{}, fmt.Errorf("create template: %w", err)
	}
	return record, nil
}

func (r *Repository) ListTemplates(ctx context.Context) ([]store.TemplateRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT template_id, pattern, sql_body, params_json, dialect, priority, promoted, created_at
FROM sql_template
ORDER BY template_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	templates := make([]store.TemplateRecord, 0)
	for rows.Next() {
		var record store.TemplateRecord
		if err := rows.Scan(
			&record.ID,
			&record.Pattern,
			&record.SQL,
			&record.ParamsJSON,
			&record.Dialect,
			&record.Priority,
			&record.Promoted,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan template row: %w", err)
		}
		templates = append(templates, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template rows: %w", err)
	}
	return templates, nil
}

func (r *Repository) DeleteTemplate(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sql_template WHERE template_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete template rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) UpsertPlugin(ctx context.Context, in store.UpsertPluginInput) (store.PluginRecord, error) {
	query := `
INSERT INTO plugin_registration (plugin_name, version, description, base_url, enabled)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (plugin_name)
DO UPDATE SET version = $2, description = $3, base_url = $4, enabled = $5, updated_at = NOW()
RETURNING created_at, updated_at`

	record := store.PluginRecord{
		Name:        in.Name,
		Version:     in.Version,
		Description: in.Description,
		BaseURL:     in.BaseURL,
		Enabled:     in.Enabled,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.Name, in.Version, in.Description, in.BaseURL, in.Enabled,
	).Scan(&record.CreatedAt, &record.UpdatedAt); err != nil {
		return store.PluginRecord{}, fmt.Errorf("upsert plugin: %w", err)
	}
	return record, nil
}

func (r *Repository) ListPlugins(ctx context.Context) ([]store.PluginRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT plugin_name, version, description, base_url, enabled, created_at, updated_at
FROM plugin_registration
ORDER BY plugin_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	plugins := make([]store.PluginRecord, 0)
	for rows.Next() {
		var record store.PluginRecord
		if err := rows.Scan(
			&record.Name,
			&record.Version,
			&record.Description,
			&record.BaseURL,
			&record.Enabled,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan plugin row: %w", err)
		}
		plugins = append(plugins, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plugin rows: %w", err)
	}
	return plugins, nil
}

func (r *Repository) SetPluginEnabled(ctx context.Context, name string, enabled bool) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE plugin_registration
SET enabled = $2, updated_at = NOW()
WHERE plugin_name = $1`, name, enabled)
	if err != nil {
		return fmt.Errorf("set plugin enabled: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set plugin enabled rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) InsertGeneration(ctx context.Context, in store.InsertGenerationInput) (store.GenerationRecord, error) {
	query := `
INSERT INTO generation_audit (generation_id, tenant_id, query, dialect, schema_version, method, sql_text, confidence, complexity, cache_hit, valid, elapsed_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING created_at`

	record := store.GenerationRecord{
		ID:            in.ID,
		TenantID:      in.TenantID,
		Query:         in.Query,
		Dialect:       in.Dialect,
		SchemaVersion: in.SchemaVersion,
		Method:        in.Method,
		SQL:           in.SQL,
		Confidence:    in.Confidence,
		Complexity:    in.Complexity,
		CacheHit:      in.CacheHit,
		Valid:         in.Valid,
		ElapsedMS:     in.ElapsedMS,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.ID, in.TenantID, in.Query, in.Dialect, in.SchemaVersion, in.Method,
		in.SQL, in.Confidence, in.Complexity, in.CacheHit, in.Valid, in.ElapsedMS,
	).Scan(&record.CreatedAt); err != nil {
		return store.GenerationRecord{}, fmt.Errorf("insert generation: %w", err)
	}
	return record, nil
}

func (r *Repository) InsertValidation(ctx context.Context, in store.InsertValidationInput) (store.ValidationRecord, error) {
	query := `
INSERT INTO validation_audit (validation_id, tenant_id, sql_text, valid, violations_json, source, schema_version)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
RETURNING created_at`

	record := store.ValidationRecord{
		ID:             in.ID,
		TenantID:       in.TenantID,
		SQL:            in.SQL,
		Valid:          in.Valid,
		ViolationsJSON: in.ViolationsJSON,
		Source:         in.Source,
		SchemaVersion:  in.SchemaVersion,
	}
	violations := string(in.ViolationsJSON)
	if violations == "" {
		violations = "[]"
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.ID, in.TenantID, in.SQL, in.Valid, violations, in.Source, in.SchemaVersion,
	).Scan(&record.CreatedAt); err != nil {
		return store.ValidationRecord{}, fmt.Errorf("insert validation: %w", err)
	}
	return record, nil
}

func (r *Repository) InsertFeedback(ctx context.Context, in store.InsertFeedbackInput) (store.FeedbackRecord, error) {
	query := `
INSERT INTO generation_feedback (feedback_id, generation_id, judgment, comment)
VALUES ($1, $2, $3, $4)
RETURNING created_at`

	record := store.FeedbackRecord{
		ID:           in.ID,
		GenerationID: in.GenerationID,
		Judgment:     in.Judgment,
		Comment:      in.Comment,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.ID, in.GenerationID, string(in.Judgment), in.Comment,
	).Scan(&record.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return store.FeedbackRecord{}, store.ErrNotFound
		}
		return store.FeedbackRecord{}, fmt.Errorf("insert feedback: %w", err)
	}
	return record, nil
}

func (r *Repository) MethodAggregates(ctx context.Context, filter store.AggregateFilter) ([]store.MethodAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT method,
       COUNT(*) AS generations,
       COUNT(*) FILTER (WHERE valid) AS valid_count,
       COUNT(*) FILTER (WHERE cache_hit) AS cache_hits,
       COALESCE(AVG(elapsed_ms), 0) AS avg_elapsed_ms
FROM generation_audit
WHERE created_at >= $1
  AND ($2 = '' OR method = $2)
  AND ($3 = '' OR dialect = $3)
GROUP BY method
ORDER BY method ASC`, filter.Since, filter.Method, filter.Dialect)
	if err != nil {
		return nil, fmt.Errorf("method aggregates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	aggregates := make([]store.MethodAggregate, 0)
	for rows.Next() {
		var aggregate store.MethodAggregate
		if err := rows.Scan(
			&aggregate.Method,
			&aggregate.Generations,
			&aggregate.ValidCount,
			&aggregate.CacheHits,
			&aggregate.AvgElapsedMS,
		); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		aggregates = append(aggregates, aggregate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}
	return aggregates, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
