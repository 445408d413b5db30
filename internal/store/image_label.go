package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siteinspect/apiserver/types"
)

// ImageLabelRepository handles persistence for image labels.
type ImageLabelRepository struct {
	db *sql.DB
}

func NewImageLabelRepository(db *sql.DB) *ImageLabelRepository {
	return &ImageLabelRepository{db: db}
}

var labelViewQuery = fmt.Sprintf(`
		SELECT l.id, l.label, l.created_at, l.updated_at, %s, %s
		FROM image_labels l
		%s
		%s`,
	userRefColumns("cb"), userRefColumns("lub"),
	userRefJoin("cb", "l.created_by"), userRefJoin("lub", "l.last_updated_by"))

func scanLabelView(row interface{ Scan(...any) error }) (types.ImageLabelView, error) {
	var (
		view    types.ImageLabelView
		cb, lub userRefScan
	)
	dest := []any{&view.ID, &view.Label, &view.CreatedAt, &view.UpdatedAt}
	dest = append(dest, cb.dest()...)
	dest = append(dest, lub.dest()...)
	if err := row.Scan(dest...); err != nil {
		return types.ImageLabelView{}, err
	}
	view.CreatedBy = cb.ref()
	view.LastUpdatedBy = lub.ref()
	return view, nil
}

func (r *ImageLabelRepository) List(ctx context.Context, q types.PageQuery) ([]types.ImageLabelView, int, error) {
	var where filter
	where.search(q.Search, "l.label")

	countQuery := `SELECT COUNT(1) FROM image_labels l ` + where.clause()
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := labelViewQuery + `
		` + where.clause() + `
		ORDER BY l.created_at DESC, l.id DESC
		` + where.page(q)
	rows, err := r.db.QueryContext(ctx, listQuery, where.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	labels := make([]types.ImageLabelView, 0, q.Normalize().Limit)
	for rows.Next() {
		label, err := scanLabelView(rows)
		if err != nil {
			return nil, 0, err
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return labels, total, nil
}

func (r *ImageLabelRepository) GetView(ctx context.Context, id string) (types.ImageLabelView, error) {
	id, ok := normalizeID(id)
	if !ok {
		return types.ImageLabelView{}, ErrNotFound
	}
	view, err := scanLabelView(r.db.QueryRowContext(ctx, labelViewQuery+`
		WHERE l.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ImageLabelView{}, ErrNotFound
		}
		return types.ImageLabelView{}, err
	}
	return view, nil
}

// GetByLabel looks a label up by its text ignoring case.
func (r *ImageLabelRepository) GetByLabel(ctx context.Context, label string) (types.ImageLabel, error) {
	const query = `
		SELECT id, label, created_by, last_updated_by, created_at, updated_at
		FROM image_labels
		WHERE LOWER(label) = LOWER($1)`
	var (
		l             types.ImageLabel
		createdBy     sql.NullString
		lastUpdatedBy sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, strings.TrimSpace(label)).Scan(
		&l.ID,
		&l.Label,
		&createdBy,
		&lastUpdatedBy,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ImageLabel{}, ErrNotFound
		}
		return types.ImageLabel{}, err
	}
	l.CreatedBy = createdBy.String
	l.LastUpdatedBy = lastUpdatedBy.String
	return l, nil
}

// TextsByIDs resolves label ids to their text in one query. The result is
// keyed by the ids exactly as passed; malformed or unknown ids are absent.
func (r *ImageLabelRepository) TextsByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	requested := make(map[string][]string, len(ids))
	canonical := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, ok := normalizeID(raw)
		if !ok {
			continue
		}
		if _, seen := requested[id]; !seen {
			canonical = append(canonical, id)
		}
		requested[id] = append(requested[id], raw)
	}
	texts := make(map[string]string, len(ids))
	if len(canonical) == 0 {
		return texts, nil
	}

	const query = `SELECT id, label FROM image_labels WHERE id = ANY($1::uuid[])`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(canonical))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, err
		}
		for _, raw := range requested[id] {
			texts[raw] = label
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return texts, nil
}

func (r *ImageLabelRepository) Create(ctx context.Context, label types.ImageLabel) (types.ImageLabel, error) {
	now := time.Now().UTC()
	label.ID = uuid.NewString()
	label.CreatedAt = now
	label.UpdatedAt = now

	const query = `
		INSERT INTO image_labels (id, label, created_by, last_updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		label.ID,
		label.Label,
		nullUUID(label.CreatedBy),
		nullUUID(label.LastUpdatedBy),
		label.CreatedAt,
		label.UpdatedAt,
	); err != nil {
		return types.ImageLabel{}, translate(err)
	}
	return label, nil
}

func (r *ImageLabelRepository) Update(ctx context.Context, label types.ImageLabel) (types.ImageLabel, error) {
	id, ok := normalizeID(label.ID)
	if !ok {
		return types.ImageLabel{}, ErrNotFound
	}
	label.ID = id
	label.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE image_labels
		SET label = $1,
			last_updated_by = $2,
			updated_at = $3
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, label.Label, nullUUID(label.LastUpdatedBy), label.UpdatedAt, label.ID)
	if err != nil {
		return types.ImageLabel{}, translate(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.ImageLabel{}, err
	}
	if affected == 0 {
		return types.ImageLabel{}, ErrNotFound
	}
	return label, nil
}

func (r *ImageLabelRepository) Delete(ctx context.Context, id string) error {
	id, ok := normalizeID(id)
	if !ok {
		return ErrNotFound
	}
	const query = `DELETE FROM image_labels WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
