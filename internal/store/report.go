package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siteinspect/apiserver/types"
)

// ReportRepository handles persistence for reports.
type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

var reportSearchFields = []string{
	"j.address",
	"j.order_id",
	"j.case_number",
	"j.development_name",
	fullName("ins"),
}

var reportViewSelect = fmt.Sprintf(`
		SELECT r.id, r.images, r.status, r.notes, r.created_at, r.updated_at,
		       j.id, j.form_type, j.case_number, j.order_id, j.address, j.development_name,
		       j.fee_status, j.due_date,
		       %s`, userRefColumns("ins"))

var reportViewFrom = fmt.Sprintf(`
		FROM reports r
		LEFT JOIN jobs j ON j.id = r.job_id
		%s`, userRefJoin("ins", "r.inspector_id"))

func scanReportView(row interface{ Scan(...any) error }) (types.ReportView, error) {
	var (
		view       types.ReportView
		imagesJSON []byte
		jobID      sql.NullString
		formType   sql.NullString
		caseNumber sql.NullString
		orderID    sql.NullString
		address    sql.NullString
		devName    sql.NullString
		feeStatus  sql.NullString
		dueDate    sql.NullTime
		inspector  userRefScan
	)
	dest := []any{
		&view.ID,
		&imagesJSON,
		&view.Status,
		&view.Notes,
		&view.CreatedAt,
		&view.UpdatedAt,
		&jobID,
		&formType,
		&caseNumber,
		&orderID,
		&address,
		&devName,
		&feeStatus,
		&dueDate,
	}
	dest = append(dest, inspector.dest()...)
	if err := row.Scan(dest...); err != nil {
		return types.ReportView{}, err
	}

	if err := json.Unmarshal(imagesJSON, &view.Images); err != nil {
		return types.ReportView{}, fmt.Errorf("decode report images: %w", err)
	}
	if view.Images == nil {
		view.Images = []types.ReportImage{}
	}
	if jobID.Valid {
		view.Job = &types.JobSummary{
			ID:              jobID.String,
			FormType:        formType.String,
			CaseNumber:      caseNumber.String,
			OrderID:         orderID.String,
			Address:         address.String,
			DevelopmentName: devName.String,
			FeeStatus:       types.FeeStatus(feeStatus.String),
		}
		if dueDate.Valid {
			t := dueDate.Time
			view.Job.DueDate = &t
		}
	}
	view.Inspector = inspector.ref()
	return view, nil
}

// List returns one page of decorated reports, newest first, and the total
// number of reports matching the filter.
func (r *ReportRepository) List(ctx context.Context, f types.ReportFilter) ([]types.ReportView, int, error) {
	var where filter
	where.search(f.Search, reportSearchFields...)
	if f.InspectorID != "" {
		where.where("r.inspector_id = " + where.arg(nullUUID(f.InspectorID)))
	}
	if f.JobID != "" {
		where.where("r.job_id = " + where.arg(nullUUID(f.JobID)))
	}
	if f.Status != "" {
		where.where("r.status = " + where.arg(string(f.Status)))
	}

	countQuery := `SELECT COUNT(1)` + reportViewFrom + ` ` + where.clause()
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := reportViewSelect + reportViewFrom + `
		` + where.clause() + `
		ORDER BY r.created_at DESC, r.id DESC
		` + where.page(f.PageQuery)
	rows, err := r.db.QueryContext(ctx, listQuery, where.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	reports := make([]types.ReportView, 0, f.Normalize().Limit)
	for rows.Next() {
		report, err := scanReportView(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

func (r *ReportRepository) GetView(ctx context.Context, id string) (types.ReportView, error) {
	id, ok := normalizeID(id)
	if !ok {
		return types.ReportView{}, ErrNotFound
	}
	query := reportViewSelect + reportViewFrom + `
		WHERE r.id = $1`
	view, err := scanReportView(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ReportView{}, ErrNotFound
		}
		return types.ReportView{}, err
	}
	return view, nil
}

func (r *ReportRepository) Get(ctx context.Context, id string) (types.Report, error) {
	id, ok := normalizeID(id)
	if !ok {
		return types.Report{}, ErrNotFound
	}
	const query = `
		SELECT id, inspector_id, job_id, images, status, notes, created_at, updated_at
		FROM reports
		WHERE id = $1`
	var (
		report     types.Report
		imagesJSON []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&report.ID,
		&report.InspectorID,
		&report.JobID,
		&imagesJSON,
		&report.Status,
		&report.Notes,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Report{}, ErrNotFound
		}
		return types.Report{}, err
	}
	if err := json.Unmarshal(imagesJSON, &report.Images); err != nil {
		return types.Report{}, fmt.Errorf("decode report images: %w", err)
	}
	return report, nil
}

func (r *ReportRepository) Create(ctx context.Context, report types.Report) (types.Report, error) {
	now := time.Now().UTC()
	report.ID = uuid.NewString()
	report.CreatedAt = now
	report.UpdatedAt = now

	imagesJSON, err := json.Marshal(report.Images)
	if err != nil {
		return types.Report{}, err
	}

	const query = `
		INSERT INTO reports (id, inspector_id, job_id, images, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		report.ID,
		report.InspectorID,
		report.JobID,
		imagesJSON,
		report.Status,
		report.Notes,
		report.CreatedAt,
		report.UpdatedAt,
	); err != nil {
		return types.Report{}, translate(err)
	}
	return report, nil
}

// Update rewrites the images and notes of a report. Status changes go
// through UpdateStatus.
func (r *ReportRepository) Update(ctx context.Context, report types.Report) (types.Report, error) {
	id, ok := normalizeID(report.ID)
	if !ok {
		return types.Report{}, ErrNotFound
	}
	report.ID = id
	report.UpdatedAt = time.Now().UTC()

	imagesJSON, err := json.Marshal(report.Images)
	if err != nil {
		return types.Report{}, err
	}

	const query = `
		UPDATE reports
		SET images = $1,
			notes = $2,
			updated_at = $3
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, imagesJSON, report.Notes, report.UpdatedAt, report.ID)
	if err != nil {
		return types.Report{}, translate(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Report{}, err
	}
	if affected == 0 {
		return types.Report{}, ErrNotFound
	}
	return report, nil
}

func (r *ReportRepository) UpdateStatus(ctx context.Context, id string, status types.ReportStatus) error {
	id, ok := normalizeID(id)
	if !ok {
		return ErrNotFound
	}
	const query = `UPDATE reports SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
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

func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	id, ok := normalizeID(id)
	if !ok {
		return ErrNotFound
	}
	const query = `DELETE FROM reports WHERE id = $1`
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

// KeysInUse returns the subset of keys still referenced by an image of some
// report other than excludeID. An empty excludeID checks every report.
func (r *ReportRepository) KeysInUse(ctx context.Context, keys []string, excludeID string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	const query = `
		SELECT k.key
		FROM unnest($1::text[]) AS k(key)
		WHERE EXISTS (
			SELECT 1
			FROM reports r
			WHERE r.images @> jsonb_build_array(jsonb_build_object('key', k.key))
			  AND ($2::uuid IS NULL OR r.id <> $2::uuid)
		)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(keys), nullUUID(excludeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inUse []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		inUse = append(inUse, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inUse, nil
}
