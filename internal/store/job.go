package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/siteinspect/apiserver/types"
)

// JobRepository handles persistence for jobs.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// jobSearchFields are matched by the free-text search of job listings.
var jobSearchFields = []string{
	"j.address",
	"j.order_id",
	"j.case_number",
	"j.development_name",
	"j.site_contact_name",
	fullName("ins"),
}

var jobViewSelect = fmt.Sprintf(`
		SELECT j.id, j.form_type, j.fee_status, j.agreed_fee, j.case_number, j.order_id,
		       j.address, j.development_name, j.site_contact_name, j.site_contact_phone,
		       j.site_contact_email, j.due_date, j.notes, j.created_at, j.updated_at,
		       %s, %s, %s`,
	userRefColumns("ins"), userRefColumns("cb"), userRefColumns("lub"))

var jobViewFrom = fmt.Sprintf(`
		FROM jobs j
		%s
		%s
		%s`,
	userRefJoin("ins", "j.inspector_id"), userRefJoin("cb", "j.created_by"), userRefJoin("lub", "j.last_updated_by"))

func scanJobView(row interface{ Scan(...any) error }, extra ...any) (types.JobView, error) {
	var (
		view               types.JobView
		dueDate            sql.NullTime
		inspector, cb, lub userRefScan
	)
	dest := []any{
		&view.ID,
		&view.FormType,
		&view.FeeStatus,
		&view.AgreedFee,
		&view.CaseNumber,
		&view.OrderID,
		&view.Address,
		&view.DevelopmentName,
		&view.SiteContactName,
		&view.SiteContactPhone,
		&view.SiteContactEmail,
		&dueDate,
		&view.Notes,
		&view.CreatedAt,
		&view.UpdatedAt,
	}
	dest = append(dest, inspector.dest()...)
	dest = append(dest, cb.dest()...)
	dest = append(dest, lub.dest()...)
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return types.JobView{}, err
	}
	if dueDate.Valid {
		t := dueDate.Time
		view.DueDate = &t
	}
	view.Inspector = inspector.ref()
	view.CreatedBy = cb.ref()
	view.LastUpdatedBy = lub.ref()
	return view, nil
}

// List returns one page of decorated jobs, newest first, and the total
// number of jobs matching the filter.
func (r *JobRepository) List(ctx context.Context, f types.JobFilter) ([]types.JobView, int, error) {
	var where filter
	where.search(f.Search, jobSearchFields...)
	if f.InspectorID != "" {
		where.where("j.inspector_id = " + where.arg(nullUUID(f.InspectorID)))
	}
	if f.FeeStatus != "" {
		where.where("j.fee_status = " + where.arg(string(f.FeeStatus)))
	}

	countQuery := `SELECT COUNT(1)` + jobViewFrom + ` ` + where.clause()
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := jobViewSelect + jobViewFrom + `
		` + where.clause() + `
		ORDER BY j.created_at DESC, j.id DESC
		` + where.page(f.PageQuery)
	rows, err := r.db.QueryContext(ctx, listQuery, where.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := make([]types.JobView, 0, f.Normalize().Limit)
	for rows.Next() {
		job, err := scanJobView(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// GetView returns the decorated job together with whether a report exists
// for it.
func (r *JobRepository) GetView(ctx context.Context, id string) (types.JobView, error) {
	id, ok := normalizeID(id)
	if !ok {
		return types.JobView{}, ErrNotFound
	}
	query := jobViewSelect + `,
		       EXISTS (SELECT 1 FROM reports rp WHERE rp.job_id = j.id)` + jobViewFrom + `
		WHERE j.id = $1`
	var hasReport bool
	view, err := scanJobView(r.db.QueryRowContext(ctx, query, id), &hasReport)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.JobView{}, ErrNotFound
		}
		return types.JobView{}, err
	}
	view.HasReport = &hasReport
	return view, nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (types.Job, error) {
	id, ok := normalizeID(id)
	if !ok {
		return types.Job{}, ErrNotFound
	}
	const query = `
		SELECT id, inspector_id, form_type, fee_status, agreed_fee, case_number, order_id,
		       address, development_name, site_contact_name, site_contact_phone,
		       site_contact_email, due_date, notes, created_by, last_updated_by,
		       created_at, updated_at
		FROM jobs
		WHERE id = $1`
	var (
		job           types.Job
		dueDate       sql.NullTime
		lastUpdatedBy sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.InspectorID,
		&job.FormType,
		&job.FeeStatus,
		&job.AgreedFee,
		&job.CaseNumber,
		&job.OrderID,
		&job.Address,
		&job.DevelopmentName,
		&job.SiteContactName,
		&job.SiteContactPhone,
		&job.SiteContactEmail,
		&dueDate,
		&job.Notes,
		&job.CreatedBy,
		&lastUpdatedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Job{}, ErrNotFound
		}
		return types.Job{}, err
	}
	if dueDate.Valid {
		t := dueDate.Time
		job.DueDate = &t
	}
	job.LastUpdatedBy = lastUpdatedBy.String
	return job, nil
}

func (r *JobRepository) Create(ctx context.Context, job types.Job) (types.Job, error) {
	now := time.Now().UTC()
	job.ID = uuid.NewString()
	job.CreatedAt = now
	job.UpdatedAt = now

	const query = `
		INSERT INTO jobs (id, inspector_id, form_type, fee_status, agreed_fee, case_number,
			order_id, address, development_name, site_contact_name, site_contact_phone,
			site_contact_email, due_date, notes, created_by, last_updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.InspectorID,
		job.FormType,
		job.FeeStatus,
		job.AgreedFee,
		job.CaseNumber,
		job.OrderID,
		job.Address,
		job.DevelopmentName,
		job.SiteContactName,
		job.SiteContactPhone,
		job.SiteContactEmail,
		job.DueDate,
		job.Notes,
		job.CreatedBy,
		nullUUID(job.LastUpdatedBy),
		job.CreatedAt,
		job.UpdatedAt,
	); err != nil {
		return types.Job{}, translate(err)
	}
	return job, nil
}

func (r *JobRepository) Update(ctx context.Context, job types.Job) (types.Job, error) {
	id, ok := normalizeID(job.ID)
	if !ok {
		return types.Job{}, ErrNotFound
	}
	job.ID = id
	job.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE jobs
		SET inspector_id = $1,
			form_type = $2,
			fee_status = $3,
			agreed_fee = $4,
			case_number = $5,
			order_id = $6,
			address = $7,
			development_name = $8,
			site_contact_name = $9,
			site_contact_phone = $10,
			site_contact_email = $11,
			due_date = $12,
			notes = $13,
			last_updated_by = $14,
			updated_at = $15
		WHERE id = $16`
	result, err := r.db.ExecContext(
		ctx,
		query,
		job.InspectorID,
		job.FormType,
		job.FeeStatus,
		job.AgreedFee,
		job.CaseNumber,
		job.OrderID,
		job.Address,
		job.DevelopmentName,
		job.SiteContactName,
		job.SiteContactPhone,
		job.SiteContactEmail,
		job.DueDate,
		job.Notes,
		nullUUID(job.LastUpdatedBy),
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return types.Job{}, translate(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Job{}, err
	}
	if affected == 0 {
		return types.Job{}, ErrNotFound
	}
	return job, nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	id, ok := normalizeID(id)
	if !ok {
		return ErrNotFound
	}
	const query = `DELETE FROM jobs WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return translate(err)
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
