package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/internal/store"
	"github.com/siteinspect/apiserver/internal/validate"
	"github.com/siteinspect/apiserver/types"
)

// JobRepository defines persistence operations for jobs.
type JobRepository interface {
	List(ctx context.Context, filter types.JobFilter) ([]types.JobView, int, error)
	GetView(ctx context.Context, id string) (types.JobView, error)
	Get(ctx context.Context, id string) (types.Job, error)
	Create(ctx context.Context, job types.Job) (types.Job, error)
	Update(ctx context.Context, job types.Job) (types.Job, error)
	Delete(ctx context.Context, id string) error
}

// UserFinder loads a user by id.
type UserFinder interface {
	GetByID(ctx context.Context, id string) (types.User, error)
}

// JobInput is the client payload for creating or replacing a job.
type JobInput struct {
	InspectorID      string          `json:"inspector" validate:"required"`
	FormType         string          `json:"formType" validate:"required,max=100"`
	FeeStatus        types.FeeStatus `json:"feeStatus" validate:"omitempty,oneof=unpaid pending paid"`
	AgreedFee        float64         `json:"agreedFee" validate:"gte=0"`
	CaseNumber       string          `json:"caseNumber" validate:"max=100"`
	OrderID          string          `json:"orderId" validate:"max=100"`
	Address          string          `json:"address" validate:"required,max=500"`
	DevelopmentName  string          `json:"developmentName" validate:"max=200"`
	SiteContactName  string          `json:"siteContactName" validate:"max=200"`
	SiteContactPhone string          `json:"siteContactPhone" validate:"max=50"`
	SiteContactEmail string          `json:"siteContactEmail" validate:"omitempty,email"`
	DueDate          *time.Time      `json:"dueDate"`
	Notes            string          `json:"notes" validate:"max=5000"`
}

// JobService encapsulates job use-cases.
type JobService struct {
	jobs  JobRepository
	users UserFinder
}

func NewJobService(jobs JobRepository, users UserFinder) *JobService {
	return &JobService{jobs: jobs, users: users}
}

func (s *JobService) List(ctx context.Context, filter types.JobFilter) ([]types.JobView, types.PageMeta, error) {
	if filter.FeeStatus != "" && !filter.FeeStatus.Valid() {
		return nil, types.PageMeta{}, apperror.Field("feeStatus", "unknown fee status")
	}
	jobs, total, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, types.PageMeta{}, err
	}
	return jobs, types.NewPageMeta(filter.PageQuery, total), nil
}

func (s *JobService) Get(ctx context.Context, id string) (types.JobView, error) {
	view, err := s.jobs.GetView(ctx, id)
	if err != nil {
		return types.JobView{}, notFound(err, "job")
	}
	return view, nil
}

func (s *JobService) Create(ctx context.Context, input JobInput, actor types.User) (types.JobView, error) {
	job, err := s.prepare(ctx, input)
	if err != nil {
		return types.JobView{}, err
	}
	job.CreatedBy = actor.ID
	job.LastUpdatedBy = actor.ID

	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		return types.JobView{}, err
	}
	return s.jobs.GetView(ctx, created.ID)
}

// Update replaces every editable field of a job.
func (s *JobService) Update(ctx context.Context, id string, input JobInput, actor types.User) (types.JobView, error) {
	current, err := s.jobs.Get(ctx, id)
	if err != nil {
		return types.JobView{}, notFound(err, "job")
	}
	job, err := s.prepare(ctx, input)
	if err != nil {
		return types.JobView{}, err
	}
	job.ID = current.ID
	job.CreatedBy = current.CreatedBy
	job.CreatedAt = current.CreatedAt
	job.LastUpdatedBy = actor.ID

	if _, err := s.jobs.Update(ctx, job); err != nil {
		return types.JobView{}, notFound(err, "job")
	}
	return s.jobs.GetView(ctx, id)
}

// Delete removes a job. Jobs that still have a report cannot be deleted.
func (s *JobService) Delete(ctx context.Context, id string) error {
	err := s.jobs.Delete(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		return apperror.Conflict("job has a report and cannot be deleted")
	default:
		return notFound(err, "job")
	}
}

// prepare validates input and checks that the assignee is an inspector.
func (s *JobService) prepare(ctx context.Context, input JobInput) (types.Job, error) {
	if err := validate.Struct(input); err != nil {
		return types.Job{}, err
	}
	assignee, err := s.users.GetByID(ctx, input.InspectorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Job{}, apperror.Field("inspector", "user does not exist")
		}
		return types.Job{}, err
	}
	if assignee.Role != types.RoleInspector {
		return types.Job{}, apperror.Field("inspector", "user is not an inspector")
	}

	feeStatus := input.FeeStatus
	if feeStatus == "" {
		feeStatus = types.FeeStatusUnpaid
	}
	return types.Job{
		InspectorID:      assignee.ID,
		FormType:         strings.TrimSpace(input.FormType),
		FeeStatus:        feeStatus,
		AgreedFee:        input.AgreedFee,
		CaseNumber:       strings.TrimSpace(input.CaseNumber),
		OrderID:          strings.TrimSpace(input.OrderID),
		Address:          strings.TrimSpace(input.Address),
		DevelopmentName:  strings.TrimSpace(input.DevelopmentName),
		SiteContactName:  strings.TrimSpace(input.SiteContactName),
		SiteContactPhone: strings.TrimSpace(input.SiteContactPhone),
		SiteContactEmail: strings.TrimSpace(input.SiteContactEmail),
		DueDate:          input.DueDate,
		Notes:            input.Notes,
	}, nil
}
