package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/internal/events"
	"github.com/siteinspect/apiserver/internal/storage"
	"github.com/siteinspect/apiserver/internal/store"
	"github.com/siteinspect/apiserver/internal/validate"
	"github.com/siteinspect/apiserver/types"
)

// ReportRepository defines persistence operations for reports.
type ReportRepository interface {
	List(ctx context.Context, filter types.ReportFilter) ([]types.ReportView, int, error)
	GetView(ctx context.Context, id string) (types.ReportView, error)
	Get(ctx context.Context, id string) (types.Report, error)
	Create(ctx context.Context, report types.Report) (types.Report, error)
	Update(ctx context.Context, report types.Report) (types.Report, error)
	UpdateStatus(ctx context.Context, id string, status types.ReportStatus) error
	Delete(ctx context.Context, id string) error
	KeysInUse(ctx context.Context, keys []string, excludeID string) ([]string, error)
}

// JobFinder loads a job by id.
type JobFinder interface {
	Get(ctx context.Context, id string) (types.Job, error)
}

// LabelResolver maps label ids to their text in one round trip.
type LabelResolver interface {
	TextsByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

// ObjectGateway stores report images.
type ObjectGateway interface {
	UploadMany(ctx context.Context, objects []storage.Object) ([]storage.Uploaded, error)
	DeleteMany(ctx context.Context, keys []string) error
	Owns(key string) bool
}

// ImagePolicy bounds the number of images per report. A zero Max means no
// upper bound.
type ImagePolicy struct {
	Min int
	Max int
}

// ReportInput is the client payload for creating or replacing a report.
type ReportInput struct {
	JobID  string       `json:"job" validate:"required"`
	Notes  string       `json:"notes" validate:"max=5000"`
	Images []ImageInput `json:"images" validate:"dive"`
}

// ImageInput is one image of a ReportInput. An image carrying Content is
// uploaded; otherwise Key and URL must point at an object this service
// stored that no other report references.
type ImageInput struct {
	LabelID      string `json:"labelId"`
	Label        string `json:"label" validate:"max=200"`
	Key          string `json:"key"`
	URL          string `json:"url"`
	FileName     string `json:"fileName" validate:"max=255"`
	Alt          string `json:"alt" validate:"max=500"`
	UploadedBy   string `json:"uploadedBy"`
	NoteForAdmin string `json:"noteForAdmin" validate:"max=2000"`

	// Content holds the raw bytes of a pending upload. JSON clients send it
	// base64 encoded; multipart clients attach a file instead.
	Content []byte `json:"content,omitempty"`
}

func (in ImageInput) pending() bool {
	return len(in.Content) > 0
}

// ReportService assembles reports from uploaded images and serves report
// read models.
type ReportService struct {
	reports ReportRepository
	jobs    JobFinder
	labels  LabelResolver
	objects ObjectGateway
	events  events.Publisher
	policy  ImagePolicy
	log     zerolog.Logger
	now     func() time.Time
}

func NewReportService(
	reports ReportRepository,
	jobs JobFinder,
	labels LabelResolver,
	objects ObjectGateway,
	publisher events.Publisher,
	policy ImagePolicy,
	log zerolog.Logger,
) *ReportService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &ReportService{
		reports: reports,
		jobs:    jobs,
		labels:  labels,
		objects: objects,
		events:  publisher,
		policy:  policy,
		log:     log.With().Str("component", "reports").Logger(),
		now:     time.Now,
	}
}

// List returns a page of reports. Inspectors only ever see their own.
func (s *ReportService) List(ctx context.Context, filter types.ReportFilter, actor types.User) ([]types.ReportView, types.PageMeta, error) {
	if actor.Role == types.RoleInspector {
		filter.InspectorID = actor.ID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, types.PageMeta{}, apperror.Field("status", "unknown report status")
	}
	reports, total, err := s.reports.List(ctx, filter)
	if err != nil {
		return nil, types.PageMeta{}, err
	}
	return reports, types.NewPageMeta(filter.PageQuery, total), nil
}

func (s *ReportService) Get(ctx context.Context, id string, actor types.User) (types.ReportView, error) {
	view, err := s.reports.GetView(ctx, id)
	if err != nil {
		return types.ReportView{}, notFound(err, "report")
	}
	if actor.Role == types.RoleInspector && (view.Inspector == nil || view.Inspector.ID != actor.ID) {
		return types.ReportView{}, apperror.Authorization("report belongs to another inspector")
	}
	return view, nil
}

// Create uploads the pending images of input, resolves their labels and
// persists a new report owned by actor. Objects uploaded by this call are
// deleted again if anything after the upload fails.
func (s *ReportService) Create(ctx context.Context, input ReportInput, actor types.User) (types.ReportView, error) {
	if err := s.validateInput(input); err != nil {
		return types.ReportView{}, err
	}
	job, err := s.jobs.Get(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.ReportView{}, apperror.Field("job", "job does not exist")
		}
		return types.ReportView{}, err
	}
	if actor.Role == types.RoleInspector && job.InspectorID != actor.ID {
		return types.ReportView{}, apperror.Authorization("job is assigned to another inspector")
	}
	if err := s.checkUnclaimed(ctx, input.Images); err != nil {
		return types.ReportView{}, err
	}

	var report types.Report
	err = s.withUploads(ctx, input.Images, func(uploaded []storage.Uploaded) error {
		images, err := s.assemble(ctx, input.Images, uploaded, nil, actor)
		if err != nil {
			return err
		}
		report, err = s.reports.Create(ctx, types.Report{
			InspectorID: actor.ID,
			JobID:       job.ID,
			Images:      images,
			Status:      types.ReportStatusInProgress,
			Notes:       strings.TrimSpace(input.Notes),
		})
		return err
	})
	if err != nil {
		return types.ReportView{}, err
	}

	s.events.Publish(ctx, events.ReportCreated, events.ReportCreatedEvent{
		ReportID:    report.ID,
		JobID:       report.JobID,
		InspectorID: report.InspectorID,
		ImageCount:  len(report.Images),
		OccurredAt:  s.now().UTC(),
	})
	s.log.Info().Str("report_id", report.ID).Str("job_id", report.JobID).Int("images", len(report.Images)).Msg("report created")

	return s.reports.GetView(ctx, report.ID)
}

// Update replaces the images and notes of a report. Existing images must
// already belong to the report. Objects no longer referenced after the
// update are deleted once the new version is stored.
func (s *ReportService) Update(ctx context.Context, id string, input ReportInput, actor types.User) (types.ReportView, error) {
	current, err := s.reports.Get(ctx, id)
	if err != nil {
		return types.ReportView{}, notFound(err, "report")
	}
	if actor.Role == types.RoleInspector && current.InspectorID != actor.ID {
		return types.ReportView{}, apperror.Authorization("report belongs to another inspector")
	}
	if input.JobID == "" {
		input.JobID = current.JobID
	}
	if input.JobID != current.JobID {
		return types.ReportView{}, apperror.Field("job", "job of a report cannot change")
	}
	if err := s.validateInput(input); err != nil {
		return types.ReportView{}, err
	}

	previous := make(map[string]types.ReportImage, len(current.Images))
	for _, img := range current.Images {
		previous[img.Key] = img
	}
	for i, in := range input.Images {
		if in.pending() {
			continue
		}
		if _, ok := previous[in.Key]; !ok {
			return types.ReportView{}, apperror.Field(fmt.Sprintf("images[%d].key", i), "image does not belong to this report")
		}
	}

	var updated types.Report
	err = s.withUploads(ctx, input.Images, func(uploaded []storage.Uploaded) error {
		images, err := s.assemble(ctx, input.Images, uploaded, previous, actor)
		if err != nil {
			return err
		}
		current.Images = images
		current.Notes = strings.TrimSpace(input.Notes)
		updated, err = s.reports.Update(ctx, current)
		return err
	})
	if err != nil {
		return types.ReportView{}, notFound(err, "report")
	}

	kept := make(map[string]struct{}, len(updated.Images))
	for _, img := range updated.Images {
		kept[img.Key] = struct{}{}
	}
	var dropped []string
	for key := range previous {
		if _, ok := kept[key]; !ok {
			dropped = append(dropped, key)
		}
	}
	s.release(ctx, dropped, updated.ID, "report updated")

	return s.reports.GetView(ctx, updated.ID)
}

// UpdateStatus moves a report to status.
func (s *ReportService) UpdateStatus(ctx context.Context, id string, status types.ReportStatus, actor types.User) (types.ReportView, error) {
	if !status.Valid() {
		return types.ReportView{}, apperror.Field("status", "unknown report status")
	}
	current, err := s.reports.Get(ctx, id)
	if err != nil {
		return types.ReportView{}, notFound(err, "report")
	}
	if err := s.reports.UpdateStatus(ctx, id, status); err != nil {
		return types.ReportView{}, notFound(err, "report")
	}
	if current.Status != status {
		s.events.Publish(ctx, events.ReportStatusChanged, events.ReportStatusChangedEvent{
			ReportID:   id,
			From:       current.Status,
			To:         status,
			ChangedBy:  actor.ID,
			OccurredAt: s.now().UTC(),
		})
	}
	return s.reports.GetView(ctx, id)
}

// Delete removes a report and then its stored images.
func (s *ReportService) Delete(ctx context.Context, id string) error {
	current, err := s.reports.Get(ctx, id)
	if err != nil {
		return notFound(err, "report")
	}
	if err := s.reports.Delete(ctx, id); err != nil {
		return notFound(err, "report")
	}
	keys := make([]string, 0, len(current.Images))
	for _, img := range current.Images {
		keys = append(keys, img.Key)
	}
	s.release(ctx, keys, id, "report deleted")
	return nil
}

func (s *ReportService) validateInput(input ReportInput) error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	count := len(input.Images)
	if count < s.policy.Min {
		return apperror.Field("images", fmt.Sprintf("at least %d image(s) required", s.policy.Min))
	}
	if s.policy.Max > 0 && count > s.policy.Max {
		return apperror.Field("images", fmt.Sprintf("at most %d image(s) allowed", s.policy.Max))
	}
	seen := make(map[string]struct{}, count)
	for i, img := range input.Images {
		field := fmt.Sprintf("images[%d]", i)
		if img.pending() {
			if !strings.HasPrefix(mimetype.Detect(img.Content).String(), "image/") {
				return apperror.Field(field+".content", "must be an image")
			}
			continue
		}
		if strings.TrimSpace(img.Key) == "" || strings.TrimSpace(img.URL) == "" {
			return apperror.Field(field, "either content or an existing key and url is required")
		}
		if _, dup := seen[img.Key]; dup {
			return apperror.Field(field+".key", "image is listed twice")
		}
		seen[img.Key] = struct{}{}
	}
	return nil
}

// checkUnclaimed rejects existing images whose objects this service did not
// create or that another report already references.
func (s *ReportService) checkUnclaimed(ctx context.Context, inputs []ImageInput) error {
	index := make(map[string]int, len(inputs))
	keys := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if in.pending() {
			continue
		}
		if !s.objects.Owns(in.Key) {
			return apperror.Field(fmt.Sprintf("images[%d].key", i), "image was not uploaded through this service")
		}
		index[in.Key] = i
		keys = append(keys, in.Key)
	}
	if len(keys) == 0 {
		return nil
	}
	inUse, err := s.reports.KeysInUse(ctx, keys, "")
	if err != nil {
		return fmt.Errorf("check image references: %w", err)
	}
	if len(inUse) > 0 {
		return apperror.Field(fmt.Sprintf("images[%d].key", index[inUse[0]]), "image belongs to another report")
	}
	return nil
}

// withUploads uploads the pending images of inputs and runs commit with the
// results in input order. Every object uploaded here is deleted again unless
// commit succeeds.
func (s *ReportService) withUploads(ctx context.Context, inputs []ImageInput, commit func([]storage.Uploaded) error) (err error) {
	objects := make([]storage.Object, 0, len(inputs))
	for i, in := range inputs {
		if !in.pending() {
			continue
		}
		mt := mimetype.Detect(in.Content)
		name := strings.TrimSpace(in.FileName)
		if name == "" {
			name = fmt.Sprintf("image-%d%s", i+1, mt.Extension())
		}
		objects = append(objects, storage.Object{
			FileName:    name,
			ContentType: mt.String(),
			Content:     in.Content,
		})
	}

	uploaded, err := s.objects.UploadMany(ctx, objects)
	defer func() {
		if err == nil || len(uploaded) == 0 {
			return
		}
		keys := make([]string, 0, len(uploaded))
		for _, up := range uploaded {
			keys = append(keys, up.Key)
		}
		s.discard(ctx, keys, "report not saved")
	}()
	if err != nil {
		return apperror.Upload(err)
	}
	return commit(uploaded)
}

// assemble builds the stored image list in input order. Pending images take
// the next upload result; existing images keep metadata from previous when
// known.
func (s *ReportService) assemble(
	ctx context.Context,
	inputs []ImageInput,
	uploaded []storage.Uploaded,
	previous map[string]types.ReportImage,
	actor types.User,
) ([]types.ReportImage, error) {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in.LabelID != "" {
			ids = append(ids, in.LabelID)
		}
	}
	texts := map[string]string{}
	if len(ids) > 0 {
		var err error
		texts, err = s.labels.TextsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve image labels: %w", err)
		}
	}

	images := make([]types.ReportImage, 0, len(inputs))
	next := 0
	for _, in := range inputs {
		img := types.ReportImage{
			LabelID:      in.LabelID,
			Label:        strings.TrimSpace(in.Label),
			FileName:     strings.TrimSpace(in.FileName),
			Alt:          in.Alt,
			UploadedBy:   in.UploadedBy,
			NoteForAdmin: in.NoteForAdmin,
		}
		if in.LabelID != "" {
			img.Label = texts[in.LabelID]
		}

		if in.pending() {
			if next >= len(uploaded) {
				return nil, errors.New("upload results do not match pending images")
			}
			up := uploaded[next]
			next++
			img.Key = up.Key
			img.URL = up.Location
			img.Size = up.Size
			img.MimeType = mimetype.Detect(in.Content).String()
		} else {
			img.Key = in.Key
			img.URL = in.URL
			if prev, ok := previous[in.Key]; ok {
				img.URL = prev.URL
				img.MimeType = prev.MimeType
				img.Size = prev.Size
				if img.FileName == "" {
					img.FileName = prev.FileName
				}
				if img.UploadedBy == "" {
					img.UploadedBy = prev.UploadedBy
				}
			}
		}
		if img.FileName == "" {
			img.FileName = img.Key[strings.LastIndex(img.Key, "/")+1:]
		}
		if img.UploadedBy == "" {
			img.UploadedBy = actor.ID
		}
		images = append(images, img)
	}
	return images, nil
}

// release deletes the objects behind keys that no report other than
// excludeID still references. When references cannot be checked the
// objects are kept.
func (s *ReportService) release(ctx context.Context, keys []string, excludeID, reason string) {
	if len(keys) == 0 {
		return
	}
	inUse, err := s.reports.KeysInUse(context.WithoutCancel(ctx), keys, excludeID)
	if err != nil {
		s.log.Error().Err(err).Strs("keys", keys).Str("reason", reason).Msg("failed to check image references; keeping objects")
		return
	}
	shared := make(map[string]struct{}, len(inUse))
	for _, key := range inUse {
		shared[key] = struct{}{}
	}
	orphaned := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := shared[key]; ok {
			s.log.Warn().Str("key", key).Str("reason", reason).Msg("image still referenced by another report; keeping object")
			continue
		}
		if !s.objects.Owns(key) {
			continue
		}
		orphaned = append(orphaned, key)
	}
	s.discard(ctx, orphaned, reason)
}

// discard deletes keys on a context that outlives request cancellation.
// Failures are logged only.
func (s *ReportService) discard(ctx context.Context, keys []string, reason string) {
	if len(keys) == 0 {
		return
	}
	if err := s.objects.DeleteMany(context.WithoutCancel(ctx), keys); err != nil {
		s.log.Error().Err(err).Strs("keys", keys).Str("reason", reason).Msg("failed to delete report images")
		return
	}
	s.log.Debug().Strs("keys", keys).Str("reason", reason).Msg("report images deleted")
}

// notFound replaces the repository sentinel with an entity-specific error.
func notFound(err error, entity string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NotFound(entity)
	}
	return err
}
