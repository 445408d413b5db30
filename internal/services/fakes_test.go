package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/siteinspect/apiserver/internal/storage"
	"github.com/siteinspect/apiserver/internal/store"
	"github.com/siteinspect/apiserver/types"
)

// pngBytes is a minimal PNG header; enough for content sniffing.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

var jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")

type fakeGateway struct {
	mu        sync.Mutex
	objects   map[string][]byte
	seq       int
	failAfter int // fail every upload once this many succeeded; <0 disables
	failDel   bool
	uploads   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{objects: map[string][]byte{}, failAfter: -1}
}

func (g *fakeGateway) UploadMany(_ context.Context, objects []storage.Object) ([]storage.Uploaded, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	uploaded := make([]storage.Uploaded, 0, len(objects))
	for _, obj := range objects {
		g.uploads++
		if g.failAfter >= 0 && len(uploaded) >= g.failAfter {
			return uploaded, errors.New("bucket unavailable")
		}
		g.seq++
		key := fmt.Sprintf("reports/test/%03d-%s", g.seq, obj.FileName)
		g.objects[key] = obj.Content
		uploaded = append(uploaded, storage.Uploaded{
			Location: "http://cdn.test/bucket/" + key,
			Key:      key,
			Size:     int64(len(obj.Content)),
		})
	}
	return uploaded, nil
}

func (g *fakeGateway) DeleteMany(_ context.Context, keys []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failDel {
		return errors.New("delete failed")
	}
	for _, key := range keys {
		delete(g.objects, key)
	}
	return nil
}

func (g *fakeGateway) Owns(key string) bool {
	return strings.HasPrefix(key, "reports/") && !strings.Contains(key, "..")
}

func (g *fakeGateway) keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.objects))
	for key := range g.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type fakeReports struct {
	reports   map[string]types.Report
	seq       int
	createErr error
	updateErr error
	inUseErr  error
}

func newFakeReports() *fakeReports {
	return &fakeReports{reports: map[string]types.Report{}}
}

func (r *fakeReports) List(_ context.Context, f types.ReportFilter) ([]types.ReportView, int, error) {
	var views []types.ReportView
	for _, rep := range r.reports {
		if f.InspectorID != "" && rep.InspectorID != f.InspectorID {
			continue
		}
		views = append(views, r.view(rep))
	}
	return views, len(views), nil
}

func (r *fakeReports) view(rep types.Report) types.ReportView {
	return types.ReportView{
		ID:        rep.ID,
		Inspector: &types.UserRef{ID: rep.InspectorID},
		Job:       &types.JobSummary{ID: rep.JobID},
		Images:    rep.Images,
		Status:    rep.Status,
		Notes:     rep.Notes,
	}
}

func (r *fakeReports) GetView(_ context.Context, id string) (types.ReportView, error) {
	rep, ok := r.reports[id]
	if !ok {
		return types.ReportView{}, store.ErrNotFound
	}
	return r.view(rep), nil
}

func (r *fakeReports) Get(_ context.Context, id string) (types.Report, error) {
	rep, ok := r.reports[id]
	if !ok {
		return types.Report{}, store.ErrNotFound
	}
	return rep, nil
}

func (r *fakeReports) Create(_ context.Context, rep types.Report) (types.Report, error) {
	if r.createErr != nil {
		return types.Report{}, r.createErr
	}
	r.seq++
	rep.ID = fmt.Sprintf("report-%d", r.seq)
	r.reports[rep.ID] = rep
	return rep, nil
}

func (r *fakeReports) Update(_ context.Context, rep types.Report) (types.Report, error) {
	if r.updateErr != nil {
		return types.Report{}, r.updateErr
	}
	if _, ok := r.reports[rep.ID]; !ok {
		return types.Report{}, store.ErrNotFound
	}
	r.reports[rep.ID] = rep
	return rep, nil
}

func (r *fakeReports) UpdateStatus(_ context.Context, id string, status types.ReportStatus) error {
	rep, ok := r.reports[id]
	if !ok {
		return store.ErrNotFound
	}
	rep.Status = status
	r.reports[id] = rep
	return nil
}

func (r *fakeReports) Delete(_ context.Context, id string) error {
	if _, ok := r.reports[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.reports, id)
	return nil
}

func (r *fakeReports) KeysInUse(_ context.Context, keys []string, excludeID string) ([]string, error) {
	if r.inUseErr != nil {
		return nil, r.inUseErr
	}
	var inUse []string
	for _, key := range keys {
		for id, rep := range r.reports {
			if id == excludeID {
				continue
			}
			if slices.ContainsFunc(rep.Images, func(img types.ReportImage) bool { return img.Key == key }) {
				inUse = append(inUse, key)
				break
			}
		}
	}
	return inUse, nil
}

type fakeJobs struct {
	jobs      map[string]types.Job
	reports   map[string]bool
	seq       int
	deleteErr error
}

func newFakeJobs(jobs ...types.Job) *fakeJobs {
	f := &fakeJobs{jobs: map[string]types.Job{}, reports: map[string]bool{}}
	for _, job := range jobs {
		f.jobs[job.ID] = job
	}
	return f
}

func (f *fakeJobs) List(_ context.Context, filter types.JobFilter) ([]types.JobView, int, error) {
	views := make([]types.JobView, 0, len(f.jobs))
	for _, job := range f.jobs {
		views = append(views, types.JobView{ID: job.ID, Address: job.Address})
	}
	total := len(views)
	q := filter.Normalize()
	start := min(q.Offset(), total)
	end := min(start+q.Limit, total)
	return views[start:end], total, nil
}

func (f *fakeJobs) GetView(_ context.Context, id string) (types.JobView, error) {
	job, ok := f.jobs[id]
	if !ok {
		return types.JobView{}, store.ErrNotFound
	}
	has := f.reports[id]
	return types.JobView{
		ID:        job.ID,
		Inspector: &types.UserRef{ID: job.InspectorID},
		FormType:  job.FormType,
		FeeStatus: job.FeeStatus,
		Address:   job.Address,
		HasReport: &has,
	}, nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (types.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return types.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) Create(_ context.Context, job types.Job) (types.Job, error) {
	f.seq++
	job.ID = fmt.Sprintf("job-%d", f.seq)
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) Update(_ context.Context, job types.Job) (types.Job, error) {
	if _, ok := f.jobs[job.ID]; !ok {
		return types.Job{}, store.ErrNotFound
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) Delete(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.jobs, id)
	return nil
}

type fakeLabels struct {
	labels     map[string]types.ImageLabel
	seq        int
	resolveErr error
}

func newFakeLabels(labels ...types.ImageLabel) *fakeLabels {
	f := &fakeLabels{labels: map[string]types.ImageLabel{}}
	for _, l := range labels {
		f.labels[l.ID] = l
	}
	return f
}

func (f *fakeLabels) TextsByIDs(_ context.Context, ids []string) (map[string]string, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	texts := map[string]string{}
	for _, id := range ids {
		if l, ok := f.labels[id]; ok {
			texts[id] = l.Label
		}
	}
	return texts, nil
}

func (f *fakeLabels) List(_ context.Context, q types.PageQuery) ([]types.ImageLabelView, int, error) {
	views := make([]types.ImageLabelView, 0, len(f.labels))
	for _, l := range f.labels {
		views = append(views, types.ImageLabelView{ID: l.ID, Label: l.Label})
	}
	return views, len(views), nil
}

func (f *fakeLabels) GetView(_ context.Context, id string) (types.ImageLabelView, error) {
	l, ok := f.labels[id]
	if !ok {
		return types.ImageLabelView{}, store.ErrNotFound
	}
	return types.ImageLabelView{ID: l.ID, Label: l.Label}, nil
}

func (f *fakeLabels) GetByLabel(_ context.Context, label string) (types.ImageLabel, error) {
	for _, l := range f.labels {
		if strings.EqualFold(l.Label, strings.TrimSpace(label)) {
			return l, nil
		}
	}
	return types.ImageLabel{}, store.ErrNotFound
}

func (f *fakeLabels) Create(_ context.Context, l types.ImageLabel) (types.ImageLabel, error) {
	f.seq++
	l.ID = fmt.Sprintf("label-%d", f.seq)
	f.labels[l.ID] = l
	return l, nil
}

func (f *fakeLabels) Update(_ context.Context, l types.ImageLabel) (types.ImageLabel, error) {
	if _, ok := f.labels[l.ID]; !ok {
		return types.ImageLabel{}, store.ErrNotFound
	}
	f.labels[l.ID] = l
	return l, nil
}

func (f *fakeLabels) Delete(_ context.Context, id string) error {
	if _, ok := f.labels[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.labels, id)
	return nil
}

type fakeUsers struct {
	users map[string]types.User
	seq   int
}

func newFakeUsers(users ...types.User) *fakeUsers {
	f := &fakeUsers{users: map[string]types.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (types.User, error) {
	u, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	for _, u := range f.users {
		if u.Email != "" && strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUsers) GetByResetTokenHash(_ context.Context, hash string) (types.User, error) {
	for _, u := range f.users {
		if hash != "" && u.ResetTokenHash == hash {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUsers) Create(ctx context.Context, u types.User) (types.User, error) {
	if _, err := f.GetByEmail(ctx, u.Email); err == nil {
		return types.User{}, store.ErrConflict
	}
	f.seq++
	u.ID = fmt.Sprintf("user-%d", f.seq)
	u.CreatedAt = time.Now()
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUsers) Update(_ context.Context, u types.User) (types.User, error) {
	if _, ok := f.users[u.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	if _, ok := f.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeUsers) List(_ context.Context, filter types.UserFilter) ([]types.User, int, error) {
	users := make([]types.User, 0, len(f.users))
	for _, u := range f.users {
		if filter.Role.Valid() && u.Role != filter.Role {
			continue
		}
		users = append(users, u)
	}
	return users, len(users), nil
}

type recordedEvent struct {
	channel string
	payload any
}

type fakePublisher struct {
	events []recordedEvent
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload any) {
	p.events = append(p.events, recordedEvent{channel: channel, payload: payload})
}
