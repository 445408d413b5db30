package services

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/internal/events"
	"github.com/siteinspect/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	inspector = types.User{ID: "insp-1", FirstName: "Ian", LastName: "Spector", Role: types.RoleInspector, IsApproved: true}
	admin     = types.User{ID: "admin-1", FirstName: "Ada", Role: types.RoleAdmin, IsApproved: true}
	root      = types.User{ID: "root-1", FirstName: "Root", Role: types.RoleRoot, IsApproved: true}

	otherInspector = types.User{ID: "insp-2", FirstName: "Olga", Role: types.RoleInspector, IsApproved: true}
)

type reportFixture struct {
	svc     *ReportService
	reports *fakeReports
	gateway *fakeGateway
	labels  *fakeLabels
	events  *fakePublisher
}

func newReportFixture(policy ImagePolicy) reportFixture {
	f := reportFixture{
		reports: newFakeReports(),
		gateway: newFakeGateway(),
		labels:  newFakeLabels(types.ImageLabel{ID: "label-roof", Label: "Roof"}),
		events:  &fakePublisher{},
	}
	jobs := newFakeJobs(
		types.Job{ID: "job-1", InspectorID: inspector.ID},
		types.Job{ID: "job-2", InspectorID: otherInspector.ID},
	)
	f.svc = NewReportService(f.reports, jobs, f.labels, f.gateway, f.events, policy, zerolog.Nop())
	return f
}

func pending(name string, content []byte) ImageInput {
	return ImageInput{FileName: name, Content: content}
}

func TestCreateReportUploadsEveryPendingImage(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 3})

	view, err := f.svc.Create(context.Background(), ReportInput{
		JobID: "job-1",
		Images: []ImageInput{
			pending("front.png", pngBytes),
			pending("back.jpg", jpegBytes),
			pending("side.png", pngBytes),
		},
	}, inspector)
	require.NoError(t, err)

	stored := f.gateway.keys()
	require.Len(t, stored, 3)
	require.Len(t, view.Images, 3)
	for _, img := range view.Images {
		assert.Contains(t, stored, img.Key)
		assert.Equal(t, "http://cdn.test/bucket/"+img.Key, img.URL)
		assert.Equal(t, inspector.ID, img.UploadedBy)
	}
	assert.Equal(t, "image/png", view.Images[0].MimeType)
	assert.Equal(t, "image/jpeg", view.Images[1].MimeType)
	assert.Equal(t, types.ReportStatusInProgress, view.Status)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.ReportCreated, f.events.events[0].channel)
}

func TestCreateReportSaveFailureRemovesUploads(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	f.reports.createErr = errors.New("connection reset")

	_, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes), pending("b.png", pngBytes)},
	}, inspector)

	require.Error(t, err)
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, 2, f.gateway.uploads)
	assert.Empty(t, f.gateway.keys())
	assert.Empty(t, f.reports.reports)
	assert.Empty(t, f.events.events)
}

func TestCreateReportLabelFailureRemovesUploads(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	f.labels.resolveErr = errors.New("labels offline")

	_, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{{LabelID: "label-roof", FileName: "a.png", Content: pngBytes}},
	}, inspector)

	require.Error(t, err)
	assert.Empty(t, f.gateway.keys())
}

func TestCreateReportPartialUploadIsCompensated(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	f.gateway.failAfter = 1

	_, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes), pending("b.png", pngBytes)},
	}, inspector)

	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeUpload))
	assert.Empty(t, f.gateway.keys())
	assert.Empty(t, f.reports.reports)
}

func TestCreateReportCleanupFailureKeepsOriginalError(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	saveErr := errors.New("disk full")
	f.reports.createErr = saveErr
	f.gateway.failDel = true

	_, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, inspector)

	assert.ErrorIs(t, err, saveErr)
}

func TestCreateReportImageCountCheckedBeforeUpload(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})

	_, err := f.svc.Create(context.Background(), ReportInput{
		JobID: "job-1",
		Images: []ImageInput{
			pending("a.png", pngBytes),
			pending("b.png", pngBytes),
			pending("c.png", pngBytes),
		},
	}, inspector)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	_, err = f.svc.Create(context.Background(), ReportInput{JobID: "job-1"}, inspector)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	assert.Zero(t, f.gateway.uploads)
}

func TestCreateReportRejectsNonImageContent(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})

	_, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("notes.txt", []byte("just some text"))},
	}, inspector)

	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
	assert.Zero(t, f.gateway.uploads)
}

func TestCreateReportUnknownJob(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})

	_, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "missing",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, inspector)

	assert.True(t, apperror.Is(err, apperror.CodeValidation))
	assert.Zero(t, f.gateway.uploads)
}

func TestCreateReportJobOfAnotherInspector(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	other := types.User{ID: "insp-2", Role: types.RoleInspector}

	_, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, other)

	assert.True(t, apperror.Is(err, apperror.CodeAuthorization))
}

func TestCreateReportKeepsInputOrderAndResolvesLabels(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 3})

	view, err := f.svc.Create(context.Background(), ReportInput{
		JobID: "job-1",
		Images: []ImageInput{
			{Key: "reports/legacy/existing.jpg", URL: "http://cdn.test/bucket/reports/legacy/existing.jpg", LabelID: "label-gone", UploadedBy: "someone-else"},
			{FileName: "roof.png", Content: pngBytes, LabelID: "label-roof"},
			{FileName: "free.png", Content: pngBytes, Label: "Kitchen"},
		},
	}, inspector)
	require.NoError(t, err)
	require.Len(t, view.Images, 3)

	assert.Equal(t, "reports/legacy/existing.jpg", view.Images[0].Key)
	assert.Equal(t, "", view.Images[0].Label, "unresolved label ids yield empty text")
	assert.Equal(t, "someone-else", view.Images[0].UploadedBy)
	assert.Equal(t, "existing.jpg", view.Images[0].FileName)

	assert.Equal(t, "Roof", view.Images[1].Label)
	assert.Equal(t, "roof.png", view.Images[1].FileName)
	assert.Equal(t, "Kitchen", view.Images[2].Label)

	assert.Len(t, f.gateway.keys(), 2)
}

func TestUpdateReportDeletesDroppedImages(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	created, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes), pending("b.png", pngBytes)},
	}, inspector)
	require.NoError(t, err)
	keep := created.Images[0]

	updated, err := f.svc.Update(context.Background(), created.ID, ReportInput{
		Notes: "second pass",
		Images: []ImageInput{
			{Key: keep.Key, URL: keep.URL},
			pending("c.jpg", jpegBytes),
		},
	}, inspector)
	require.NoError(t, err)

	require.Len(t, updated.Images, 2)
	assert.Equal(t, keep.Key, updated.Images[0].Key)
	assert.Equal(t, keep.MimeType, updated.Images[0].MimeType)
	assert.Equal(t, "second pass", updated.Notes)

	stored := f.gateway.keys()
	assert.Len(t, stored, 2)
	assert.Contains(t, stored, keep.Key)
	assert.NotContains(t, stored, created.Images[1].Key)
}

func TestUpdateReportRejectsForeignKeys(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	created, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, inspector)
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), created.ID, ReportInput{
		Images: []ImageInput{{Key: "reports/other/x.png", URL: "http://x"}},
	}, inspector)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestUpdateReportSaveFailureKeepsOldImages(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	created, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, inspector)
	require.NoError(t, err)
	f.reports.updateErr = errors.New("timeout")

	_, err = f.svc.Update(context.Background(), created.ID, ReportInput{
		Images: []ImageInput{pending("b.png", pngBytes)},
	}, inspector)
	require.Error(t, err)

	assert.Equal(t, []string{created.Images[0].Key}, f.gateway.keys())
}

func TestUpdateStatusPublishesChange(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	created, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, inspector)
	require.NoError(t, err)

	view, err := f.svc.UpdateStatus(context.Background(), created.ID, types.ReportStatusCompleted, admin)
	require.NoError(t, err)
	assert.Equal(t, types.ReportStatusCompleted, view.Status)

	require.Len(t, f.events.events, 2)
	changed, ok := f.events.events[1].payload.(events.ReportStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, types.ReportStatusInProgress, changed.From)
	assert.Equal(t, types.ReportStatusCompleted, changed.To)
	assert.Equal(t, admin.ID, changed.ChangedBy)

	_, err = f.svc.UpdateStatus(context.Background(), created.ID, "success", admin)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestDeleteReportRemovesImages(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	created, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes), pending("b.png", pngBytes)},
	}, inspector)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), created.ID))
	assert.Empty(t, f.gateway.keys())
	assert.Empty(t, f.reports.reports)

	err = f.svc.Delete(context.Background(), created.ID)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestReportVisibilityForInspectors(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	created, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, inspector)
	require.NoError(t, err)
	other := types.User{ID: "insp-2", Role: types.RoleInspector}

	_, err = f.svc.Get(context.Background(), created.ID, other)
	assert.True(t, apperror.Is(err, apperror.CodeAuthorization))

	_, err = f.svc.Get(context.Background(), created.ID, admin)
	assert.NoError(t, err)

	reports, meta, err := f.svc.List(context.Background(), types.ReportFilter{}, other)
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Equal(t, 0, meta.Total)

	reports, meta, err = f.svc.List(context.Background(), types.ReportFilter{}, root)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.Equal(t, types.PageMeta{Page: 1, Limit: 10, Total: 1, TotalPage: 1}, meta)
}

func TestCreateReportRejectsImageOfAnotherReport(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	first, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, inspector)
	require.NoError(t, err)
	taken := first.Images[0]

	_, err = f.svc.Create(context.Background(), ReportInput{
		JobID: "job-2",
		Images: []ImageInput{
			pending("b.png", pngBytes),
			{Key: taken.Key, URL: taken.URL},
		},
	}, otherInspector)

	require.Error(t, err)
	appErr := apperror.From(err)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Equal(t, "images[1].key", appErr.Fields[0].Field)
	assert.Equal(t, 1, f.gateway.uploads)
	assert.Equal(t, []string{taken.Key}, f.gateway.keys())
	assert.Len(t, f.reports.reports, 1)
}

func TestCreateReportRejectsForeignObjectKeys(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})

	for _, key := range []string{"avatars/me.png", "reports/../avatars/me.png"} {
		_, err := f.svc.Create(context.Background(), ReportInput{
			JobID:  "job-1",
			Images: []ImageInput{{Key: key, URL: "http://cdn.test/bucket/" + key}},
		}, inspector)
		require.Error(t, err, key)
		assert.Equal(t, "images[0].key", apperror.From(err).Fields[0].Field, key)
	}
	assert.Empty(t, f.reports.reports)
}

func TestCreateReportRejectsDuplicateExistingKeys(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	img := ImageInput{Key: "reports/legacy/a.png", URL: "http://cdn.test/bucket/reports/legacy/a.png"}

	_, err := f.svc.Create(context.Background(), ReportInput{JobID: "job-1", Images: []ImageInput{img, img}}, inspector)

	require.Error(t, err)
	assert.Equal(t, "images[1].key", apperror.From(err).Fields[0].Field)
}

func TestDroppingSharedImageKeepsObject(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	first, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, inspector)
	require.NoError(t, err)
	shared := first.Images[0]

	// Rows written before references were checked can still share a key.
	f.reports.reports["report-legacy"] = types.Report{
		ID:          "report-legacy",
		InspectorID: otherInspector.ID,
		JobID:       "job-2",
		Images:      []types.ReportImage{shared},
	}

	_, err = f.svc.Update(context.Background(), "report-legacy", ReportInput{
		Images: []ImageInput{pending("b.png", pngBytes)},
	}, otherInspector)
	require.NoError(t, err)
	assert.Contains(t, f.gateway.keys(), shared.Key)

	f.reports.reports["report-legacy"] = types.Report{
		ID:     "report-legacy",
		JobID:  "job-2",
		Images: []types.ReportImage{shared},
	}
	require.NoError(t, f.svc.Delete(context.Background(), "report-legacy"))
	assert.Contains(t, f.gateway.keys(), shared.Key)

	require.NoError(t, f.svc.Delete(context.Background(), first.ID))
	assert.NotContains(t, f.gateway.keys(), shared.Key)
}

func TestDeleteReportKeepsObjectsWhenReferencesUnknown(t *testing.T) {
	f := newReportFixture(ImagePolicy{Min: 1, Max: 2})
	created, err := f.svc.Create(context.Background(), ReportInput{
		JobID:  "job-1",
		Images: []ImageInput{pending("a.png", pngBytes)},
	}, inspector)
	require.NoError(t, err)
	f.reports.inUseErr = errors.New("connection reset")

	require.NoError(t, f.svc.Delete(context.Background(), created.ID))
	assert.Empty(t, f.reports.reports)
	assert.Equal(t, []string{created.Images[0].Key}, f.gateway.keys())
}
