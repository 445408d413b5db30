package services

import (
	"context"
	"testing"

	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLabelConflictIgnoresCase(t *testing.T) {
	svc := NewImageLabelService(newFakeLabels())
	ctx := context.Background()

	created, err := svc.Create(ctx, ImageLabelInput{Label: " Roof "}, admin)
	require.NoError(t, err)
	assert.Equal(t, "Roof", created.Label)

	_, err = svc.Create(ctx, ImageLabelInput{Label: "ROOF"}, admin)
	assert.True(t, apperror.Is(err, apperror.CodeConflict))
}

func TestUpdateLabel(t *testing.T) {
	labels := newFakeLabels()
	svc := NewImageLabelService(labels)
	ctx := context.Background()

	roof, err := svc.Create(ctx, ImageLabelInput{Label: "Roof"}, admin)
	require.NoError(t, err)
	wall, err := svc.Create(ctx, ImageLabelInput{Label: "Wall"}, admin)
	require.NoError(t, err)

	renamed, err := svc.Update(ctx, roof.ID, ImageLabelInput{Label: "roof"}, root)
	require.NoError(t, err, "changing only the case of its own text is allowed")
	assert.Equal(t, "roof", renamed.Label)
	assert.Equal(t, root.ID, labels.labels[roof.ID].LastUpdatedBy)

	_, err = svc.Update(ctx, wall.ID, ImageLabelInput{Label: "ROOF"}, root)
	assert.True(t, apperror.Is(err, apperror.CodeConflict))

	_, err = svc.Update(ctx, "missing", ImageLabelInput{Label: "Door"}, root)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestCreateLabelValidation(t *testing.T) {
	svc := NewImageLabelService(newFakeLabels())
	_, err := svc.Create(context.Background(), ImageLabelInput{Label: "   "}, admin)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestDeleteLabel(t *testing.T) {
	svc := NewImageLabelService(newFakeLabels())
	ctx := context.Background()
	created, err := svc.Create(ctx, ImageLabelInput{Label: "Roof"}, admin)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.True(t, apperror.Is(svc.Delete(ctx, created.ID), apperror.CodeNotFound))
}
