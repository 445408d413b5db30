package services

import (
	"context"
	"errors"
	"strings"

	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/internal/store"
	"github.com/siteinspect/apiserver/internal/validate"
	"github.com/siteinspect/apiserver/types"
)

// ImageLabelRepository defines persistence operations for image labels.
type ImageLabelRepository interface {
	List(ctx context.Context, q types.PageQuery) ([]types.ImageLabelView, int, error)
	GetView(ctx context.Context, id string) (types.ImageLabelView, error)
	GetByLabel(ctx context.Context, label string) (types.ImageLabel, error)
	Create(ctx context.Context, label types.ImageLabel) (types.ImageLabel, error)
	Update(ctx context.Context, label types.ImageLabel) (types.ImageLabel, error)
	Delete(ctx context.Context, id string) error
}

// ImageLabelInput is the client payload for a label.
type ImageLabelInput struct {
	Label string `json:"label" validate:"required,max=200"`
}

// ImageLabelService encapsulates image label use-cases.
type ImageLabelService struct {
	labels ImageLabelRepository
}

func NewImageLabelService(labels ImageLabelRepository) *ImageLabelService {
	return &ImageLabelService{labels: labels}
}

func (s *ImageLabelService) List(ctx context.Context, q types.PageQuery) ([]types.ImageLabelView, types.PageMeta, error) {
	labels, total, err := s.labels.List(ctx, q)
	if err != nil {
		return nil, types.PageMeta{}, err
	}
	return labels, types.NewPageMeta(q, total), nil
}

func (s *ImageLabelService) Get(ctx context.Context, id string) (types.ImageLabelView, error) {
	view, err := s.labels.GetView(ctx, id)
	if err != nil {
		return types.ImageLabelView{}, notFound(err, "image label")
	}
	return view, nil
}

func (s *ImageLabelService) Create(ctx context.Context, input ImageLabelInput, actor types.User) (types.ImageLabelView, error) {
	text, err := s.checkLabel(ctx, input, "")
	if err != nil {
		return types.ImageLabelView{}, err
	}
	created, err := s.labels.Create(ctx, types.ImageLabel{
		Label:         text,
		CreatedBy:     actor.ID,
		LastUpdatedBy: actor.ID,
	})
	if err != nil {
		return types.ImageLabelView{}, conflict(err, "image label already exists")
	}
	return s.labels.GetView(ctx, created.ID)
}

func (s *ImageLabelService) Update(ctx context.Context, id string, input ImageLabelInput, actor types.User) (types.ImageLabelView, error) {
	current, err := s.labels.GetView(ctx, id)
	if err != nil {
		return types.ImageLabelView{}, notFound(err, "image label")
	}
	text, err := s.checkLabel(ctx, input, current.ID)
	if err != nil {
		return types.ImageLabelView{}, err
	}
	_, err = s.labels.Update(ctx, types.ImageLabel{
		ID:            current.ID,
		Label:         text,
		LastUpdatedBy: actor.ID,
	})
	if err != nil {
		return types.ImageLabelView{}, notFound(conflict(err, "image label already exists"), "image label")
	}
	return s.labels.GetView(ctx, id)
}

// Delete removes a label. Reports keep the label text they were created with.
func (s *ImageLabelService) Delete(ctx context.Context, id string) error {
	return notFound(s.labels.Delete(ctx, id), "image label")
}

// checkLabel validates input and rejects text already used by another label,
// ignoring case.
func (s *ImageLabelService) checkLabel(ctx context.Context, input ImageLabelInput, selfID string) (string, error) {
	input.Label = strings.TrimSpace(input.Label)
	if err := validate.Struct(input); err != nil {
		return "", err
	}
	existing, err := s.labels.GetByLabel(ctx, input.Label)
	switch {
	case err == nil && existing.ID != selfID:
		return "", apperror.Conflict("image label already exists")
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", err
	}
	return input.Label, nil
}

// conflict replaces the repository conflict sentinel with message.
func conflict(err error, message string) error {
	if errors.Is(err, store.ErrConflict) {
		return apperror.Conflict(message)
	}
	return err
}
