package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/storystack/models"
)

const (
	defaultLayerX = 50.0
	defaultLayerY = 50.0

	defaultTextFontSize    = 24
	defaultTextFontFamily  = "sans-serif"
	defaultTextColor       = "#FFFFFF"
	defaultStickerSize     = 64
	defaultCaptionFontSize = 18
	defaultCaptionY        = 85.0

	maxLayersPerSlide = 30
)

// AddTextLayer creates a text layer at the default center position on
// the edited slide and selects it.
func (s *Service) AddTextLayer(ctx context.Context, stackId string, text string) (models.TextLayer, error) {
	if !validLayerText(text) {
		return models.TextLayer{}, NewError(KindValidationError, "invalid layer text", nil)
	}

	layerId, err := uuid.NewV7()
	if err != nil {
		return models.TextLayer{}, err
	}

	layer := models.TextLayer{
		Id:         layerId.String(),
		Text:       text,
		X:          defaultLayerX,
		Y:          defaultLayerY,
		FontSize:   defaultTextFontSize,
		FontFamily: defaultTextFontFamily,
		Color:      defaultTextColor,
	}

	_, err = s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		slide, err := editedSlide(draft)
		if err != nil {
			return err
		}
		if len(slide.TextLayers)+len(slide.StickerLayers) >= maxLayersPerSlide {
			return NewError(KindValidationError, "slide layer limit reached", nil)
		}
		slide.TextLayers = append(slide.TextLayers, layer)
		draft.Selection = models.Selection{Kind: models.SelectText, LayerId: layer.Id}
		return nil
	})
	if err != nil {
		return models.TextLayer{}, err
	}

	return layer, nil
}

// AddStickerLayer creates a sticker layer at the default center position
// on the edited slide and selects it.
func (s *Service) AddStickerLayer(ctx context.Context, stackId string, glyph string) (models.StickerLayer, error) {
	if !validGlyph(glyph) {
		return models.StickerLayer{}, NewError(KindValidationError, "invalid sticker glyph", nil)
	}

	layerId, err := uuid.NewV7()
	if err != nil {
		return models.StickerLayer{}, err
	}

	layer := models.StickerLayer{
		Id:    layerId.String(),
		Glyph: glyph,
		X:     defaultLayerX,
		Y:     defaultLayerY,
		Size:  defaultStickerSize,
	}

	_, err = s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		slide, err := editedSlide(draft)
		if err != nil {
			return err
		}
		if len(slide.TextLayers)+len(slide.StickerLayers) >= maxLayersPerSlide {
			return NewError(KindValidationError, "slide layer limit reached", nil)
		}
		slide.StickerLayers = append(slide.StickerLayers, layer)
		draft.Selection = models.Selection{Kind: models.SelectSticker, LayerId: layer.Id}
		return nil
	})
	if err != nil {
		return models.StickerLayer{}, err
	}

	return layer, nil
}

// TextLayerPatch carries partial updates; nil fields are left untouched.
type TextLayerPatch struct {
	Text       *string  `json:"text,omitempty"`
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
	FontSize   *int     `json:"font_size,omitempty"`
	FontFamily *string  `json:"font_family,omitempty"`
	Color      *string  `json:"color,omitempty"`
	Bold       *bool    `json:"bold,omitempty"`
	Rotation   *float64 `json:"rotation,omitempty"`
}

func (s *Service) UpdateTextLayer(ctx context.Context, stackId string, layerId string, patch TextLayerPatch) (models.TextLayer, error) {
	var updated models.TextLayer

	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		slide, err := editedSlide(draft)
		if err != nil {
			return err
		}
		for i := range slide.TextLayers {
			if slide.TextLayers[i].Id != layerId {
				continue
			}
			layer := &slide.TextLayers[i]
			if patch.Text != nil {
				if !validLayerText(*patch.Text) {
					return NewError(KindValidationError, "invalid layer text", nil)
				}
				layer.Text = *patch.Text
			}
			if patch.X != nil {
				layer.X = clampPct(*patch.X)
			}
			if patch.Y != nil {
				layer.Y = clampPct(*patch.Y)
			}
			if patch.FontSize != nil {
				layer.FontSize = clampFontSize(*patch.FontSize)
			}
			if patch.FontFamily != nil {
				layer.FontFamily = *patch.FontFamily
			}
			if patch.Color != nil {
				if !validColor(*patch.Color) {
					return NewError(KindValidationError, "invalid layer color", nil)
				}
				layer.Color = *patch.Color
			}
			if patch.Bold != nil {
				layer.Bold = *patch.Bold
			}
			if patch.Rotation != nil {
				layer.Rotation = *patch.Rotation
			}
			updated = *layer
			return nil
		}
		return fmt.Errorf("text layer %s not found on edited slide", layerId)
	})
	if err != nil {
		return models.TextLayer{}, err
	}

	return updated, nil
}

type StickerLayerPatch struct {
	X    *float64 `json:"x,omitempty"`
	Y    *float64 `json:"y,omitempty"`
	Size *int     `json:"size,omitempty"`
}

func (s *Service) UpdateStickerLayer(ctx context.Context, stackId string, layerId string, patch StickerLayerPatch) (models.StickerLayer, error) {
	var updated models.StickerLayer

	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		slide, err := editedSlide(draft)
		if err != nil {
			return err
		}
		for i := range slide.StickerLayers {
			if slide.StickerLayers[i].Id != layerId {
				continue
			}
			layer := &slide.StickerLayers[i]
			if patch.X != nil {
				layer.X = clampPct(*patch.X)
			}
			if patch.Y != nil {
				layer.Y = clampPct(*patch.Y)
			}
			if patch.Size != nil {
				layer.Size = clampStickerSize(*patch.Size)
			}
			updated = *layer
			return nil
		}
		return fmt.Errorf("sticker layer %s not found on edited slide", layerId)
	})
	if err != nil {
		return models.StickerLayer{}, err
	}

	return updated, nil
}

type CaptionPatch struct {
	Text     *string  `json:"text,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	FontSize *int     `json:"font_size,omitempty"`
	Color    *string  `json:"color,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
}

func (s *Service) UpdateCaption(ctx context.Context, stackId string, patch CaptionPatch) (models.Caption, error) {
	var updated models.Caption

	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		slide, err := editedSlide(draft)
		if err != nil {
			return err
		}
		caption := &slide.Caption
		if patch.Text != nil {
			if !validLayerText(*patch.Text) {
				return NewError(KindValidationError, "invalid caption text", nil)
			}
			caption.Text = *patch.Text
		}
		if patch.X != nil {
			caption.X = clampPct(*patch.X)
		}
		if patch.Y != nil {
			caption.Y = clampPct(*patch.Y)
		}
		if patch.FontSize != nil {
			caption.FontSize = clampFontSize(*patch.FontSize)
		}
		if patch.Color != nil {
			if !validColor(*patch.Color) {
				return NewError(KindValidationError, "invalid caption color", nil)
			}
			caption.Color = *patch.Color
		}
		if patch.Rotation != nil {
			caption.Rotation = *patch.Rotation
		}
		updated = *caption
		return nil
	})
	if err != nil {
		return models.Caption{}, err
	}

	return updated, nil
}

// RemoveLayer deletes a text or sticker layer from the edited slide.
// Sibling layer ids are untouched, and a selection pointing at the
// removed layer is cleared.
func (s *Service) RemoveLayer(ctx context.Context, stackId string, layerId string) error {
	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		slide, err := editedSlide(draft)
		if err != nil {
			return err
		}

		for i := range slide.TextLayers {
			if slide.TextLayers[i].Id == layerId {
				slide.TextLayers = append(slide.TextLayers[:i], slide.TextLayers[i+1:]...)
				clearSelectionIf(draft, layerId)
				return nil
			}
		}
		for i := range slide.StickerLayers {
			if slide.StickerLayers[i].Id == layerId {
				slide.StickerLayers = append(slide.StickerLayers[:i], slide.StickerLayers[i+1:]...)
				clearSelectionIf(draft, layerId)
				return nil
			}
		}
		return fmt.Errorf("layer %s not found on edited slide", layerId)
	})
	return err
}

func clearSelectionIf(draft *Draft, layerId string) {
	if draft.Selection.LayerId == layerId {
		draft.Selection = models.Selection{Kind: models.SelectNone}
	}
}

// Select replaces the current selection. Selecting a text or sticker
// layer requires it to exist on the edited slide.
func (s *Service) Select(ctx context.Context, stackId string, selection models.Selection) error {
	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		switch selection.Kind {
		case models.SelectNone, models.SelectCaption:
			draft.Selection = models.Selection{Kind: selection.Kind}
			return nil

		case models.SelectText, models.SelectSticker:
			slide, err := editedSlide(draft)
			if err != nil {
				return err
			}
			if !layerExists(slide, selection) {
				return fmt.Errorf("layer %s not found on edited slide", selection.LayerId)
			}
			draft.Selection = selection
			return nil
		}
		return errors.New("unknown selection kind")
	})
	return err
}

func layerExists(slide *models.Slide, selection models.Selection) bool {
	if selection.Kind == models.SelectText {
		for _, layer := range slide.TextLayers {
			if layer.Id == selection.LayerId {
				return true
			}
		}
		return false
	}
	for _, layer := range slide.StickerLayers {
		if layer.Id == selection.LayerId {
			return true
		}
	}
	return false
}

// CommitDragPosition persists the final position of a finished drag and
// selects the dragged layer. Move events never touch the draft; this is
// the only write. The websocket transport has no per-route draft
// authorization, so ownership is checked here.
func (s *Service) CommitDragPosition(ctx context.Context, user models.User, stackId string, kind DragKind, entityId string, x float64, y float64) error {
	x, y = clampPct(x), clampPct(y)

	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		if draft.Stack.OwnerId != user.Id {
			return NewError(KindInsufficientPermissions, "draft does not belong to user", nil)
		}
		slide, err := editedSlide(draft)
		if err != nil {
			return err
		}

		switch kind {
		case DragText:
			for i := range slide.TextLayers {
				if slide.TextLayers[i].Id == entityId {
					slide.TextLayers[i].X, slide.TextLayers[i].Y = x, y
					draft.Selection = selectionFor(kind, entityId)
					return nil
				}
			}
			return fmt.Errorf("text layer %s not found on edited slide", entityId)

		case DragSticker:
			for i := range slide.StickerLayers {
				if slide.StickerLayers[i].Id == entityId {
					slide.StickerLayers[i].X, slide.StickerLayers[i].Y = x, y
					draft.Selection = selectionFor(kind, entityId)
					return nil
				}
			}
			return fmt.Errorf("sticker layer %s not found on edited slide", entityId)

		case DragCaption:
			slide.Caption.X, slide.Caption.Y = x, y
			draft.Selection = selectionFor(kind, entityId)
			return nil
		}
		return fmt.Errorf("drag kind %q does not commit a position", kind)
	})
	return err
}
