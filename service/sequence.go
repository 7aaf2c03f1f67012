package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/storystack/models"
)

// normalizeItem turns a raw provider item into a slide with default
// annotation state.
func normalizeItem(item models.ProviderItem) (models.Slide, error) {
	slideId, err := uuid.NewV7()
	if err != nil {
		return models.Slide{}, err
	}

	return models.Slide{
		Id:       slideId.String(),
		Url:      item.BaseUrl,
		Kind:     item.Kind,
		Filename: item.Filename,
		Caption: models.Caption{
			X:        defaultLayerX,
			Y:        defaultCaptionY,
			FontSize: defaultCaptionFontSize,
			Color:    defaultTextColor,
		},
		TextLayers:     []models.TextLayer{},
		StickerLayers:  []models.StickerLayer{},
		ProviderItemId: item.Id,
		Synced:         item.Id != "",
	}, nil
}

// AppendMedia normalizes imported items (from any source) and appends
// them to the end of the slide sequence.
func (s *Service) AppendMedia(ctx context.Context, stackId string, items []models.ProviderItem) ([]models.Slide, error) {
	added := make([]models.Slide, 0, len(items))
	for _, item := range items {
		slide, err := normalizeItem(item)
		if err != nil {
			return nil, err
		}
		added = append(added, slide)
	}

	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		if len(draft.Stack.MediaItems)+len(added) > maxSlides {
			return NewError(KindValidationError, "stack slide limit reached", nil)
		}
		draft.Stack.MediaItems = append(draft.Stack.MediaItems, added...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return added, nil
}

// RemoveSlide deletes the slide at index. The edited index is decremented
// when it pointed at or beyond the removed position so it stays in range.
func (s *Service) RemoveSlide(ctx context.Context, stackId string, index int) error {
	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		items := draft.Stack.MediaItems
		if index < 0 || index >= len(items) {
			return fmt.Errorf("slide index %d out of range", index)
		}

		draft.Stack.MediaItems = append(items[:index], items[index+1:]...)

		if draft.EditedIndex >= index && draft.EditedIndex > 0 {
			draft.EditedIndex--
		}
		draft.Selection = models.Selection{Kind: models.SelectNone}
		return nil
	})
	return err
}

// ReorderSlide moves one slide from fromIndex to toIndex, preserving the
// relative order of everything else. One boundary crossing during a
// sequence drag maps to exactly one call.
func (s *Service) ReorderSlide(ctx context.Context, stackId string, fromIndex int, toIndex int) error {
	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		items := draft.Stack.MediaItems
		if fromIndex < 0 || fromIndex >= len(items) || toIndex < 0 || toIndex >= len(items) {
			return fmt.Errorf("reorder indices %d -> %d out of range", fromIndex, toIndex)
		}
		if fromIndex == toIndex {
			return nil
		}

		moved := items[fromIndex]
		if fromIndex < toIndex {
			copy(items[fromIndex:], items[fromIndex+1:toIndex+1])
		} else {
			copy(items[toIndex+1:], items[toIndex:fromIndex])
		}
		items[toIndex] = moved

		// Keep the editing cursor on the slide it was pointing at
		switch {
		case draft.EditedIndex == fromIndex:
			draft.EditedIndex = toIndex
		case fromIndex < draft.EditedIndex && draft.EditedIndex <= toIndex:
			draft.EditedIndex--
		case toIndex <= draft.EditedIndex && draft.EditedIndex < fromIndex:
			draft.EditedIndex++
		}
		return nil
	})
	return err
}
