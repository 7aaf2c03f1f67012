package service

import (
	"context"
	"fmt"

	"github.com/zlnvch/storystack/models"
)

// SetVideoMeta records the total duration once the client has loaded the
// video's metadata. Trim bounds recorded before the duration was known
// are clamped retroactively here.
func (s *Service) SetVideoMeta(ctx context.Context, stackId string, slideId string, duration float64, frameFit string) (models.Slide, error) {
	var updated models.Slide

	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		slide := findSlide(draft, slideId)
		if slide == nil {
			return fmt.Errorf("slide %s not found", slideId)
		}
		if slide.Kind != models.MediaVideo {
			return NewError(KindValidationError, "slide is not a video", nil)
		}
		if duration <= 0 {
			return NewError(KindValidationError, "duration must be positive", nil)
		}

		slide.Duration = duration
		if frameFit != "" {
			slide.FrameFit = frameFit
		}
		if slide.TrimEnd == 0 || slide.TrimEnd > duration {
			slide.TrimEnd = duration
		}
		slide.TrimStart, slide.TrimEnd = clampTrimWindow(slide.TrimStart, slide.TrimEnd, duration)

		updated = *slide
		return nil
	})
	if err != nil {
		return models.Slide{}, err
	}

	return updated, nil
}

// SetTrimWindow sets the playback sub-range. Out-of-range requests are
// clamped to the nearest valid window, never dropped.
func (s *Service) SetTrimWindow(ctx context.Context, stackId string, slideId string, start float64, end float64) (models.Slide, error) {
	var updated models.Slide

	_, err := s.mutateDraft(ctx, stackId, func(draft *Draft) error {
		slide := findSlide(draft, slideId)
		if slide == nil {
			return fmt.Errorf("slide %s not found", slideId)
		}
		if slide.Kind != models.MediaVideo {
			return NewError(KindValidationError, "slide is not a video", nil)
		}

		// Duration unknown until metadata loads: accept optimistically,
		// SetVideoMeta clamps once the real bound arrives.
		duration := slide.Duration
		if duration == 0 {
			if start < 0 {
				start = 0
			}
			if end < start {
				end = start
			}
			slide.TrimStart, slide.TrimEnd = start, end
		} else {
			slide.TrimStart, slide.TrimEnd = clampTrimWindow(start, end, duration)
		}

		updated = *slide
		return nil
	})
	if err != nil {
		return models.Slide{}, err
	}

	return updated, nil
}

// clampTrimWindow forces 0 <= start <= end <= duration.
func clampTrimWindow(start float64, end float64, duration float64) (float64, float64) {
	if start < 0 {
		start = 0
	}
	if start > duration {
		start = duration
	}
	if end > duration {
		end = duration
	}
	if end < start {
		end = start
	}
	return start, end
}

// LoopPlayhead returns the corrected playback position for a trimmed
// video: anything outside [start, end] seeks back to start, producing a
// closed loop strictly within the window. A zero end means no trim window
// is set and the playhead passes through.
func LoopPlayhead(start float64, end float64, current float64) float64 {
	if end <= 0 {
		return current
	}
	if current > end || current < start {
		return start
	}
	return current
}

func findSlide(draft *Draft, slideId string) *models.Slide {
	for i := range draft.Stack.MediaItems {
		if draft.Stack.MediaItems[i].Id == slideId {
			return &draft.Stack.MediaItems[i]
		}
	}
	return nil
}
