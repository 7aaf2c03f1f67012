package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	cachemocks "github.com/zlnvch/storystack/cache/mocks"
	"github.com/zlnvch/storystack/models"
	"github.com/zlnvch/storystack/service"
)

// stubDraft wires the cache mock for one draft: reads return the given
// state, writes are decoded into the returned pointer so tests can assert
// on the mutated draft.
func stubDraft(t *testing.T, mockCache *cachemocks.MockCache, draft service.Draft) *service.Draft {
	draftBytes, err := json.Marshal(draft)
	assert.NoError(t, err)

	saved := &service.Draft{}
	mockCache.On("GetDraft", mock.Anything, draft.Stack.Id).Return(draftBytes, nil)
	mockCache.On("PutDraft", mock.Anything, draft.Stack.Id, mock.Anything).Run(func(args mock.Arguments) {
		assert.NoError(t, json.Unmarshal(args.Get(2).([]byte), saved))
	}).Return(nil)
	mockCache.On("Publish", mock.Anything, "stack:"+draft.Stack.Id, mock.Anything).Return(nil)
	return saved
}

func slidesWithIds(ids ...string) []models.Slide {
	slides := make([]models.Slide, len(ids))
	for i, id := range ids {
		slides[i] = models.Slide{Id: id, Kind: models.MediaImage}
	}
	return slides
}

func slideIds(slides []models.Slide) []string {
	ids := make([]string, len(slides))
	for i, slide := range slides {
		ids[i] = slide.Id
	}
	return ids
}

func TestAppendMedia_NormalizesItems(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{Stack: models.Stack{Id: "stack1", OwnerId: "user1", MediaItems: []models.Slide{}}}
	saved := stubDraft(t, mockCache, draft)

	items := []models.ProviderItem{
		{Id: "item1", BaseUrl: "https://lh3.example.com/1", Kind: models.MediaImage, Filename: "a.jpg"},
		{BaseUrl: "https://cdn.example.com/local.png", Kind: models.MediaImage, Filename: "local.png"},
	}

	slides, err := svc.AppendMedia(ctx, "stack1", items)

	assert.NoError(t, err)
	assert.Len(t, slides, 2)
	assert.NotEmpty(t, slides[0].Id)
	assert.True(t, slides[0].Synced)
	assert.False(t, slides[1].Synced, "items without a provider id are local-only")
	assert.Equal(t, 85.0, slides[0].Caption.Y, "caption defaults near the bottom")
	assert.Len(t, saved.Stack.MediaItems, 2)
}

func TestRemoveSlide_AdjustsEditedIndex(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{
		Stack:       models.Stack{Id: "stack1", MediaItems: slidesWithIds("a", "b", "c")},
		EditedIndex: 2,
		Selection:   models.Selection{Kind: models.SelectCaption},
	}
	saved := stubDraft(t, mockCache, draft)

	err := svc.RemoveSlide(ctx, "stack1", 1)

	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, slideIds(saved.Stack.MediaItems))
	assert.Equal(t, 1, saved.EditedIndex, "edited index follows the slide it pointed at")
	assert.Equal(t, models.SelectNone, saved.Selection.Kind)
}

func TestRemoveSlide_FirstSlideKeepsIndexZero(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{
		Stack:       models.Stack{Id: "stack1", MediaItems: slidesWithIds("a", "b")},
		EditedIndex: 0,
	}
	saved := stubDraft(t, mockCache, draft)

	err := svc.RemoveSlide(ctx, "stack1", 0)

	assert.NoError(t, err)
	assert.Equal(t, []string{"b"}, slideIds(saved.Stack.MediaItems))
	assert.Equal(t, 0, saved.EditedIndex)
}

func TestRemoveSlide_OutOfRange(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{Stack: models.Stack{Id: "stack1", MediaItems: slidesWithIds("a")}}
	stubDraft(t, mockCache, draft)

	err := svc.RemoveSlide(ctx, "stack1", 5)
	assert.Error(t, err)
}

func TestReorderSlide_ForwardMove(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{
		Stack:       models.Stack{Id: "stack1", MediaItems: slidesWithIds("a", "b", "c", "d")},
		EditedIndex: 2,
	}
	saved := stubDraft(t, mockCache, draft)

	err := svc.ReorderSlide(ctx, "stack1", 0, 2)

	assert.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a", "d"}, slideIds(saved.Stack.MediaItems))
	// Edited slide was "c": it shifted one position left
	assert.Equal(t, 1, saved.EditedIndex)
}

func TestReorderSlide_BackwardMove(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{
		Stack:       models.Stack{Id: "stack1", MediaItems: slidesWithIds("a", "b", "c", "d")},
		EditedIndex: 3,
	}
	saved := stubDraft(t, mockCache, draft)

	err := svc.ReorderSlide(ctx, "stack1", 3, 1)

	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "d", "b", "c"}, slideIds(saved.Stack.MediaItems))
	// Edited slide was the moved one
	assert.Equal(t, 1, saved.EditedIndex)
}

func TestReorderSlide_SameIndexIsNoop(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{Stack: models.Stack{Id: "stack1", MediaItems: slidesWithIds("a", "b")}}
	saved := stubDraft(t, mockCache, draft)

	err := svc.ReorderSlide(ctx, "stack1", 1, 1)

	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, slideIds(saved.Stack.MediaItems))
}

// A sequence of single-position moves must equal one direct move, which
// is what a multi-cell drag across the strip performs.
func TestReorderSlide_StepwiseEqualsDirect(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	direct := service.Draft{Stack: models.Stack{Id: "stackA", MediaItems: slidesWithIds("a", "b", "c", "d")}}
	savedDirect := stubDraft(t, mockCache, direct)
	assert.NoError(t, svc.ReorderSlide(ctx, "stackA", 0, 3))

	// Stepwise on a second stack: 0->1, 1->2, 2->3
	stepState := slidesWithIds("a", "b", "c", "d")
	for from := 0; from < 3; from++ {
		stepDraft := service.Draft{Stack: models.Stack{Id: "stackB", MediaItems: stepState}}
		draftBytes, err := json.Marshal(stepDraft)
		assert.NoError(t, err)

		mockCache.ExpectedCalls = nil
		saved := &service.Draft{}
		mockCache.On("GetDraft", mock.Anything, "stackB").Return(draftBytes, nil)
		mockCache.On("PutDraft", mock.Anything, "stackB", mock.Anything).Run(func(args mock.Arguments) {
			assert.NoError(t, json.Unmarshal(args.Get(2).([]byte), saved))
		}).Return(nil)
		mockCache.On("Publish", mock.Anything, "stack:stackB", mock.Anything).Return(nil)

		assert.NoError(t, svc.ReorderSlide(ctx, "stackB", from, from+1))
		stepState = saved.Stack.MediaItems
	}

	assert.Equal(t, slideIds(savedDirect.Stack.MediaItems), slideIds(stepState))
}

func TestSetEditedSlide_ClearsSelection(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	draft := service.Draft{
		Stack:       models.Stack{Id: "stack1", MediaItems: slidesWithIds("a", "b")},
		EditedIndex: 0,
		Selection:   models.Selection{Kind: models.SelectText, LayerId: "layer1"},
	}
	saved := stubDraft(t, mockCache, draft)

	result, err := svc.SetEditedSlide(ctx, "stack1", 1)

	assert.NoError(t, err)
	assert.Equal(t, 1, result.EditedIndex)
	assert.Equal(t, models.SelectNone, result.Selection.Kind)
	assert.Equal(t, models.SelectNone, saved.Selection.Kind)
}

func TestAppendMedia_SlideLimit(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	full := make([]models.Slide, 50)
	for i := range full {
		full[i] = models.Slide{Id: string(rune('a' + i))}
	}
	draft := service.Draft{Stack: models.Stack{Id: "stack1", MediaItems: full}}
	stubDraft(t, mockCache, draft)

	_, err := svc.AppendMedia(ctx, "stack1", []models.ProviderItem{{Id: "overflow"}})

	assert.Error(t, err)
	assert.Equal(t, service.KindValidationError, service.KindOf(err))
}
