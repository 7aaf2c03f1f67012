package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/zlnvch/storystack/cache"
	"github.com/zlnvch/storystack/models"
	"github.com/zlnvch/storystack/store"
)

// DraftSave marks a stack draft dirty. IsNew is set on the first save of
// a stack so the owner's stack counter is incremented exactly once.
type DraftSave struct {
	StackId        string
	UserProvider   string
	UserProviderId string
	IsNew          bool
}

type DiscardDraftRequest struct {
	StackId string
}

// draftEnvelope is the slice of the cached draft shape the batcher needs.
// The full editing state lives in the service layer; only the aggregate
// is flushed to the store.
type draftEnvelope struct {
	Stack models.Stack `json:"stack"`
	Saved bool         `json:"saved"`
}

// markDraftSaved flips the cached draft's saved flag in place. The raw
// map round-trip keeps every other field of the envelope intact.
func markDraftSaved(draftBytes []byte) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(draftBytes, &raw); err != nil {
		return nil, err
	}
	raw["saved"] = json.RawMessage("true")
	return json.Marshal(raw)
}

// AutosaveBatcher coalesces high-frequency edit commits (drag ends, layer
// patches, trims, reorders) into periodic full-aggregate writes. Saves
// are keyed by stack id, so a burst of edits to one stack costs a single
// store write per flush window. DiscardCh removes a *pending* save before
// it is flushed, effectively cancelling the write.
type AutosaveBatcher struct {
	SaveCh             chan DraftSave
	DiscardCh          chan DiscardDraftRequest
	stackStore         store.StackStore
	stackCache         cache.StackCache
	tickerMilliseconds int
}

func NewAutosaveBatcher(stackStore store.StackStore, stackCache cache.StackCache, tickerMilliseconds int) *AutosaveBatcher {
	return &AutosaveBatcher{
		SaveCh:             make(chan DraftSave, 1024), // buffer to absorb edit bursts
		DiscardCh:          make(chan DiscardDraftRequest, 256),
		stackStore:         stackStore,
		stackCache:         stackCache,
		tickerMilliseconds: tickerMilliseconds,
	}
}

func (b *AutosaveBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	dirty := make(map[string]DraftSave)

	flush := func() {
		if len(dirty) == 0 {
			return
		}
		// Fresh context so the shutdown-triggered flush still completes
		// after shutdownCtx is done.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for stackId, save := range dirty {
			draftBytes, err := b.stackCache.GetDraft(ctx, stackId)
			if err != nil {
				// Draft evicted or discarded between mark and flush
				log.Printf("Autosave skipped for stack %s: %v", stackId, err)
				continue
			}

			var draft draftEnvelope
			if err := json.Unmarshal(draftBytes, &draft); err != nil {
				log.Printf("Autosave failed to decode draft for stack %s: %v", stackId, err)
				continue
			}
			if draft.Stack.Id == "" {
				continue
			}

			// Same eligibility gate as the explicit save: an ineligible
			// draft stays cached until it earns a title and a slide.
			if err := draft.Stack.ValidateForSave(); err != nil {
				continue
			}

			if err := b.stackStore.SaveStack(ctx, draft.Stack.Aggregate()); err != nil {
				log.Printf("Autosave failed to write stack %s: %v", stackId, err)
				continue
			}

			// The cached saved flag is the source of truth for the first
			// persisted write, so the counter moves once per stack, not
			// once per flush window.
			if save.IsNew && !draft.Saved {
				if err := b.stackStore.IncrementUserStackCount(ctx, save.UserProvider, save.UserProviderId, 1); err != nil {
					log.Printf("Failed to update stack count for user %s#%s: %v", save.UserProvider, save.UserProviderId, err)
				} else if savedBytes, err := markDraftSaved(draftBytes); err == nil {
					if err := b.stackCache.PutDraft(ctx, stackId, savedBytes); err != nil {
						log.Printf("Failed to mark draft %s saved: %v", stackId, err)
					}
				}
			}
		}

		dirty = make(map[string]DraftSave)
	}

	for {
		select {
		case save := <-b.SaveCh:
			if prev, ok := dirty[save.StackId]; ok {
				// Keep IsNew from the first mark in this window
				save.IsNew = save.IsNew || prev.IsNew
			}
			dirty[save.StackId] = save
			if len(dirty) >= 100 {
				flush()
			}

		case discard := <-b.DiscardCh:
			delete(dirty, discard.StackId)

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
