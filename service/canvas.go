package service

import (
	"errors"
	"fmt"

	"github.com/zlnvch/storystack/models"
)

type DragKind string

const (
	DragText    DragKind = "text"
	DragSticker DragKind = "sticker"
	DragCaption DragKind = "caption"
)

// DragSession is one exclusive drag: the dragged entity, its percentage
// origin and the container's pixel dimensions at drag start.
type DragSession struct {
	EntityId   string
	Kind       DragKind
	OriginX    float64
	OriginY    float64
	ContainerW float64
	ContainerH float64
}

// DragEngine converts pointer pixel deltas into clamped percentage
// positions. Each websocket connection owns one engine, which makes the
// drag exclusive per input device: a second Begin before End is rejected,
// never silently replaced.
type DragEngine struct {
	active *DragSession
}

func NewDragEngine() *DragEngine {
	return &DragEngine{}
}

var ErrDragActive = errors.New("a drag is already active on this connection")

func (e *DragEngine) Begin(entityId string, kind DragKind, originX float64, originY float64, containerW float64, containerH float64) error {
	if e.active != nil {
		return ErrDragActive
	}
	if containerW <= 0 || containerH <= 0 {
		return fmt.Errorf("invalid container dimensions %gx%g", containerW, containerH)
	}

	e.active = &DragSession{
		EntityId:   entityId,
		Kind:       kind,
		OriginX:    clampPct(originX),
		OriginY:    clampPct(originY),
		ContainerW: containerW,
		ContainerH: containerH,
	}
	return nil
}

// Move applies cumulative pixel deltas measured from the pointer's start
// position and returns the resulting percentage position. Deltas of any
// magnitude are accepted; the result is always within [2, 98].
func (e *DragEngine) Move(deltaXPx float64, deltaYPx float64) (float64, float64, error) {
	if e.active == nil {
		return 0, 0, errors.New("no active drag")
	}

	x := clampPct(e.active.OriginX + deltaXPx/e.active.ContainerW*100)
	y := clampPct(e.active.OriginY + deltaYPx/e.active.ContainerH*100)
	return x, y, nil
}

// End releases the drag and returns the session so the caller can commit
// the final position. End with no active drag is a no-op.
func (e *DragEngine) End() (DragSession, bool) {
	if e.active == nil {
		return DragSession{}, false
	}
	session := *e.active
	e.active = nil
	return session, true
}

// Active returns the in-flight session, if any.
func (e *DragEngine) Active() (DragSession, bool) {
	if e.active == nil {
		return DragSession{}, false
	}
	return *e.active, true
}

// selectionFor maps a drag kind to the selection variant it implies.
func selectionFor(kind DragKind, entityId string) models.Selection {
	switch kind {
	case DragText:
		return models.Selection{Kind: models.SelectText, LayerId: entityId}
	case DragSticker:
		return models.Selection{Kind: models.SelectSticker, LayerId: entityId}
	case DragCaption:
		return models.Selection{Kind: models.SelectCaption}
	}
	return models.Selection{Kind: models.SelectNone}
}
