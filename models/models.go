package models

import (
	"errors"
	"strings"
	"unicode/utf8"
)

type User struct {
	Id         string
	Username   string
	Provider   string
	ProviderId string
	Created    int64
	StackCount int
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// TextLayer is a draggable annotation rendered above the caption.
// Positions are percentages of the slide container, clamped to [2, 98].
type TextLayer struct {
	Id         string  `json:"id"`
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	FontSize   int     `json:"font_size"`
	FontFamily string  `json:"font_family"`
	Color      string  `json:"color"`
	Bold       bool    `json:"bold"`
	Rotation   float64 `json:"rotation"`
}

type StickerLayer struct {
	Id    string  `json:"id"`
	Glyph string  `json:"glyph"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Size  int     `json:"size"`
}

type Caption struct {
	Text     string  `json:"text"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	FontSize int     `json:"font_size"`
	Color    string  `json:"color"`
	Rotation float64 `json:"rotation"`
}

// Slide is a single entry in a stack's media sequence.
// ProviderItemId is set (and Synced true) when the media lives in the
// external photo provider; Url may then be a short-lived signed URL.
type Slide struct {
	Id             string         `json:"id"`
	Url            string         `json:"url"`
	Kind           MediaKind      `json:"kind"`
	Filename       string         `json:"filename"`
	Caption        Caption        `json:"caption"`
	TextLayers     []TextLayer    `json:"text_layers"`
	StickerLayers  []StickerLayer `json:"sticker_layers"`
	Duration       float64        `json:"duration,omitempty"`
	TrimStart      float64        `json:"trim_start,omitempty"`
	TrimEnd        float64        `json:"trim_end,omitempty"`
	FrameFit       string         `json:"frame_fit,omitempty"`
	ProviderItemId string         `json:"provider_item_id,omitempty"`
	Synced         bool           `json:"synced,omitempty"`
}

// Stack is the persisted aggregate handed to the store.
type Stack struct {
	Id           string   `json:"id"`
	OwnerId      string   `json:"owner_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Participants []string `json:"participants"`
	Hashtags     []string `json:"hashtags"`
	MusicUrl     string   `json:"music_url,omitempty"`
	MusicName    string   `json:"music_name,omitempty"`
	CoverUrl     string   `json:"cover_url"`
	MediaItems   []Slide  `json:"media_items"`
}

const maxStackTitleLength = 120

// ValidateForSave enforces the persistence eligibility rules: a
// non-empty title within bounds and at least one slide. Both the
// explicit save and the autosave flush run through this, so an
// ineligible stack can never reach the store.
func (s Stack) ValidateForSave() error {
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("stack title must not be empty")
	}
	if utf8.RuneCountInString(s.Title) > maxStackTitleLength {
		return errors.New("stack title too long")
	}
	if len(s.MediaItems) == 0 {
		return errors.New("stack must contain at least one slide")
	}
	return nil
}

// Aggregate returns the persistable form of a save-eligible stack: the
// cover is derived from the first slide and nil slices are normalized.
func (s Stack) Aggregate() Stack {
	out := s
	out.CoverUrl = out.MediaItems[0].Url
	if out.Participants == nil {
		out.Participants = []string{}
	}
	if out.Hashtags == nil {
		out.Hashtags = []string{}
	}
	return out
}

type SelectionKind int

const (
	SelectNone SelectionKind = iota
	SelectCaption
	SelectText
	SelectSticker
)

// Selection is the tagged variant for the single selected layer of the
// edited slide. LayerId is empty unless Kind is SelectText or SelectSticker.
type Selection struct {
	Kind    SelectionKind `json:"kind"`
	LayerId string        `json:"layer_id,omitempty"`
}

type SessionState string

const (
	SessionCreated        SessionState = "created"
	SessionWaitingForUser SessionState = "waiting_for_user"
	SessionPolling        SessionState = "polling"
	SessionItemsReady     SessionState = "items_ready"
	SessionError          SessionState = "error"
)

// PickerSession tracks one external-provider selection handshake.
// PageTokens is the stack of previously seen page tokens, newest last,
// so a client can page backward after ItemsReady without losing state.
type PickerSession struct {
	Id         string       `json:"id"`
	UserId     string       `json:"user_id"`
	PickerUri  string       `json:"picker_uri"`
	State      SessionState `json:"state"`
	ErrorKind  string       `json:"error_kind,omitempty"`
	PageTokens []string     `json:"page_tokens,omitempty"`
	NextToken  string       `json:"next_token,omitempty"`
	Created    int64        `json:"created"`
}

// ProviderItem is a media item as reported by the external provider.
type ProviderItem struct {
	Id       string
	BaseUrl  string
	Kind     MediaKind
	Filename string
}
