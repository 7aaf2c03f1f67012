package service

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// Positions never reach the container edge so a layer's anchor point
	// always stays visibly inside the slide.
	minPct = 2.0
	maxPct = 98.0

	minFontSize = 8
	maxFontSize = 120

	minStickerSize = 16
	maxStickerSize = 256

	maxTextLength = 500
	maxSlides     = 50
)

var hexColorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// clampPct forces a percentage coordinate into [2, 98].
func clampPct(v float64) float64 {
	if v < minPct {
		return minPct
	}
	if v > maxPct {
		return maxPct
	}
	return v
}

func clampFontSize(size int) int {
	if size < minFontSize {
		return minFontSize
	}
	if size > maxFontSize {
		return maxFontSize
	}
	return size
}

func clampStickerSize(size int) int {
	if size < minStickerSize {
		return minStickerSize
	}
	if size > maxStickerSize {
		return maxStickerSize
	}
	return size
}

func validColor(color string) bool {
	return hexColorRegex.MatchString(color)
}

func validLayerText(text string) bool {
	return utf8.ValidString(text) && utf8.RuneCountInString(text) <= maxTextLength
}

// validGlyph accepts short sticker glyphs (an emoji is 1-4 runes once
// modifiers and joiners are counted).
func validGlyph(glyph string) bool {
	n := utf8.RuneCountInString(glyph)
	return utf8.ValidString(glyph) && n >= 1 && n <= 8
}

// ValidateChannelKey accepts the pub/sub channels clients may subscribe
// to: a stack's edit channel or a picker session's state channel.
func ValidateChannelKey(channelKey string) error {
	name, ok := strings.CutPrefix(channelKey, "stack:")
	if !ok {
		name, ok = strings.CutPrefix(channelKey, "picker:")
	}
	if !ok || name == "" || len(name) > 128 {
		return NewError(KindValidationError, "invalid channel key", nil)
	}
	for _, r := range name {
		if r == '{' || r == '}' || r == ' ' || r == '\n' {
			return NewError(KindValidationError, "invalid channel key", nil)
		}
	}
	return nil
}
