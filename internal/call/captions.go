package call

import (
	"regexp"
	"strings"
)

// TranslationUnavailable replaces a translation that could not be fetched.
const TranslationUnavailable = "translation unavailable"

// CaptionKind says what a caption shows.
type CaptionKind int

const (
	// CaptionPartial is interim user speech. It is replaced by the next caption.
	CaptionPartial CaptionKind = iota
	CaptionUser
	CaptionAssistant
	CaptionTranslation
)

func (k CaptionKind) String() string {
	switch k {
	case CaptionPartial:
		return "partial"
	case CaptionUser:
		return "user"
	case CaptionAssistant:
		return "assistant"
	case CaptionTranslation:
		return "translation"
	default:
		return "unknown"
	}
}

// Caption is one line for the live caption display.
type Caption struct {
	Kind CaptionKind
	Text string
	// Turn is the user turn number the caption belongs to.
	Turn int
}

var toneDirection = regexp.MustCompile(`\*[^*]+\*\s*`)

// CleanCaption strips *tone directions* the model adds to its replies.
func CleanCaption(text string) string {
	return strings.TrimSpace(toneDirection.ReplaceAllString(text, ""))
}
