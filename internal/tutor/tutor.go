// Package tutor holds the AI tutor persona settings shared by the responder,
// the voice selection and the session store.
package tutor

import "strings"

// Settings is the persona chosen for a call.
type Settings struct {
	Accent string `yaml:"accent" json:"accent"`
	Gender string `yaml:"gender" json:"gender"`
	Level  string `yaml:"level" json:"level"`
	Topic  string `yaml:"topic" json:"topic"`
	Style  string `yaml:"style" json:"conversationStyle"`
	Speed  string `yaml:"speed" json:"speed"`
}

// Defaults is an American female teacher at intermediate level.
func Defaults() Settings {
	return Settings{
		Accent: "us",
		Gender: "female",
		Level:  "intermediate",
		Topic:  "business",
		Style:  "teacher",
		Speed:  "normal",
	}
}

// Normalize lowercases every field and fills empty ones from Defaults.
func (s Settings) Normalize() Settings {
	d := Defaults()
	fill := func(v, def string) string {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			return def
		}
		return v
	}
	return Settings{
		Accent: fill(s.Accent, d.Accent),
		Gender: fill(s.Gender, d.Gender),
		Level:  fill(s.Level, d.Level),
		Topic:  fill(s.Topic, d.Topic),
		Style:  fill(s.Style, d.Style),
		Speed:  fill(s.Speed, d.Speed),
	}
}

// Name is the tutor's display name.
func (s Settings) Name() string {
	if s.Normalize().Gender == "male" {
		return "James"
	}
	return "Gwen"
}

// SpeedRate maps the speed setting to a playback rate.
func (s Settings) SpeedRate() float64 {
	switch s.Normalize().Speed {
	case "slow":
		return 0.8
	case "fast":
		return 1.2
	default:
		return 1.0
	}
}

var accents = map[string]string{
	"us": "American English",
	"uk": "British English",
	"au": "Australian English",
	"in": "Indian English",
}

var levels = map[string]string{
	"beginner":     "Beginner (use simple words and short sentences)",
	"intermediate": "Intermediate (normal conversation level)",
	"advanced":     "Advanced (use complex vocabulary and idioms)",
}

var topics = map[string]string{
	"business":  "Business and workplace situations",
	"daily":     "Daily life and casual conversation",
	"travel":    "Travel and tourism",
	"interview": "Job interviews and professional settings",
}

var styles = map[string]string{
	"teacher": "You are a patient and encouraging English tutor. Gently correct mistakes when appropriate and provide helpful tips.",
	"friend":  "You are a close friend having a casual chat. Use informal language, be playful, and share relatable experiences.",
	"lover":   `You are a loving and caring partner. Be affectionate, use sweet nicknames occasionally (like "sweetie", "honey", "dear"), show genuine interest in their day, and be supportive and encouraging. Express warmth and care in your responses while still helping them practice English.`,
}

// AccentName describes the accent, defaulting to American English.
func (s Settings) AccentName() string {
	if v, ok := accents[s.Normalize().Accent]; ok {
		return v
	}
	return accents["us"]
}

// LevelDescription describes the learner level.
func (s Settings) LevelDescription() string {
	if v, ok := levels[s.Normalize().Level]; ok {
		return v
	}
	return "Intermediate"
}

// TopicDescription describes the conversation topic.
func (s Settings) TopicDescription() string {
	if v, ok := topics[s.Normalize().Topic]; ok {
		return v
	}
	return "Business"
}

// StylePrompt is the persona instruction for the conversation style.
func (s Settings) StylePrompt() string {
	if v, ok := styles[s.Normalize().Style]; ok {
		return v
	}
	return styles["teacher"]
}
