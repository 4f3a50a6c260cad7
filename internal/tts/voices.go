package tts

import "github.com/keshucs12345/voicecall/internal/tutor"

const (
	VendorOpenAI   = "openai"
	VendorDeepgram = "deepgram"
	VendorLocal    = "local"
)

type voiceTable struct {
	byAccent map[string]map[string]string // accent -> gender -> voice
	lover    map[string]string            // gender -> voice
	fallback map[string]string            // gender -> voice for accents the table lacks
}

func (t voiceTable) pick(s tutor.Settings) string {
	s = s.Normalize()
	if s.Style == "lover" {
		if v, ok := t.lover[s.Gender]; ok {
			return v
		}
	}
	if g, ok := t.byAccent[s.Accent]; ok {
		if v, ok := g[s.Gender]; ok {
			return v
		}
	}
	if v, ok := t.fallback[s.Gender]; ok {
		return v
	}
	return t.fallback["female"]
}

var voiceTables = map[string]voiceTable{
	VendorOpenAI: {
		byAccent: map[string]map[string]string{
			"us": {"female": "nova", "male": "onyx"},
			"uk": {"female": "shimmer", "male": "fable"},
			"au": {"female": "nova", "male": "onyx"},
			"in": {"female": "nova", "male": "onyx"},
		},
		lover:    map[string]string{"female": "shimmer", "male": "echo"},
		fallback: map[string]string{"female": "nova", "male": "onyx"},
	},
	VendorDeepgram: {
		byAccent: map[string]map[string]string{
			"us": {"female": "aura-asteria-en", "male": "aura-orion-en"},
			"uk": {"female": "aura-athena-en", "male": "aura-helios-en"},
			"au": {"female": "aura-asteria-en", "male": "aura-orion-en"},
			"in": {"female": "aura-asteria-en", "male": "aura-orion-en"},
		},
		lover:    map[string]string{"female": "aura-luna-en", "male": "aura-orpheus-en"},
		fallback: map[string]string{"female": "aura-asteria-en", "male": "aura-orion-en"},
	},
	VendorLocal: {
		byAccent: map[string]map[string]string{
			"us": {"female": "en-us+f3", "male": "en-us+m3"},
			"uk": {"female": "en-gb+f3", "male": "en-gb+m3"},
		},
		// espeak has no Australian or Indian English voice
		fallback: map[string]string{"female": "en-us+f3", "male": "en-us+m3"},
	},
}

// VoiceFor picks the vendor voice for a tutor persona. Unknown vendors get the
// local voice table.
func VoiceFor(vendor string, s tutor.Settings) Voice {
	t, ok := voiceTables[vendor]
	if !ok {
		t = voiceTables[VendorLocal]
	}
	return Voice{Name: t.pick(s), Speed: s.SpeedRate()}
}
