package relay

import (
	"encoding/json"
	"strings"
	"time"

	"callscribe/internal/domain"
)

// defaultSpeaker labels fragments whose envelope carries no participant name.
const defaultSpeaker = "Speaker"

// envelope is the wire shape of a relay message. Only messages carrying a
// non-empty words list under data.data are transcript-bearing; everything
// else (log lines, status metadata) is discarded.
type envelope struct {
	Bot struct {
		ID string `json:"id"`
	} `json:"bot"`
	Data struct {
		Data struct {
			Words []struct {
				Text string `json:"text"`
			} `json:"words"`
			Participant struct {
				Name string `json:"name"`
			} `json:"participant"`
			IsFinal bool `json:"is_final"`
		} `json:"data"`
	} `json:"data"`
}

// decodeFragment reduces a raw relay payload to a transcript fragment.
// Returns false for malformed payloads, non-transcript envelopes, and
// envelopes filtered out by bot id.
func decodeFragment(payload []byte, filterBotID string, burstMode bool) (domain.TranscriptFragment, bool) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.TranscriptFragment{}, false
	}
	if len(env.Data.Data.Words) == 0 {
		return domain.TranscriptFragment{}, false
	}
	if filterBotID != "" && env.Bot.ID != filterBotID {
		return domain.TranscriptFragment{}, false
	}

	parts := make([]string, 0, len(env.Data.Data.Words))
	for _, word := range env.Data.Data.Words {
		if trimmed := strings.TrimSpace(word.Text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return domain.TranscriptFragment{}, false
	}

	speaker := strings.TrimSpace(env.Data.Data.Participant.Name)
	if speaker == "" {
		speaker = defaultSpeaker
	}

	return domain.TranscriptFragment{
		SpeakerLabel: speaker,
		Text:         strings.Join(parts, " "),
		ReceivedAt:   time.Now(),
		IsFinal:      env.Data.Data.IsFinal || !burstMode,
		SourceBotID:  env.Bot.ID,
	}, true
}
