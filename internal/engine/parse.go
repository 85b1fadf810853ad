package engine

import (
	"encoding/json"
	"strings"

	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/errors"
)

// extractJSON returns the first balanced JSON object in text. Providers
// are asked for bare JSON but often wrap it in prose or fences; routing
// must not fall over on that.
func extractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeFacilitatorDecision parses a facilitator response into a
// validated decision. Unknown actions and malformed payloads return
// ErrDecisionUnparseable; the round executor converts that into a
// degraded continue, never a crash.
func DecodeFacilitatorDecision(text string) (deliberation.FacilitatorDecision, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return deliberation.FacilitatorDecision{},
			errors.Wrap(errors.ErrDecisionUnparseable, "no JSON object in response")
	}

	var payload struct {
		Action    string `json:"action"`
		Target    string `json:"target"`
		Variant   string `json:"variant"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return deliberation.FacilitatorDecision{},
			errors.Wrap(errors.ErrDecisionUnparseable, err.Error())
	}

	action, err := deliberation.ParseAction(strings.ToLower(strings.TrimSpace(payload.Action)))
	if err != nil {
		return deliberation.FacilitatorDecision{},
			errors.Wrap(errors.ErrDecisionUnparseable, err.Error())
	}

	decision := deliberation.FacilitatorDecision{
		Action:    action,
		Target:    strings.TrimSpace(payload.Target),
		Rationale: payload.Rationale,
	}
	if action == deliberation.ActionModerate {
		variant := deliberation.ModeratorVariant(strings.ToLower(strings.TrimSpace(payload.Variant)))
		switch variant {
		case deliberation.ModeratorContrarian, deliberation.ModeratorSkeptic, deliberation.ModeratorOptimist:
			decision.Variant = variant
		case "":
			decision.Variant = deliberation.ModeratorContrarian
		default:
			return deliberation.FacilitatorDecision{},
				errors.Wrapf(errors.ErrDecisionUnparseable, "unknown moderator variant %q", payload.Variant)
		}
	}
	return decision, nil
}

// DecodeVote parses a voter response for the given persona.
func DecodeVote(personaCode, text string) (deliberation.Vote, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return deliberation.Vote{}, errors.Wrap(errors.ErrDecisionUnparseable, "no JSON object in vote")
	}

	var payload struct {
		Decision   string   `json:"decision"`
		Confidence float64  `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
		Conditions []string `json:"conditions"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return deliberation.Vote{}, errors.Wrap(errors.ErrDecisionUnparseable, err.Error())
	}

	decision, err := deliberation.ParseVoteDecision(strings.ToLower(strings.TrimSpace(payload.Decision)))
	if err != nil {
		return deliberation.Vote{}, errors.Wrap(errors.ErrDecisionUnparseable, err.Error())
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return deliberation.Vote{
		PersonaCode: personaCode,
		Decision:    decision,
		Confidence:  confidence,
		Reasoning:   payload.Reasoning,
		Conditions:  payload.Conditions,
	}, nil
}
