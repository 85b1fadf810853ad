package engine

import (
	"testing"

	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/errors"
)

func TestDecodeFacilitatorDecision(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    deliberation.Action
		wantErr bool
	}{
		{"bare json", `{"action":"vote","rationale":"done"}`, deliberation.ActionVote, false},
		{"wrapped in prose", "Here is my decision:\n```json\n{\"action\":\"continue\",\"target\":\"maria\"}\n```", deliberation.ActionContinue, false},
		{"moderate with variant", `{"action":"moderate","variant":"skeptic"}`, deliberation.ActionModerate, false},
		{"uppercase action", `{"action":"VOTE"}`, deliberation.ActionVote, false},
		{"research", `{"action":"research","rationale":"need numbers"}`, deliberation.ActionResearch, false},
		{"unknown action", `{"action":"escalate"}`, "", true},
		{"no json", "I think we should keep going.", "", true},
		{"truncated json", `{"action":"vote"`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFacilitatorDecision(tt.text)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrDecisionUnparseable) {
					t.Errorf("err = %v, want ErrDecisionUnparseable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFacilitatorDecision failed: %v", err)
			}
			if got.Action != tt.want {
				t.Errorf("Action = %s, want %s", got.Action, tt.want)
			}
		})
	}
}

func TestDecodeFacilitatorDecisionModeratorDefaults(t *testing.T) {
	got, err := DecodeFacilitatorDecision(`{"action":"moderate"}`)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Variant != deliberation.ModeratorContrarian {
		t.Errorf("Variant = %s, want contrarian default", got.Variant)
	}

	if _, err := DecodeFacilitatorDecision(`{"action":"moderate","variant":"devil"}`); err == nil {
		t.Error("unknown variant should be rejected")
	}
}

func TestDecodeVote(t *testing.T) {
	v, err := DecodeVote("maria", `{"decision":"conditional","confidence":0.7,"reasoning":"ok if indexed","conditions":["add index"]}`)
	if err != nil {
		t.Fatalf("DecodeVote failed: %v", err)
	}
	if v.PersonaCode != "maria" || v.Decision != deliberation.VoteConditional {
		t.Errorf("vote = %+v", v)
	}
	if len(v.Conditions) != 1 || v.Conditions[0] != "add index" {
		t.Errorf("Conditions = %v", v.Conditions)
	}
}

func TestDecodeVoteClampsConfidence(t *testing.T) {
	v, err := DecodeVote("maria", `{"decision":"yes","confidence":1.7}`)
	if err != nil {
		t.Fatal(err)
	}
	if v.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", v.Confidence)
	}

	v, _ = DecodeVote("maria", `{"decision":"no","confidence":-2}`)
	if v.Confidence != 0 {
		t.Errorf("Confidence = %v, want clamped to 0", v.Confidence)
	}
}

func TestDecodeVoteRejectsUnknownDecision(t *testing.T) {
	if _, err := DecodeVote("maria", `{"decision":"maybe"}`); !errors.Is(err, errors.ErrDecisionUnparseable) {
		t.Errorf("err = %v, want ErrDecisionUnparseable", err)
	}
}

func TestExtractJSONHandlesNestedBracesInStrings(t *testing.T) {
	raw, ok := extractJSON(`prefix {"action":"vote","rationale":"use {braces} literally"} suffix`)
	if !ok {
		t.Fatal("expected JSON object")
	}
	if raw != `{"action":"vote","rationale":"use {braces} literally"}` {
		t.Errorf("extracted = %q", raw)
	}
}
