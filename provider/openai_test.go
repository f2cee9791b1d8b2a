package provider

import (
	"errors"
	"testing"
)

func TestParseConceptPayload(t *testing.T) {
	payload, err := parseConceptPayload(`{"concept": "Die Hard", "explanation": "A cop crashes a Christmas party."}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Concept != "Die Hard" {
		t.Errorf("concept = %q, want %q", payload.Concept, "Die Hard")
	}
}

func TestParseConceptPayloadStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"concept\": \"Jaws\", \"explanation\": \"Don't go in the water.\"}\n```"
	payload, err := parseConceptPayload(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Concept != "Jaws" {
		t.Errorf("concept = %q, want %q", payload.Concept, "Jaws")
	}
}

func TestParseConceptPayloadRejectsInvalid(t *testing.T) {
	cases := []string{
		"",
		"not json at all",
		`{"concept": "", "explanation": "x"}`,
		`{"concept": "Heat"}`,
		`{"explanation": "missing concept"}`,
	}
	for _, raw := range cases {
		if _, err := parseConceptPayload(raw); !errors.Is(err, ErrInvalidContent) {
			t.Errorf("parseConceptPayload(%q) err = %v, want ErrInvalidContent", raw, err)
		}
	}
}
