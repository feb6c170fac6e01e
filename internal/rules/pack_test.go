package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPackMissingFileStartsEmpty(t *testing.T) {
	e := testEngine()
	if err := e.LoadPack(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing pack must not be an error: %v", err)
	}
	if got := len(e.List()); got != 0 {
		t.Fatalf("expected no workflows, got %d", got)
	}
}

func TestLoadPackRegistersWorkflows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	pack := `workflows:
  - id: escalation
    name: Critical Signal Escalation
    conditions:
      - field: strength
        op: gt
        value: 80
      - field: confidence
        op: gt
        value: 85
    actions:
      - type: alert
        severity: critical
    cooldown: 6h
  - id: sentiment
    name: Rising Negative Sentiment
    conditions:
      - field: trend
        op: eq
        values: [rising]
      - field: sentiment
        op: lt
        value: -0.5
    actions:
      - type: notify
        target: "#signal-review"
`
	if err := os.WriteFile(path, []byte(pack), 0o600); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	e := testEngine()
	if err := e.LoadPack(path); err != nil {
		t.Fatalf("load pack: %v", err)
	}

	views := e.List()
	if len(views) != 2 {
		t.Fatalf("expected 2 workflows, got %d", len(views))
	}
	for _, view := range views {
		if view.Status != "active" {
			t.Fatalf("loaded workflow %s must default to active, got %s", view.ID, view.Status)
		}
	}
}

func TestLoadPackRejectsInvalidDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	pack := `workflows:
  - id: broken
    name: Broken
    conditions:
      - field: momentum
        op: gt
        value: 1
    actions:
      - type: alert
`
	if err := os.WriteFile(path, []byte(pack), 0o600); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	e := testEngine()
	if err := e.LoadPack(path); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got %v", err)
	}
}
