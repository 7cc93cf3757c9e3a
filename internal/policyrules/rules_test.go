package policyrules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRulesFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFileAndMatchFirstWins(t *testing.T) {
	path := writeRulesFile(t, `
- name: allow-internal-tool
  expression: 'host == "tool.internal.example.com"'
  description: internal tooling host
- name: allow-any-health-check
  expression: 'path == "/healthz"'
`)

	rules, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}

	name, ok := Match(rules, Request{Host: "tool.internal.example.com", Path: "/anything"})
	if !ok || name != "allow-internal-tool" {
		t.Fatalf("expected allow-internal-tool to match, got %q ok=%v", name, ok)
	}

	name, ok = Match(rules, Request{Host: "other.example.com", Path: "/healthz"})
	if !ok || name != "allow-any-health-check" {
		t.Fatalf("expected allow-any-health-check to match, got %q ok=%v", name, ok)
	}
}

func TestMatchNoRuleMatches(t *testing.T) {
	path := writeRulesFile(t, `
- name: never
  expression: 'host == "nowhere.example.com"'
`)
	rules, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	_, ok := Match(rules, Request{Host: "somewhere.example.com"})
	if ok {
		t.Fatal("expected no rule to match")
	}
}

func TestLoadFileRejectsNonBoolExpression(t *testing.T) {
	path := writeRulesFile(t, `
- name: bad
  expression: 'host + client_ip'
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for a non-bool expression")
	}
}

func TestLoadFileRejectsMissingName(t *testing.T) {
	path := writeRulesFile(t, `
- expression: 'host == "a"'
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for missing rule name")
	}
}

func TestLoadFileRejectsCompileError(t *testing.T) {
	path := writeRulesFile(t, `
- name: broken
  expression: 'host =='
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for a malformed expression")
	}
}
