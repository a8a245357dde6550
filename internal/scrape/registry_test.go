package scrape

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

func TestSelectorListAcceptsScalarAndSequence(t *testing.T) {
	var m SelectorMap
	input := `
row: "table tbody tr"
title:
  - "td.title a"
  - "td:nth-child(2) a"
`
	if err := yaml.Unmarshal([]byte(input), &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(m[RoleRow]) != 1 || m[RoleRow][0] != "table tbody tr" {
		t.Errorf("scalar selector mis-parsed: %v", m[RoleRow])
	}
	if len(m[RoleTitle]) != 2 {
		t.Errorf("sequence selector mis-parsed: %v", m[RoleTitle])
	}

	if err := yaml.Unmarshal([]byte(`row: {bad: map}`), &m); err == nil {
		t.Error("expected error for mapping-typed selector")
	}
}

func TestSelectorMapFallbackOrder(t *testing.T) {
	html := `<div><span class="secondary">Fallback Title</span></div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}

	m := SelectorMap{
		RoleTitle: {"h1.primary", "span.secondary"},
	}
	if got := m.Text(doc.Selection, RoleTitle); got != "Fallback Title" {
		t.Errorf("expected fallback selector to match, got %q", got)
	}
	if got := m.Text(doc.Selection, RoleSummary); got != "" {
		t.Errorf("expected empty text for unconfigured role, got %q", got)
	}
}

func TestLoadRegistryEmbedded(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatalf("failed to load embedded registry: %v", err)
	}
	if len(reg.Sources) == 0 {
		t.Fatal("expected at least one configured source")
	}

	for _, src := range reg.Sources {
		if src.ID == "" || src.BaseURL == "" {
			t.Errorf("source missing id or base_url: %+v", src)
		}
		if !src.Selectors.Has(RoleRow) {
			t.Errorf("source %s has no row selector", src.ID)
		}
		if src.Adapter == AdapterBrowser && !src.Selectors.Has(RoleWaitFor) {
			t.Errorf("browser source %s has no wait_for selector", src.ID)
		}
	}

	if _, ok := reg.Get("metro-city-bids"); !ok {
		t.Error("expected metro-city-bids in the registry")
	}
	if _, ok := reg.Get("nonexistent"); ok {
		t.Error("expected lookup miss for unknown id")
	}
}

func TestValidateSourceConfig(t *testing.T) {
	valid := SourceConfig{
		ID:        "x",
		Adapter:   AdapterHTML,
		BaseURL:   "https://example.gov",
		Selectors: SelectorMap{RoleRow: {"tr"}},
	}
	if err := validateSourceConfig(valid); err != nil {
		t.Errorf("unexpected error for valid config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *SourceConfig)
	}{
		{"Missing id", func(c *SourceConfig) { c.ID = "" }},
		{"Missing base url", func(c *SourceConfig) { c.BaseURL = "" }},
		{"Unknown adapter kind", func(c *SourceConfig) { c.Adapter = "ftp" }},
		{"Missing row selector", func(c *SourceConfig) { c.Selectors = SelectorMap{} }},
		{"Browser without wait_for", func(c *SourceConfig) { c.Adapter = AdapterBrowser }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := validateSourceConfig(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
