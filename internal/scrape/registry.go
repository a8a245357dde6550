package scrape

import (
	"embed"
	"fmt"
	"os"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Logical selector roles. Adapter code references only these; the concrete
// CSS selectors live in per-source configuration, so a site's markup change
// is fixed by editing config, not adapter logic.
const (
	RoleRow         = "row"
	RoleTitle       = "title"
	RoleLink        = "link"
	RoleExternalID  = "external_id"
	RoleAgency      = "agency"
	RoleSummary     = "summary"
	RoleDueDate     = "due_date"
	RolePostedDate  = "posted_date"
	RoleAttachments = "attachments"
	RoleNext        = "next"
	RoleWaitFor     = "wait_for"
	RoleDescription = "description"
)

// SelectorList is one or more CSS selectors tried in order. YAML accepts
// either a scalar or a sequence.
type SelectorList []string

func (s *SelectorList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = SelectorList{single}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = SelectorList(list)
		return nil
	default:
		return fmt.Errorf("selector must be a string or a list of strings")
	}
}

// SelectorMap maps logical roles to selector candidates.
type SelectorMap map[string]SelectorList

// First returns the first candidate selector for role that matches inside s,
// or nil when none does.
func (m SelectorMap) First(s *goquery.Selection, role string) *goquery.Selection {
	for _, css := range m[role] {
		if found := s.Find(css); found.Length() > 0 {
			return found
		}
	}
	return nil
}

// Text extracts cleaned text for role, empty when no selector matches.
func (m SelectorMap) Text(s *goquery.Selection, role string) string {
	found := m.First(s, role)
	if found == nil {
		return ""
	}
	return normalizeSpace(found.First().Text())
}

// Attr extracts an attribute from the first matching selector for role.
func (m SelectorMap) Attr(s *goquery.Selection, role, attr string) string {
	found := m.First(s, role)
	if found == nil {
		return ""
	}
	v, _ := found.First().Attr(attr)
	return v
}

// Has reports whether any selector is configured for role.
func (m SelectorMap) Has(role string) bool { return len(m[role]) > 0 }

// AdapterKind selects the implementation flavor for a source.
type AdapterKind string

const (
	AdapterHTML    AdapterKind = "html"
	AdapterBrowser AdapterKind = "browser"
)

// FetchConfig holds per-source transport overrides.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`
	Concurrency    int     `yaml:"concurrency,omitempty"`
}

// PaginationConfig controls how an adapter walks listing pages. Sites signal
// "no more pages" inconsistently: some drop the next control entirely, some
// keep it but tag it with a disabled class. Both rules are configuration.
type PaginationConfig struct {
	DisabledClass string `yaml:"disabled_class,omitempty"`
}

// DetailConfig enables per-item detail-page enrichment.
type DetailConfig struct {
	Enabled     bool        `yaml:"enabled"`
	Selectors   SelectorMap `yaml:"selectors,omitempty"`
	ScanPDFs    bool        `yaml:"scan_pdfs,omitempty"`
	MaxAttempts int         `yaml:"max_attempts,omitempty"`
}

// SourceConfig is the externally supplied, immutable description of one
// portal. Adapters receive it at construction and never mutate it.
type SourceConfig struct {
	ID         string           `yaml:"id"`
	Name       string           `yaml:"name"`
	Adapter    AdapterKind      `yaml:"adapter"`
	BaseURL    string           `yaml:"base_url"`
	Agency     string           `yaml:"agency,omitempty"`
	MaxPages   int              `yaml:"max_pages,omitempty"`
	Selectors  SelectorMap      `yaml:"selectors"`
	Pagination PaginationConfig `yaml:"pagination,omitempty"`
	Detail     DetailConfig     `yaml:"detail,omitempty"`
	Fetch      FetchConfig      `yaml:"fetch,omitempty"`
	Active     *bool            `yaml:"active,omitempty"`
}

// IsActive defaults to true unless the registry disables the source.
func (c SourceConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

// Registry holds the full set of configured sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// Get returns the config for a source id.
func (r *Registry) Get(id string) (SourceConfig, bool) {
	for _, src := range r.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// LoadRegistry reads the embedded sources.yaml, falling back to the given
// path for local development. Environment variables inside the YAML are
// expanded before parsing.
func LoadRegistry(path string) (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("failed to parse source registry: %w", err)
	}

	for _, src := range reg.Sources {
		if err := validateSourceConfig(src); err != nil {
			return nil, err
		}
	}

	return &reg, nil
}

func validateSourceConfig(src SourceConfig) error {
	if src.ID == "" {
		return fmt.Errorf("source registry entry missing id")
	}
	if src.BaseURL == "" {
		return fmt.Errorf("source %s: missing base_url", src.ID)
	}
	switch src.Adapter {
	case AdapterHTML, AdapterBrowser:
	default:
		return fmt.Errorf("source %s: unknown adapter kind %q", src.ID, src.Adapter)
	}
	if !src.Selectors.Has(RoleRow) {
		return fmt.Errorf("source %s: selector role %q is required", src.ID, RoleRow)
	}
	if src.Adapter == AdapterBrowser && !src.Selectors.Has(RoleWaitFor) {
		return fmt.Errorf("source %s: browser sources require a %q selector", src.ID, RoleWaitFor)
	}
	return nil
}
