// Package config loads and validates the YAML rule configuration.
//
// The file has three top-level sections:
//
//	config:          engine settings (kml files, timezone, expiry...)
//	aircraft_lists:  named sets of exact aircraft identifiers
//	rules:           ordered mapping of rule name -> conditions/actions
//
// Rule declaration order is observable (rules fire in order), so the
// rules section is decoded through yaml.Node rather than into a Go
// map. Unknown condition or action keys are startup errors, never
// silent no-ops. If the same condition or action key appears twice in
// one rule, the last declaration wins.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the parsed configuration file.
type Config struct {
	// Engine holds the "config:" block.
	Engine EngineConfig

	// AircraftLists maps list name -> exact identifiers.
	AircraftLists map[string][]string

	// Rules in declaration order.
	Rules []*Rule
}

// EngineConfig is the "config:" block.
type EngineConfig struct {
	// KMLs are the ordered region files.
	KMLs []string `yaml:"kmls"`

	// Timezone is the IANA zone used by min_time/max_time.
	// Empty means UTC, with a startup warning.
	Timezone string `yaml:"timezone"`

	// ExpireSecs is the flight expiry window in seconds of stream
	// time (default 600).
	ExpireSecs float64 `yaml:"expire_secs"`

	// GridIndex enables the 1-degree spatial grid for latlongring
	// rules. Purely an acceleration; results are identical either way.
	GridIndex bool `yaml:"grid_index"`

	// Webhooks configures the outbound transports.
	Webhooks WebhookConfig `yaml:"webhooks"`

	// PostgresDSN, if set, enables the rule-event archive.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// WebhookConfig holds credentials for the built-in transports.
// Secrets can be left out of the file and supplied via environment
// variables (RULESCOPE_SLACK_WEBHOOK_URL, RULESCOPE_PAGE_PASSWORD...).
type WebhookConfig struct {
	SlackURL       string            `yaml:"slack_url"`
	PageURL        string            `yaml:"page_url"`
	PageUser       string            `yaml:"page_user"`
	PagePassword   string            `yaml:"page_password"`
	PageRecipients map[string]string `yaml:"page_recipients"`
}

// Rule is one named rule with its parsed conditions and actions.
type Rule struct {
	Name       string
	Conditions Conditions
	Actions    Actions
}

// Conditions is the AND-ed condition set of one rule. Pointer fields
// distinguish "absent" from zero values. An empty Conditions matches
// unconditionally.
type Conditions struct {
	MinAlt                 *float64
	MaxAlt                 *float64
	AircraftList           *string
	ExcludeAircraftList    *string
	ExcludeAircraftSubstrs []string

	// Regions with RegionsSet true and an empty slice is the literal
	// [] form, which matches only flights in no region of any file.
	Regions    []string
	RegionsSet bool

	// TransitionFrom/To; "" means "none" (outside every region of the
	// file).
	TransitionFrom string
	TransitionTo   string
	TransitionSet  bool

	ChangedRegions   *bool
	LatLongRing      []float64 // [radius_nm, lat, lon]
	Proximity        []float64 // [alt_sep_ft, lateral_sep_nm]
	CooldownMinutes  *int      // per-rule-per-flight
	RuleCooldownMins *int      // per-rule, across all flights
	HasAttr          *string
	MinTime          *int // HHMM
	MaxTime          *int // HHMM
}

// Actions is the action set of one rule; at most one of each kind.
// Order lists the action kinds in effective declaration order: when a
// kind is declared twice the later declaration wins and the kind
// fires at its later position.
type Actions struct {
	Order []string

	Callback       *string
	ExpireCallback *string
	Print          bool

	// NoteSet distinguishes "note:" absent from "note: null"
	// (the clear sentinel, Note == nil).
	Note    *string
	NoteSet bool

	Track   bool
	Webhook []string // [kind, target]
	Shell   *string
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration bytes. Split out from Load for tests and
// for callers that assemble YAML programmatically.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty config")
	}

	cfg := &Config{AircraftLists: map[string][]string{}}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config root must be a mapping")
	}

	for i := 0; i < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "config":
			if err := val.Decode(&cfg.Engine); err != nil {
				return nil, fmt.Errorf("config block: %w", err)
			}
		case "aircraft_lists":
			if err := val.Decode(&cfg.AircraftLists); err != nil {
				return nil, fmt.Errorf("aircraft_lists: %w", err)
			}
		case "rules":
			rules, err := parseRules(val)
			if err != nil {
				return nil, err
			}
			cfg.Rules = rules
		default:
			return nil, fmt.Errorf("unknown top-level key %q (line %d)", key.Value, key.Line)
		}
	}

	if cfg.Engine.ExpireSecs == 0 {
		cfg.Engine.ExpireSecs = 600
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironmentOverrides lets secrets live outside the config file.
func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("RULESCOPE_SLACK_WEBHOOK_URL"); v != "" {
		c.Engine.Webhooks.SlackURL = v
	}
	if v := os.Getenv("RULESCOPE_PAGE_URL"); v != "" {
		c.Engine.Webhooks.PageURL = v
	}
	if v := os.Getenv("RULESCOPE_PAGE_USER"); v != "" {
		c.Engine.Webhooks.PageUser = v
	}
	if v := os.Getenv("RULESCOPE_PAGE_PASSWORD"); v != "" {
		c.Engine.Webhooks.PagePassword = v
	}
	if v := os.Getenv("RULESCOPE_POSTGRES_DSN"); v != "" {
		c.Engine.PostgresDSN = v
	}
}

func parseRules(node *yaml.Node) ([]*Rule, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("rules must be a mapping (line %d)", node.Line)
	}

	var rules []*Rule
	seen := map[string]bool{}
	for i := 0; i < len(node.Content); i += 2 {
		nameNode, body := node.Content[i], node.Content[i+1]
		name := nameNode.Value
		if seen[name] {
			return nil, fmt.Errorf("duplicate rule name %q (line %d)", name, nameNode.Line)
		}
		seen[name] = true

		r := &Rule{Name: name}
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("rule %q must be a mapping", name)
		}
		for j := 0; j < len(body.Content); j += 2 {
			key, val := body.Content[j], body.Content[j+1]
			switch key.Value {
			case "conditions":
				if err := parseConditions(val, &r.Conditions); err != nil {
					return nil, fmt.Errorf("rule %q: %w", name, err)
				}
			case "actions":
				if err := parseActions(val, &r.Actions); err != nil {
					return nil, fmt.Errorf("rule %q: %w", name, err)
				}
			default:
				return nil, fmt.Errorf("rule %q: unknown key %q", name, key.Value)
			}
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseConditions(node *yaml.Node, c *Conditions) error {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil // absent/empty conditions match unconditionally
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("conditions must be a mapping (line %d)", node.Line)
	}

	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var err error
		switch key.Value {
		case "min_alt":
			c.MinAlt = new(float64)
			err = val.Decode(c.MinAlt)
		case "max_alt":
			c.MaxAlt = new(float64)
			err = val.Decode(c.MaxAlt)
		case "aircraft_list":
			c.AircraftList = new(string)
			err = val.Decode(c.AircraftList)
		case "exclude_aircraft_list":
			c.ExcludeAircraftList = new(string)
			err = val.Decode(c.ExcludeAircraftList)
		case "exclude_aircraft_substrs":
			c.ExcludeAircraftSubstrs = nil
			err = val.Decode(&c.ExcludeAircraftSubstrs)
		case "regions":
			c.RegionsSet = true
			c.Regions = []string{}
			err = val.Decode(&c.Regions)
		case "transition_regions":
			var pair []*string
			if err = val.Decode(&pair); err == nil {
				if len(pair) != 2 {
					err = fmt.Errorf("needs [from, to], got %d entries", len(pair))
					break
				}
				c.TransitionSet = true
				c.TransitionFrom, c.TransitionTo = "", ""
				if pair[0] != nil {
					c.TransitionFrom = *pair[0]
				}
				if pair[1] != nil {
					c.TransitionTo = *pair[1]
				}
			}
		case "changed_regions":
			c.ChangedRegions = new(bool)
			err = val.Decode(c.ChangedRegions)
		case "latlongring":
			c.LatLongRing = nil
			if err = val.Decode(&c.LatLongRing); err == nil && len(c.LatLongRing) != 3 {
				err = fmt.Errorf("needs [nm, lat, lon], got %d entries", len(c.LatLongRing))
			}
		case "proximity":
			c.Proximity = nil
			if err = val.Decode(&c.Proximity); err == nil && len(c.Proximity) != 2 {
				err = fmt.Errorf("needs [alt_ft, nm], got %d entries", len(c.Proximity))
			}
		case "cooldown":
			c.CooldownMinutes = new(int)
			err = val.Decode(c.CooldownMinutes)
		case "rule_cooldown":
			c.RuleCooldownMins = new(int)
			err = val.Decode(c.RuleCooldownMins)
		case "has_attr":
			c.HasAttr = new(string)
			err = val.Decode(c.HasAttr)
		case "min_time":
			c.MinTime = new(int)
			err = val.Decode(c.MinTime)
		case "max_time":
			c.MaxTime = new(int)
			err = val.Decode(c.MaxTime)
		default:
			return fmt.Errorf("unknown condition %q (line %d)", key.Value, key.Line)
		}
		if err != nil {
			return fmt.Errorf("condition %q: %w", key.Value, err)
		}
	}
	return nil
}

func parseActions(node *yaml.Node, a *Actions) error {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("actions must be a mapping (line %d)", node.Line)
	}

	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]

		// Last declaration wins, including its position.
		for k, kind := range a.Order {
			if kind == key.Value {
				a.Order = append(a.Order[:k], a.Order[k+1:]...)
				break
			}
		}
		a.Order = append(a.Order, key.Value)

		var err error
		switch key.Value {
		case "callback":
			a.Callback = new(string)
			err = val.Decode(a.Callback)
		case "expire_callback":
			a.ExpireCallback = new(string)
			err = val.Decode(a.ExpireCallback)
		case "print":
			err = val.Decode(&a.Print)
		case "note":
			a.NoteSet = true
			a.Note = nil
			if val.Tag != "!!null" {
				a.Note = new(string)
				err = val.Decode(a.Note)
			}
		case "track":
			err = val.Decode(&a.Track)
		case "webhook":
			a.Webhook = nil
			if err = val.Decode(&a.Webhook); err == nil && len(a.Webhook) != 2 {
				err = fmt.Errorf("needs [kind, target], got %d entries", len(a.Webhook))
			}
		case "shell":
			a.Shell = new(string)
			err = val.Decode(a.Shell)
		default:
			return fmt.Errorf("unknown action %q (line %d)", key.Value, key.Line)
		}
		if err != nil {
			return fmt.Errorf("action %q: %w", key.Value, err)
		}
	}
	return nil
}

// validate performs the structural checks that need no external
// collaborators. Region-name, callback-name and webhook-transport
// validation happens in the engine, which owns those registries.
func (c *Config) validate() error {
	for _, r := range c.Rules {
		cond := &r.Conditions
		if cond.AircraftList != nil {
			if _, ok := c.AircraftLists[*cond.AircraftList]; !ok {
				return fmt.Errorf("rule %q: aircraft_list %q not defined", r.Name, *cond.AircraftList)
			}
		}
		if cond.ExcludeAircraftList != nil {
			if _, ok := c.AircraftLists[*cond.ExcludeAircraftList]; !ok {
				return fmt.Errorf("rule %q: exclude_aircraft_list %q not defined", r.Name, *cond.ExcludeAircraftList)
			}
		}
		for _, t := range []*int{cond.MinTime, cond.MaxTime} {
			if t != nil && !validHHMM(*t) {
				return fmt.Errorf("rule %q: time value %d is not a valid HHMM", r.Name, *t)
			}
		}
		if cond.LatLongRing != nil && cond.LatLongRing[0] < 0 {
			return fmt.Errorf("rule %q: latlongring radius must be non-negative", r.Name)
		}
		if cond.Proximity != nil && (cond.Proximity[0] < 0 || cond.Proximity[1] < 0) {
			return fmt.Errorf("rule %q: proximity separations must be non-negative", r.Name)
		}
		for _, cd := range []*int{cond.CooldownMinutes, cond.RuleCooldownMins} {
			if cd != nil && *cd < 0 {
				return fmt.Errorf("rule %q: cooldown must be non-negative", r.Name)
			}
		}
	}
	return nil
}

func validHHMM(v int) bool {
	if v < 0 || v > 2359 {
		return false
	}
	return v%100 < 60
}
