// Package registry maps report file names to sensor identities.
//
// Rules are evaluated in table order; the first pattern that matches the
// start of a file name (case-insensitively) wins. The same table provides the
// fixed set of selectors offered by the query surface.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"sensor_report_loader/models"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnmappedSensor means no rule matches the file name.
	ErrUnmappedSensor = errors.New("no sensor rule matches file")
	// ErrUnknownSensor means a rule matched but the sensor id is not stored.
	ErrUnknownSensor = errors.New("sensor id not present in store")
)

// Rule maps a file name pattern to a sensor id and its query selector.
type Rule struct {
	Selector string `yaml:"selector"`
	Pattern  string `yaml:"pattern"`
	SensorID int    `yaml:"sensor_id"`

	re *regexp.Regexp
}

// Registry is an ordered rule table.
type Registry struct {
	rules []Rule
}

// SensorChecker reports whether a sensor id exists in the store.
type SensorChecker interface {
	SensorExists(ctx context.Context, sensorID int) (bool, error)
}

// DefaultRules returns the rule table used when no rules file is present.
func DefaultRules() []Rule {
	return []Rule{
		{Selector: "sw01", Pattern: `report-pv-sw01`, SensorID: 1},
		{Selector: "swm-02", Pattern: `report-d-swm-02`, SensorID: 2},
		{Selector: "swm-03", Pattern: `report-d-swm-03`, SensorID: 3},
		{Selector: "swm-04", Pattern: `report-d-swm-04`, SensorID: 4},
		{Selector: "swm-05", Pattern: `report-d-swm-05`, SensorID: 5},
	}
}

// New compiles rules in priority order.
func New(rules []Rule) (*Registry, error) {
	seen := make(map[string]bool, len(rules))
	compiled := make([]Rule, 0, len(rules))

	for i, rule := range rules {
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %d: pattern is required", i)
		}
		if rule.SensorID <= 0 {
			return nil, fmt.Errorf("rule %d (%s): sensor_id must be > 0", i, rule.Pattern)
		}
		if rule.Selector != "" {
			if seen[rule.Selector] {
				return nil, fmt.Errorf("rule %d: duplicate selector %q", i, rule.Selector)
			}
			seen[rule.Selector] = true
		}

		re, err := regexp.Compile(`(?i)^(?:` + rule.Pattern + `)`)
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid pattern %q: %w", i, rule.Pattern, err)
		}
		rule.re = re
		compiled = append(compiled, rule)
	}

	return &Registry{rules: compiled}, nil
}

// Default returns a registry over DefaultRules.
func Default() *Registry {
	r, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return r
}

// LoadFile reads a YAML rules file of the form
//
//	sensors:
//	  - selector: swm-02
//	    pattern: report-d-swm-02
//	    sensor_id: 2
//
// A missing file yields the default table.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor rules: %w", err)
	}

	var doc struct {
		Sensors []Rule `yaml:"sensors"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse sensor rules: %w", err)
	}
	if len(doc.Sensors) == 0 {
		return nil, fmt.Errorf("sensor rules file %s defines no sensors", path)
	}

	return New(doc.Sensors)
}

// Rules returns the table in priority order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Resolve returns the first rule matching fileName.
func (r *Registry) Resolve(fileName string) (Rule, error) {
	for _, rule := range r.rules {
		if rule.re.MatchString(fileName) {
			return rule, nil
		}
	}
	return Rule{}, fmt.Errorf("%w: %s", ErrUnmappedSensor, fileName)
}

// ResolveStored resolves fileName and checks the sensor exists in the store.
func (r *Registry) ResolveStored(ctx context.Context, checker SensorChecker, fileName string) (int, error) {
	rule, err := r.Resolve(fileName)
	if err != nil {
		return 0, err
	}

	exists, err := checker.SensorExists(ctx, rule.SensorID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %d (%s)", ErrUnknownSensor, rule.SensorID, fileName)
	}

	return rule.SensorID, nil
}

// Lookup returns the sensor id for a query selector.
func (r *Registry) Lookup(selector string) (int, bool) {
	for _, rule := range r.rules {
		if rule.Selector != "" && rule.Selector == selector {
			return rule.SensorID, true
		}
	}
	return 0, false
}

// Selectors returns the enumerated selector set, sorted.
func (r *Registry) Selectors() []string {
	var selectors []string
	for _, rule := range r.rules {
		if rule.Selector != "" {
			selectors = append(selectors, rule.Selector)
		}
	}
	sort.Strings(selectors)
	return selectors
}

// Sensors returns one sensor per distinct id, named by its first selector.
func (r *Registry) Sensors() []models.Sensor {
	var sensors []models.Sensor
	seen := make(map[int]bool)
	for _, rule := range r.rules {
		if seen[rule.SensorID] {
			continue
		}
		seen[rule.SensorID] = true
		sensors = append(sensors, models.Sensor{ID: rule.SensorID, Name: rule.Selector})
	}
	return sensors
}
