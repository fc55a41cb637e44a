package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/logline/internal/journal"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Timezone is the IANA zone days are keyed in. Defaults to UTC.
	Timezone string `yaml:"timezone,omitempty"`

	// Start is the initial clock reading, RFC 3339.
	Start string `yaml:"start"`

	// Flow is executed in order against one data directory.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final ledger, journal and index.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one flow step. Exactly one operation field is set.
type Step struct {
	Append  *AppendStep `yaml:"append,omitempty"`
	Advance string      `yaml:"advance,omitempty"` // Go duration, e.g. "90m"
	Restart bool        `yaml:"restart,omitempty"` // reopen ledger and index from disk
	Tamper  *EditStep   `yaml:"tamper,omitempty"`  // rewrite segment bytes
	Tear    *TearStep   `yaml:"tear,omitempty"`    // append a partial line
	Reindex bool        `yaml:"reindex,omitempty"` // replay the journal into the index

	// Expect checks the outcome of an append step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// AppendStep appends one canonical event.
type AppendStep struct {
	ID    string         `yaml:"id,omitempty"`
	Text  string         `yaml:"text,omitempty"`
	Actor string         `yaml:"actor,omitempty"`
	Event map[string]any `yaml:"event"`
}

// EditStep replaces the first occurrence of Find in a day's segment.
type EditStep struct {
	Day     string `yaml:"day"`
	Find    string `yaml:"find"`
	Replace string `yaml:"replace"`
}

// TearStep simulates a crash mid-write by appending Bytes without a newline.
// Follow it with a restart step so recovery sees the torn tail.
type TearStep struct {
	Day   string `yaml:"day"`
	Bytes string `yaml:"bytes"`
}

// ExpectClause specifies the expected outcome of an append.
// Unset fields are not checked.
type ExpectClause struct {
	Day        string   `yaml:"day,omitempty"`
	EventID    string   `yaml:"event_id,omitempty"`
	Duplicate  *bool    `yaml:"duplicate,omitempty"`
	Error      string   `yaml:"error,omitempty"` // errs code, e.g. ENCODING
	Incomplete []string `yaml:"incomplete,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Day is used by verify, chain and records.
	Day string `yaml:"day,omitempty"`

	// OK is the expected verification outcome (verify).
	OK *bool `yaml:"ok,omitempty"`

	// Problems are problem kinds that must be reported (verify).
	Problems []string `yaml:"problems,omitempty"`

	// Entity and Month select an aggregate (aggregate).
	Entity string `yaml:"entity,omitempty"`
	Month  string `yaml:"month,omitempty"`

	// Count is the expected record count (records) or purchase count (aggregate).
	Count *int `yaml:"count,omitempty"`

	// Sum is the expected revenue total (aggregate).
	Sum *float64 `yaml:"sum,omitempty"`

	// Names is the expected sorted entity list (entities).
	Names []string `yaml:"names,omitempty"`
}

// Assertion type constants.
const (
	AssertVerify    = "verify"
	AssertChain     = "chain"
	AssertRecords   = "records"
	AssertAggregate = "aggregate"
	AssertEntities  = "entities"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := time.Parse(time.RFC3339Nano, s.Start); err != nil {
		return fmt.Errorf("start must be an RFC 3339 time: %w", err)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	ops := 0
	if st.Append != nil {
		ops++
		if st.Append.Event == nil {
			return fmt.Errorf("flow[%d]: append.event is required", i)
		}
	}
	if st.Advance != "" {
		ops++
		if _, err := time.ParseDuration(st.Advance); err != nil {
			return fmt.Errorf("flow[%d]: advance: %w", i, err)
		}
	}
	if st.Restart {
		ops++
	}
	if st.Tamper != nil {
		ops++
		if !journal.ValidDay(st.Tamper.Day) || st.Tamper.Find == "" {
			return fmt.Errorf("flow[%d]: tamper needs a day and a non-empty find", i)
		}
	}
	if st.Tear != nil {
		ops++
		if !journal.ValidDay(st.Tear.Day) {
			return fmt.Errorf("flow[%d]: tear needs a day", i)
		}
	}
	if st.Reindex {
		ops++
	}
	if ops != 1 {
		return fmt.Errorf("flow[%d]: exactly one operation is required, found %d", i, ops)
	}
	if st.Expect != nil && st.Append == nil {
		return fmt.Errorf("flow[%d]: expect is only valid on append steps", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertVerify, AssertChain:
		if !journal.ValidDay(a.Day) {
			return fmt.Errorf("assertions[%d]: day is required for %s", index, a.Type)
		}
	case AssertRecords:
		if !journal.ValidDay(a.Day) || a.Count == nil {
			return fmt.Errorf("assertions[%d]: day and count are required for records", index)
		}
	case AssertAggregate:
		if a.Entity == "" || a.Month == "" {
			return fmt.Errorf("assertions[%d]: entity and month are required for aggregate", index)
		}
		if a.Count == nil && a.Sum == nil {
			return fmt.Errorf("assertions[%d]: count or sum is required for aggregate", index)
		}
	case AssertEntities:
		if a.Names == nil {
			return fmt.Errorf("assertions[%d]: names is required for entities (use [] for none)", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
