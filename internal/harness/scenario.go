package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tttsync/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// Scenario is a scripted sequence of row events and moves for one player.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Me is the local player's identity.
	Me ir.Identity `yaml:"me"`

	// FailSubscriptions makes subscriptions to these tables fail.
	FailSubscriptions []ir.Table `yaml:"fail_subscriptions,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step performs at most one action, then checks Expect if present.
type Step struct {
	Insert *RowSpec    `yaml:"insert,omitempty"`
	Update *UpdateSpec `yaml:"update,omitempty"`
	Delete *RowSpec    `yaml:"delete,omitempty"`

	// Via overrides the subscription id the event is tagged with.
	// "-" delivers it untagged.
	Via string `yaml:"via,omitempty"`

	// Submit calls SubmitMove with this position.
	Submit *int `yaml:"submit,omitempty"`

	// ExpectError is a substring the Submit error must contain.
	ExpectError string `yaml:"expect_error,omitempty"`

	Expect *StateExpect `yaml:"expect,omitempty"`
}

// RowSpec is one row snapshot of a table.
type RowSpec struct {
	Table ir.Table  `yaml:"table"`
	Row   yaml.Node `yaml:"row"`
}

// UpdateSpec is a row change from Old to New.
type UpdateSpec struct {
	Table ir.Table  `yaml:"table"`
	Old   yaml.Node `yaml:"old"`
	New   yaml.Node `yaml:"new"`
}

// StateExpect lists session fields to check. Unset fields are not checked.
type StateExpect struct {
	State         *string `yaml:"state,omitempty"`
	GameID        *uint32 `yaml:"game_id,omitempty"`
	Board         *string `yaml:"board,omitempty"`
	Next          *string `yaml:"next,omitempty"`
	PlayingFirst  *bool   `yaml:"playing_first,omitempty"`
	Started       *bool   `yaml:"started,omitempty"`
	Moves         *int    `yaml:"moves,omitempty"`
	Anomalies     *int    `yaml:"anomalies,omitempty"`
	Dropped       *int    `yaml:"dropped,omitempty"`
	Subscriptions *int    `yaml:"subscriptions,omitempty"`
}

// Assertion validates the notifications, remote calls or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind and Detail select notifications (notify_contains, notify_count).
	Kind   string `yaml:"kind,omitempty"`
	Detail string `yaml:"detail,omitempty"`

	// Count is the expected number of matches (notify_count, remote_count).
	Count int `yaml:"count,omitempty"`

	// Sequence lists "kind detail" lines in expected order (notify_order).
	Sequence []string `yaml:"sequence,omitempty"`

	// Action is the remote action name (remote_count).
	Action string `yaml:"action,omitempty"`

	// State is the expected final state (final_state).
	State *StateExpect `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertNotifyContains = "notify_contains"
	AssertNotifyCount    = "notify_count"
	AssertNotifyOrder    = "notify_order"
	AssertRemoteCount    = "remote_count"
	AssertFinalState     = "final_state"
)

// LoadScenario reads, schema-checks and parses a scenario YAML file.
// Returns an error if the file doesn't exist, violates the schema,
// contains unknown fields, or describes an inconsistent step.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(path, data)
}

// ParseScenario is LoadScenario for in-memory data. filename is used in
// error positions only.
func ParseScenario(filename string, data []byte) (*Scenario, error) {
	if err := checkSchema(filename, data); err != nil {
		return nil, err
	}

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

// checkSchema unifies the YAML document with #Scenario.
func checkSchema(filename string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("scenario schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Scenario")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema violation: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// validateScenario checks what the schema cannot express.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Me.IsZero() {
		return fmt.Errorf("me is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		actions := 0
		for _, set := range []bool{step.Insert != nil, step.Update != nil, step.Delete != nil, step.Submit != nil} {
			if set {
				actions++
			}
		}
		if actions > 1 {
			return fmt.Errorf("steps[%d]: at most one of insert, update, delete, submit", i)
		}
		if actions == 0 && step.Expect == nil {
			return fmt.Errorf("steps[%d]: empty step", i)
		}
		if step.ExpectError != "" && step.Submit == nil {
			return fmt.Errorf("steps[%d]: expect_error only applies to submit", i)
		}
		if step.Via != "" && step.Submit != nil {
			return fmt.Errorf("steps[%d]: via only applies to row events", i)
		}
		if _, err := step.event(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertNotifyContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for %s", index, a.Type)
		}
	case AssertNotifyCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for %s", index, a.Type)
		}
	case AssertNotifyOrder:
		if len(a.Sequence) == 0 {
			return fmt.Errorf("assertions[%d]: sequence is required for %s", index, a.Type)
		}
	case AssertRemoteCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for %s", index, a.Type)
		}
	case AssertFinalState:
		if a.State == nil {
			return fmt.Errorf("assertions[%d]: state is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// event builds the row event of a step, or nil for steps without one.
func (s Step) event() (*ir.RowEvent, error) {
	switch {
	case s.Insert != nil:
		r, err := decodeRow(s.Insert.Table, &s.Insert.Row)
		if err != nil {
			return nil, fmt.Errorf("insert: %w", err)
		}
		ev := ir.Insert(r)
		return &ev, nil
	case s.Update != nil:
		before, err := decodeRow(s.Update.Table, &s.Update.Old)
		if err != nil {
			return nil, fmt.Errorf("update old: %w", err)
		}
		after, err := decodeRow(s.Update.Table, &s.Update.New)
		if err != nil {
			return nil, fmt.Errorf("update new: %w", err)
		}
		ev := ir.Update(before, after)
		return &ev, nil
	case s.Delete != nil:
		r, err := decodeRow(s.Delete.Table, &s.Delete.Row)
		if err != nil {
			return nil, fmt.Errorf("delete: %w", err)
		}
		ev := ir.Delete(r)
		return &ev, nil
	}
	return nil, nil
}

// decodeRow decodes a YAML row snapshot into the table's row type.
func decodeRow(table ir.Table, node *yaml.Node) (ir.Row, error) {
	if node.Kind == 0 {
		return nil, fmt.Errorf("%s: row is required", table)
	}
	var (
		row ir.Row
		err error
	)
	switch table {
	case ir.TableGame:
		var g ir.Game
		err = node.Decode(&g)
		row = g
	case ir.TableGameMove:
		var m ir.GameMove
		err = node.Decode(&m)
		row = m
	case ir.TableFeedback:
		var f ir.Feedback
		err = node.Decode(&f)
		row = f
	case ir.TablePlayerStats:
		var st ir.PlayerStats
		err = node.Decode(&st)
		row = st
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if err != nil {
		return nil, fmt.Errorf("%s row: %w", table, err)
	}
	return row, nil
}
