package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/floodsync/internal/engine"
	"github.com/roach88/floodsync/internal/ir"
)

// Scenario defines one end-to-end run of a device.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Remote backs the device with a scripted in-memory remote. Without
	// it the device runs local-only with the breaker open from the start.
	Remote bool `yaml:"remote,omitempty"`

	// Rescuers replaces the seeded local roster.
	Rescuers []RescuerSeed `yaml:"rescuers,omitempty"`

	// RemoteRescuers is the roster already on the remote.
	RemoteRescuers []RescuerSeed `yaml:"remote_rescuers,omitempty"`

	// RescuerIDs are the numbers drawn by rescuer id allocation, in
	// order; the last one repeats. Empty means random draws.
	RescuerIDs []int `yaml:"rescuer_ids,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// RescuerSeed is a roster entry in a scenario file.
type RescuerSeed struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username,omitempty"`
	Name     string `yaml:"name"`
	Phone    string `yaml:"phone,omitempty"`
	Count    int    `yaml:"count"`
}

func (r RescuerSeed) rescuer() ir.Rescuer {
	phone := r.Phone
	if phone == "" {
		phone = "-"
	}
	return ir.Rescuer{ID: r.ID, Username: r.Username, Name: r.Name, Phone: phone, RescuesCount: r.Count}
}

// Step is one engine operation or remote scripting action.
type Step struct {
	// Op is the operation name, e.g. "create_sos" or "remote_fail".
	Op string `yaml:"op"`

	Args map[string]any `yaml:"args,omitempty"`

	// As binds the id returned by the step to a name usable as "$name".
	As string `yaml:"as,omitempty"`

	// Expect is "ok" (the default) or an engine error code such as
	// TERMINAL_STATUS.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	Type string `yaml:"type"`

	SOS       string `yaml:"sos,omitempty"`
	Rescuer   string `yaml:"rescuer,omitempty"`
	Status    string `yaml:"status,omitempty"`
	RescuerID string `yaml:"rescuer_id,omitempty"`
	State     string `yaml:"state,omitempty"`
	Op        string `yaml:"op,omitempty"`
	Count     *int   `yaml:"count,omitempty"`

	// Source selects the copy an assertion reads: "local" (the default)
	// or "remote".
	Source string `yaml:"source,omitempty"`
}

// Assertion types.
const (
	AssertSOSStatus     = "sos_status"
	AssertSOSCount      = "sos_count"
	AssertSOSAbsent     = "sos_absent"
	AssertSOSMessages   = "sos_messages"
	AssertRescuerCount  = "rescuer_count"
	AssertRescuerAbsent = "rescuer_absent"
	AssertBreaker       = "breaker"
	AssertRemoteCalls   = "remote_calls"
	AssertEvents        = "events"
	AssertMySOS         = "my_sos"
	AssertMyRescuer     = "my_rescuer"
)

// Step operations.
const (
	OpCreateSOS        = "create_sos"
	OpUpdateStatus     = "update_status"
	OpMarkSafe         = "mark_safe"
	OpMarkRescued      = "mark_rescued"
	OpUpdateDetails    = "update_details"
	OpAppendMessage    = "append_message"
	OpAttributeRescue  = "attribute_rescue"
	OpRegisterRescuer  = "register_rescuer"
	OpListSOS          = "list_sos"
	OpLeague           = "league"
	OpRefresh          = "refresh"
	OpRemoteFail       = "remote_fail"
	OpRemoteFailAfter  = "remote_fail_after"
	OpRemoteRecover    = "remote_recover"
	OpRemoteSeedStatus = "remote_set_status"
	OpAdvanceClock     = "advance_clock"
)

var knownOps = map[string]bool{
	OpCreateSOS: true, OpUpdateStatus: true, OpMarkSafe: true, OpMarkRescued: true,
	OpUpdateDetails: true, OpAppendMessage: true, OpAttributeRescue: true,
	OpRegisterRescuer: true, OpListSOS: true, OpLeague: true, OpRefresh: true,
	OpRemoteFail: true, OpRemoteFailAfter: true, OpRemoteRecover: true,
	OpRemoteSeedStatus: true, OpAdvanceClock: true,
}

var remoteOnlyOps = map[string]bool{
	OpRemoteFail: true, OpRemoteFailAfter: true, OpRemoteRecover: true, OpRemoteSeedStatus: true,
}

var knownCodes = map[string]bool{
	OutcomeOK:                                 true,
	string(engine.ErrCodeNotFound):            true,
	string(engine.ErrCodeTerminalStatus):      true,
	string(engine.ErrCodeNotActive):           true,
	string(engine.ErrCodeUnknownRescuer):      true,
	string(engine.ErrCodeAllocationExhausted): true,
	string(engine.ErrCodeInvalidInput):        true,
	string(engine.ErrCodeUnavailable):         true,
	string(engine.ErrCodePartialAttribution):  true,
	string(engine.ErrCodeForbidden):           true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if len(s.RemoteRescuers) > 0 && !s.Remote {
		return fmt.Errorf("remote_rescuers requires remote: true")
	}
	for _, n := range s.RescuerIDs {
		if n < engine.MinRescuerID || n > engine.MaxRescuerID {
			return fmt.Errorf("rescuer_ids: %d is outside %d-%d", n, engine.MinRescuerID, engine.MaxRescuerID)
		}
	}

	bound := map[string]bool{}
	for i, step := range s.Steps {
		if !knownOps[step.Op] {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if remoteOnlyOps[step.Op] && !s.Remote {
			return fmt.Errorf("steps[%d]: %s requires remote: true", i, step.Op)
		}
		if step.Expect != "" && !knownCodes[step.Expect] {
			return fmt.Errorf("steps[%d]: unknown expected outcome %q", i, step.Expect)
		}
		for key, v := range step.Args {
			if ref, ok := reference(v); ok && !bound[ref] {
				return fmt.Errorf("steps[%d].args.%s: $%s is not bound by an earlier step", i, key, ref)
			}
		}
		if step.As != "" {
			bound[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, bound); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, bound map[string]bool) error {
	if a.Source != "" && a.Source != "local" && a.Source != "remote" {
		return fmt.Errorf("assertions[%d]: source must be local or remote", index)
	}
	for _, v := range []string{a.SOS, a.Rescuer, a.RescuerID} {
		if ref, ok := reference(v); ok && !bound[ref] {
			return fmt.Errorf("assertions[%d]: $%s is not bound by any step", index, ref)
		}
	}

	needCount := func() error {
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertSOSStatus:
		if a.SOS == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: sos and status are required for sos_status", index)
		}
		if !ir.Status(a.Status).Valid() {
			return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
		}
	case AssertSOSCount, AssertEvents, AssertRemoteCalls:
		return needCount()
	case AssertSOSMessages:
		if a.SOS == "" {
			return fmt.Errorf("assertions[%d]: sos is required for sos_messages", index)
		}
		return needCount()
	case AssertSOSAbsent:
		if a.SOS == "" {
			return fmt.Errorf("assertions[%d]: sos is required for sos_absent", index)
		}
	case AssertRescuerCount:
		if a.Rescuer == "" {
			return fmt.Errorf("assertions[%d]: rescuer is required for rescuer_count", index)
		}
		return needCount()
	case AssertRescuerAbsent:
		if a.Rescuer == "" {
			return fmt.Errorf("assertions[%d]: rescuer is required for rescuer_absent", index)
		}
	case AssertBreaker:
		if a.State != "OPEN" && a.State != "CLOSED" {
			return fmt.Errorf("assertions[%d]: state must be OPEN or CLOSED", index)
		}
	case AssertMySOS, AssertMyRescuer:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// reference reports whether v is a "$name" binding reference.
func reference(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || len(s) < 2 || s[0] != '$' {
		return "", false
	}
	return s[1:], true
}
