// Package scenario replays scripted central behaviour against the simulated
// peripheral and checks the outcome.
package scenario

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/user/ble-advertiser/config"
	"github.com/user/ble-advertiser/util"
)

// Scenario defines a complete central/peripheral interaction
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Peripheral  yaml.MapSlice `yaml:"peripheral,omitempty"` // config file contents; empty means config.Default
	Centrals    []string      `yaml:"centrals"`
	Timeline    []Step        `yaml:"timeline"`
	Assertions  []Assertion   `yaml:"assertions"`

	cfg *config.Config
}

// Step is one action at a point in time
type Step struct {
	AtMs           int      `yaml:"at_ms"`
	Action         string   `yaml:"action"`
	Central        string   `yaml:"central,omitempty"`
	Characteristic string   `yaml:"characteristic,omitempty"`
	Value          string   `yaml:"value,omitempty"`
	Values         []string `yaml:"values,omitempty"`
	Offset         int      `yaml:"offset,omitempty"`
	Comment        string   `yaml:"comment,omitempty"`
}

// Action types
const (
	ActionConnect           = "connect"
	ActionDisconnect        = "disconnect"
	ActionRead              = "read"
	ActionWrite             = "write"
	ActionWriteBatch        = "write_batch"
	ActionWriteCommand      = "write_command"
	ActionSubscribe         = "subscribe"
	ActionUnsubscribe       = "unsubscribe"
	ActionAwaitNotification = "await_notification"
	ActionNotify            = "notify"
	ActionSetReadValue      = "set_read_value"
	ActionStartAdvertising  = "start_advertising"
	ActionStopAdvertising   = "stop_advertising"
	ActionPowerOff          = "power_off"
	ActionPowerOn           = "power_on"
	ActionWait              = "wait"
)

// Assertion defines an expected outcome
type Assertion struct {
	Type           string `yaml:"type"`
	Central        string `yaml:"central,omitempty"`
	Characteristic string `yaml:"characteristic,omitempty"`
	Value          string `yaml:"value,omitempty"`
	Step           int    `yaml:"step,omitempty"` // 1-based timeline index
	Code           string `yaml:"code,omitempty"` // ATT error name, or "Success"
	Count          *int   `yaml:"count,omitempty"`
	Comment        string `yaml:"comment,omitempty"`
}

// Assertion types
const (
	AssertionReceivedWrite = "received_write"
	AssertionReadValue     = "read_value"
	AssertionNotification  = "notification"
	AssertionStepResult    = "step_result"
	AssertionAdvertised    = "advertised"
	AssertionSubscribers   = "subscribers"
	AssertionReported      = "reported_error"
)

var centralActions = map[string]bool{
	ActionConnect: true, ActionDisconnect: true, ActionRead: true, ActionWrite: true,
	ActionWriteBatch: true, ActionWriteCommand: true, ActionSubscribe: true,
	ActionUnsubscribe: true, ActionAwaitNotification: true,
}

var characteristicActions = map[string]bool{
	ActionRead: true, ActionWrite: true, ActionWriteBatch: true, ActionWriteCommand: true,
	ActionSubscribe: true, ActionUnsubscribe: true, ActionNotify: true, ActionSetReadValue: true,
}

var peripheralActions = map[string]bool{
	ActionNotify: true, ActionSetReadValue: true, ActionStartAdvertising: true,
	ActionStopAdvertising: true, ActionPowerOff: true, ActionPowerOn: true, ActionWait: true,
}

var assertionTypes = map[string]bool{
	AssertionReceivedWrite: true, AssertionReadValue: true, AssertionNotification: true,
	AssertionStepResult: true, AssertionAdvertised: true, AssertionSubscribers: true,
	AssertionReported: true,
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	path, err := util.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scenario %s", path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", path)
	}
	return s, nil
}

// Parse decodes a scenario and its embedded peripheral configuration
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}

	if len(s.Peripheral) == 0 {
		s.cfg = config.Default()
		return &s, nil
	}
	raw, err := yaml.Marshal(s.Peripheral)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-encode peripheral section")
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "peripheral")
	}
	s.cfg = cfg
	return &s, nil
}

// Save writes the scenario as YAML
func (s *Scenario) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "failed to encode scenario")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "failed to write scenario %s", path)
}

// PeripheralConfig returns the configuration of the simulated peripheral
func (s *Scenario) PeripheralConfig() *config.Config {
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	return s.cfg
}

// Duration returns the time of the last step
func (s *Scenario) Duration() time.Duration {
	maxTime := 0
	for _, step := range s.Timeline {
		if step.AtMs > maxTime {
			maxTime = step.AtMs
		}
	}
	return time.Duration(maxTime) * time.Millisecond
}

// Validate checks references between steps, centrals and assertions
func (s *Scenario) Validate() []string {
	var problems []string

	centrals := make(map[string]bool)
	for _, c := range s.Centrals {
		if centrals[c] {
			problems = append(problems, "duplicate central: "+c)
		}
		centrals[c] = true
	}

	last := 0
	for i, step := range s.Timeline {
		where := fmt.Sprintf("step %d (%s)", i+1, step.Action)
		switch {
		case centralActions[step.Action]:
			if !centrals[step.Central] {
				problems = append(problems, where+" references unknown central: "+step.Central)
			}
		case peripheralActions[step.Action]:
		default:
			problems = append(problems, where+": unknown action")
		}
		if characteristicActions[step.Action] {
			if _, err := uuid.Parse(strings.TrimSpace(step.Characteristic)); err != nil {
				problems = append(problems, where+" has invalid characteristic: "+step.Characteristic)
			}
		}
		if step.Offset < 0 {
			problems = append(problems, fmt.Sprintf("%s has negative offset %d", where, step.Offset))
		}
		if step.Action == ActionWriteBatch && len(step.Values) == 0 {
			problems = append(problems, where+" has no values")
		}
		if step.AtMs != 0 && step.AtMs < last {
			problems = append(problems, where+" is earlier than the step before it")
		}
		if step.AtMs > last {
			last = step.AtMs
		}
	}

	for i, a := range s.Assertions {
		where := fmt.Sprintf("assertion %d (%s)", i+1, a.Type)
		if !assertionTypes[a.Type] {
			problems = append(problems, where+": unknown type")
			continue
		}
		if a.Central != "" && !centrals[a.Central] {
			problems = append(problems, where+" references unknown central: "+a.Central)
		}
		if a.Type == AssertionStepResult && (a.Step < 1 || a.Step > len(s.Timeline)) {
			problems = append(problems, fmt.Sprintf("%s references missing step %d", where, a.Step))
		}
	}
	return problems
}
