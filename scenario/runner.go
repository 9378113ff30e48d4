package scenario

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/peripheral"
	"github.com/user/ble-advertiser/radio"
	"github.com/user/ble-advertiser/radio/sim"
	"github.com/user/ble-advertiser/wire/att"
)

// DefaultStepTimeout bounds each blocking step
const DefaultStepTimeout = 2 * time.Second

// Runner executes a scenario against a simulated peripheral
type Runner struct {
	scenario *Scenario
	manager  *sim.Manager
	server   *peripheral.Server
	centrals map[string]*sim.Central

	// StepTimeout bounds reads, writes and waits for notifications.
	StepTimeout time.Duration
	// OnStep is called after every step.
	OnStep func(index int, result StepResult)

	mu            sync.Mutex
	writes        []string
	reported      []error
	reads         map[string]string   // central/characteristic -> last value read
	notifications map[string][]string // central/characteristic -> values received
	eventLog      []EventLogEntry
	results       []StepResult
	start         time.Time
}

// StepResult records the outcome of one step
type StepResult struct {
	Step  Step
	Value string
	Err   error
}

// Code returns the ATT error name of the step's result, "Success" when it
// succeeded, or the error text for non-ATT failures.
func (r StepResult) Code() string {
	if r.Err == nil {
		return att.ErrorName(att.ErrSuccess)
	}
	if code := att.GetErrorCode(r.Err); code != 0 {
		return att.ErrorName(code)
	}
	return r.Err.Error()
}

// EventLogEntry records something that happened during the run
type EventLogEntry struct {
	TimeMs  int
	Central string
	Event   string
	Message string
}

// AssertionResult records the outcome of an assertion
type AssertionResult struct {
	Assertion *Assertion
	Passed    bool
	Message   string
}

// NewRunner creates a runner for scenario
func NewRunner(s *Scenario) *Runner {
	return &Runner{
		scenario:      s,
		centrals:      make(map[string]*sim.Central),
		StepTimeout:   DefaultStepTimeout,
		reads:         make(map[string]string),
		notifications: make(map[string][]string),
	}
}

// Setup validates the scenario and brings up the peripheral: services
// published, read values set and the write listener installed.
func (r *Runner) Setup() error {
	if problems := r.scenario.Validate(); len(problems) > 0 {
		return errors.Errorf("scenario validation failed: %s", strings.Join(problems, "; "))
	}

	cfg := r.scenario.PeripheralConfig()
	r.manager = sim.New(sim.Config{InitialState: radio.StatePoweredOn})

	opts := append(cfg.ServerOptions(), peripheral.WithErrorHandler(func(err error) {
		r.mu.Lock()
		r.reported = append(r.reported, err)
		r.mu.Unlock()
		r.log("", "error", err.Error())
	}))
	r.server = peripheral.NewServer(r.manager, opts...)
	r.server.SetListener(func(value string) {
		r.mu.Lock()
		r.writes = append(r.writes, value)
		r.mu.Unlock()
		r.log("", "write", value)
	})

	for _, svc := range cfg.Services {
		if err := r.server.AddService(svc.UUID, svc.Characteristics()); err != nil {
			return errors.Wrapf(err, "add service %s", svc.UUID)
		}
	}
	for id, value := range cfg.ReadValues() {
		r.server.SetReadValueForCharacteristic(id, value)
	}
	r.manager.Flush()
	return nil
}

// Run executes the timeline. Step failures are recorded, not returned; Run
// only fails if ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	if r.manager == nil {
		return errors.New("runner not set up")
	}
	start := time.Now()
	r.mu.Lock()
	r.start = start
	r.mu.Unlock()

	for i, step := range r.scenario.Timeline {
		if wait := time.Until(start.Add(time.Duration(step.AtMs) * time.Millisecond)); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		value, err := r.execute(ctx, step)
		r.manager.Flush()

		result := StepResult{Step: step, Value: value, Err: err}
		r.mu.Lock()
		r.results = append(r.results, result)
		r.mu.Unlock()

		msg := step.Action
		if value != "" {
			msg += " -> " + value
		}
		if err != nil {
			msg += " (" + result.Code() + ")"
		}
		r.log(step.Central, step.Action, msg)

		if r.OnStep != nil {
			r.OnStep(i, result)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, step Step) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.StepTimeout)
	defer cancel()

	var charID uuid.UUID
	if characteristicActions[step.Action] {
		charID = uuid.MustParse(strings.TrimSpace(step.Characteristic))
	}
	key := step.Central + "/" + radio.CanonicalID(charID)

	switch step.Action {
	case ActionConnect:
		r.centrals[step.Central] = r.manager.Connect(step.Central)
		return "", nil
	case ActionStartAdvertising:
		name := step.Value
		if name == "" {
			name = r.scenario.PeripheralConfig().DeviceName
		}
		r.server.StartAdvertising(name)
		return name, nil
	case ActionStopAdvertising:
		r.server.StopAdvertising()
		return "", nil
	case ActionPowerOff:
		r.manager.SetState(radio.StatePoweredOff)
		return "", nil
	case ActionPowerOn:
		r.manager.PowerOn()
		return "", nil
	case ActionWait:
		return "", nil
	case ActionNotify:
		return step.Value, r.server.SendNotifyValue(step.Characteristic, step.Value)
	case ActionSetReadValue:
		r.server.SetReadValueForCharacteristic(step.Characteristic, step.Value)
		return step.Value, nil
	}

	c, ok := r.centrals[step.Central]
	if !ok {
		return "", errors.Errorf("central %s is not connected", step.Central)
	}

	switch step.Action {
	case ActionDisconnect:
		c.Disconnect()
		delete(r.centrals, step.Central)
		return "", nil
	case ActionRead:
		v, err := c.ReadAt(ctx, charID, step.Offset)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.reads[key] = string(v)
		r.mu.Unlock()
		return string(v), nil
	case ActionWrite:
		return step.Value, c.Write(ctx, charID, []byte(step.Value))
	case ActionWriteBatch:
		values := make([][]byte, 0, len(step.Values))
		for _, v := range step.Values {
			values = append(values, []byte(v))
		}
		return strings.Join(step.Values, ","), c.WriteBatch(ctx, charID, values...)
	case ActionWriteCommand:
		return step.Value, c.WriteCommand(charID, []byte(step.Value))
	case ActionSubscribe:
		return "", c.Subscribe(ctx, charID)
	case ActionUnsubscribe:
		return "", c.Unsubscribe(ctx, charID)
	case ActionAwaitNotification:
		n, err := c.Next(ctx)
		if err != nil {
			return "", errors.Wrap(err, "no notification")
		}
		v := string(n.Value)
		nkey := step.Central + "/" + radio.CanonicalID(n.Characteristic)
		r.mu.Lock()
		r.notifications[nkey] = append(r.notifications[nkey], v)
		r.mu.Unlock()
		return v, nil
	}
	return "", errors.Errorf("unknown action %q", step.Action)
}

func (r *Runner) log(central, event, message string) {
	entry := EventLogEntry{Central: central, Event: event, Message: message}
	r.mu.Lock()
	if !r.start.IsZero() {
		entry.TimeMs = int(time.Since(r.start) / time.Millisecond)
	}
	r.eventLog = append(r.eventLog, entry)
	r.mu.Unlock()
	logger.Debug("scenario", "[%dms] %s %s: %s", entry.TimeMs, central, event, message)
}

// CheckAssertions evaluates every assertion against what the run observed
func (r *Runner) CheckAssertions() []AssertionResult {
	results := make([]AssertionResult, 0, len(r.scenario.Assertions))
	for i := range r.scenario.Assertions {
		a := &r.scenario.Assertions[i]
		passed, msg := r.check(a)
		results = append(results, AssertionResult{Assertion: a, Passed: passed, Message: msg})
	}
	return results
}

func (r *Runner) check(a *Assertion) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := a.Central + "/" + canonical(a.Characteristic)
	switch a.Type {
	case AssertionReceivedWrite:
		if a.Count != nil && len(r.writes) != *a.Count {
			return false, fmt.Sprintf("listener received %d writes, want %d", len(r.writes), *a.Count)
		}
		if a.Value == "" {
			return true, fmt.Sprintf("listener received %d writes", len(r.writes))
		}
		for _, w := range r.writes {
			if w == a.Value {
				return true, fmt.Sprintf("listener received %q", a.Value)
			}
		}
		return false, fmt.Sprintf("listener never received %q (got %v)", a.Value, r.writes)

	case AssertionReadValue:
		got, ok := r.reads[key]
		if !ok {
			return false, fmt.Sprintf("%s never read %s", a.Central, a.Characteristic)
		}
		if got != a.Value {
			return false, fmt.Sprintf("%s read %q, want %q", a.Central, got, a.Value)
		}
		return true, fmt.Sprintf("%s read %q", a.Central, got)

	case AssertionNotification:
		got := r.notifications[key]
		for _, v := range got {
			if a.Value == "" || v == a.Value {
				return true, fmt.Sprintf("%s was notified %q", a.Central, v)
			}
		}
		return false, fmt.Sprintf("%s was not notified %q (got %v)", a.Central, a.Value, got)

	case AssertionStepResult:
		if a.Step > len(r.results) {
			return false, fmt.Sprintf("step %d never ran", a.Step)
		}
		res := r.results[a.Step-1]
		want := a.Code
		if want == "" {
			want = att.ErrorName(att.ErrSuccess)
		}
		if !strings.EqualFold(res.Code(), want) {
			return false, fmt.Sprintf("step %d: got %s, want %s", a.Step, res.Code(), want)
		}
		if a.Value != "" && res.Value != a.Value {
			return false, fmt.Sprintf("step %d: value %q, want %q", a.Step, res.Value, a.Value)
		}
		return true, fmt.Sprintf("step %d: %s", a.Step, res.Code())

	case AssertionAdvertised:
		_, name, _, ok := r.manager.Advertisement()
		if !ok {
			return a.Value == "", "not advertising"
		}
		if a.Value != "" && name != a.Value {
			return false, fmt.Sprintf("advertising %q, want %q", name, a.Value)
		}
		return true, fmt.Sprintf("advertising %q", name)

	case AssertionSubscribers:
		n := len(r.server.Registry().Subscribers(a.Characteristic))
		want := 0
		if a.Count != nil {
			want = *a.Count
		}
		if n != want {
			return false, fmt.Sprintf("%d subscribers on %s, want %d", n, a.Characteristic, want)
		}
		return true, fmt.Sprintf("%d subscribers on %s", n, a.Characteristic)

	case AssertionReported:
		for _, err := range r.reported {
			if a.Value == "" || strings.Contains(err.Error(), a.Value) {
				return true, "reported: " + err.Error()
			}
		}
		return false, fmt.Sprintf("no reported error matching %q", a.Value)
	}
	return false, "unknown assertion type " + a.Type
}

func canonical(id string) string {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(id))
	}
	return radio.CanonicalID(u)
}

// Results returns the step results so far
func (r *Runner) Results() []StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepResult(nil), r.results...)
}

// EventLog returns everything logged during the run
func (r *Runner) EventLog() []EventLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLogEntry(nil), r.eventLog...)
}

// Manager exposes the simulated stack, for transcripts
func (r *Runner) Manager() *sim.Manager { return r.manager }

// Close tears the simulated stack down
func (r *Runner) Close() {
	if r.manager != nil {
		r.manager.Close()
	}
}
