// internal/chaos/chaos.go

// Package chaos runs experiments that hammer a live API and then check the
// database for invariant violations.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fitjourney/internal/logging"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid")

// Experiment defines one chaos run.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	// Duration is the observation window after the method ran; Interval is
	// the sampling period inside it.
	Duration time.Duration
	Interval time.Duration
}

// Metric is a measurable system property.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action is a load or fault injection step, or its rollback.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion is checked against the last observation of Metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs registered experiments and keeps their results.
type Engine struct {
	tracer      trace.Tracer
	log         *logging.Logger
	experiments []Experiment
	results     []Result
	pause       time.Duration
	mu          sync.Mutex
}

func NewEngine(log *logging.Logger) *Engine {
	return &Engine{
		tracer: otel.Tracer("fitjourney/chaos"),
		log:    log,
		pause:  2 * time.Second,
	}
}

// SetPause sets the wait between experiments of a game day.
func (e *Engine) SetPause(d time.Duration) {
	e.pause = d
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes exp: steady state check, method, observation window,
// rollback, then assertions against the final observations.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	// Step 1: Steady state
	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		span.SetStatus(codes.Error, "steady state invalid")
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	// Step 2: Inject
	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	// Step 3: Observe
	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	// Step 4: Rollback
	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	// Step 5: Assertions
	span.AddEvent("validating_assertions")
	result.FailedAssertions = checkAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// observe samples every steady state metric each interval until the window
// closes, then takes one final sample.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	interval := exp.Interval
	if interval <= 0 {
		interval = time.Second
	}

	window, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-window.Done():
			e.sample(ctx, exp.SteadyState, result)
			return
		case <-ticker.C:
			e.sample(ctx, exp.SteadyState, result)
		}
	}
}

func (e *Engine) sample(ctx context.Context, metrics []Metric, result *Result) {
	if ctx.Err() != nil {
		return
	}
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		now := time.Now()
		if err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: now,
				Error:     err.Error(),
				Component: metric.Name,
			})
			continue
		}

		result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: now, Value: value})
		if !metric.Threshold.Holds(value) {
			result.Violations = append(result.Violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  now,
			})
		}
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, metrics []Metric) []MetricViolation {
	var violations []MetricViolation
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     -1,
				Timestamp:  time.Now(),
			})
			continue
		}
		if !metric.Threshold.Holds(value) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}
	return violations
}

func checkAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		observations := result.Observations[a.Metric]
		if len(observations) == 0 {
			failed = append(failed, fmt.Sprintf("%s: no observations", a.Metric))
			continue
		}
		if !a.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay is a named series of experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
}

// ExecuteGameDay runs every scenario in order and reports whether all
// hypotheses held.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	e.log.WithContext(ctx).WithFields(logrus.Fields{
		"game_day":    day.Name,
		"date":        day.Date.Format(time.RFC3339),
		"experiments": len(day.Scenarios),
	}).Info("starting game day")

	allHeld := true
	for i, scenario := range day.Scenarios {
		if i > 0 && e.pause > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(e.pause):
			}
		}

		entry := e.log.WithContext(ctx).WithFields(logrus.Fields{
			"experiment": scenario.Name,
			"hypothesis": scenario.Hypothesis,
			"index":      i + 1,
		})

		result, err := e.Run(ctx, scenario)
		if err != nil {
			allHeld = false
			entry.WithError(err).Error("experiment aborted")
			continue
		}
		e.report(entry, result)
		if !result.HypothesisHeld {
			allHeld = false
		}
	}

	span.SetAttributes(attribute.Bool("all_held", allHeld))
	return allHeld, nil
}

func (e *Engine) report(entry *logrus.Entry, result *Result) {
	entry = entry.WithFields(logrus.Fields{
		"duration_ms": result.Duration.Milliseconds(),
		"violations":  len(result.Violations),
		"errors":      len(result.ErrorEvents),
	})
	for _, v := range result.Violations {
		entry.WithFields(logrus.Fields{
			"metric":   v.MetricName,
			"expected": v.Expected,
			"actual":   v.Actual,
		}).Warn("threshold violated")
	}
	if result.HypothesisHeld {
		entry.Info("hypothesis held")
		return
	}
	entry.WithField("failed_assertions", result.FailedAssertions).Error("hypothesis violated")
}
