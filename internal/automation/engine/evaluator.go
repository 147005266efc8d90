package engine

import (
	"fmt"
	"time"

	automation "powerstation-cloud/internal/automation/domain"
	devices "powerstation-cloud/internal/devices/domain"
)

// EvalContext carries everything a single evaluation may read: the current
// snapshot, the previous one when available, and the wall clock instant.
type EvalContext struct {
	Metrics  devices.Metrics
	Previous *devices.Metrics
	Now      time.Time
}

// Result reports an evaluation outcome. Matched holds the descriptions of
// every leaf that held; Failed is populated only when the tree as a whole
// did not match.
type Result struct {
	Matches bool
	Matched []string
	Failed  []string
}

// Evaluate walks the condition tree depth-first and returns the combined
// outcome. Evaluation is pure: no side effects, no short-circuiting, so the
// result always describes every leaf. Conditions the evaluator does not
// recognize resolve to not-matching rather than erroring; malformed trees
// are the CRUD layer's problem, not the tick loop's.
func Evaluate(cond automation.Condition, ectx EvalContext) Result {
	matches, matched, failed := evaluate(cond, ectx)
	result := Result{Matches: matches, Matched: matched}
	if !matches {
		result.Failed = failed
	}
	return result
}

func evaluate(cond automation.Condition, ectx EvalContext) (bool, []string, []string) {
	if cond.Type == automation.ConditionGroup {
		return evaluateGroup(cond, ectx)
	}
	ok := evaluateLeaf(cond, ectx)
	desc := describe(cond, ectx)
	if ok {
		return true, []string{desc}, nil
	}
	return false, nil, []string{desc}
}

func evaluateGroup(cond automation.Condition, ectx EvalContext) (bool, []string, []string) {
	var matched, failed []string
	any := false
	all := true
	for _, child := range cond.Conditions {
		ok, m, f := evaluate(child, ectx)
		matched = append(matched, m...)
		failed = append(failed, f...)
		if ok {
			any = true
		} else {
			all = false
		}
	}
	switch cond.Operator {
	case automation.OperatorAnd:
		return all && len(cond.Conditions) > 0, matched, failed
	case automation.OperatorOr:
		return any, matched, failed
	default:
		return false, matched, failed
	}
}

func evaluateLeaf(cond automation.Condition, ectx EvalContext) bool {
	switch cond.Type {
	case automation.ConditionMetric:
		return evaluateMetric(cond, ectx.Metrics)
	case automation.ConditionTime:
		return evaluateTime(cond, ectx.Now)
	case automation.ConditionDayOfWeek:
		return evaluateDayOfWeek(cond, ectx.Now)
	case automation.ConditionEvent:
		return evaluateEvent(cond, ectx)
	default:
		return false
	}
}

func evaluateMetric(cond automation.Condition, m devices.Metrics) bool {
	actual := metricValue(m, cond.Field)
	switch cond.Op {
	case automation.OpGreater, automation.OpLess, automation.OpGreaterOrEqual,
		automation.OpLessOrEqual, automation.OpEqual:
		want, err := cond.NumberValue()
		if err != nil {
			return false
		}
		switch cond.Op {
		case automation.OpGreater:
			return actual > want
		case automation.OpLess:
			return actual < want
		case automation.OpGreaterOrEqual:
			return actual >= want
		case automation.OpLessOrEqual:
			return actual <= want
		default:
			return actual == want
		}
	case automation.OpBetween:
		min, max, err := cond.NumberRange()
		if err != nil {
			return false
		}
		return actual >= min && actual <= max
	default:
		return false
	}
}

// evaluateTime compares wall-clock minutes as HH*100+MM integers. A between
// range whose end precedes its start wraps midnight, so 22:00..06:00 covers
// late evening and early morning but not midday.
func evaluateTime(cond automation.Condition, now time.Time) bool {
	current := now.Hour()*100 + now.Minute()
	switch cond.Op {
	case automation.TimeOpEquals:
		value, err := cond.StringValue()
		if err != nil {
			return false
		}
		want, err := automation.ParseClock(value)
		if err != nil {
			return false
		}
		return current == want
	case automation.TimeOpBetween:
		startStr, endStr, err := cond.StringRange()
		if err != nil {
			return false
		}
		start, err := automation.ParseClock(startStr)
		if err != nil {
			return false
		}
		end, err := automation.ParseClock(endStr)
		if err != nil {
			return false
		}
		if start <= end {
			return current >= start && current <= end
		}
		return current >= start || current <= end
	default:
		return false
	}
}

func evaluateDayOfWeek(cond automation.Condition, now time.Time) bool {
	days, err := cond.StringSet()
	if err != nil {
		return false
	}
	today := weekdayTag(now.Weekday())
	member := false
	for _, day := range days {
		if day == today {
			member = true
			break
		}
	}
	switch cond.Op {
	case automation.DayOpIn:
		return member
	case automation.DayOpNotIn:
		return !member
	default:
		return false
	}
}

// evaluateEvent: online and offline are edge conditions when a previous
// snapshot exists, falling back to the current level on the first tick.
func evaluateEvent(cond automation.Condition, ectx EvalContext) bool {
	m := ectx.Metrics
	switch cond.EventType {
	case automation.EventError:
		return m.HasError
	case automation.EventOffline:
		if ectx.Previous != nil {
			return ectx.Previous.Online && !m.Online
		}
		return !m.Online
	case automation.EventOnline:
		if ectx.Previous != nil {
			return !ectx.Previous.Online && m.Online
		}
		return m.Online
	case automation.EventLowBattery:
		return m.SOC < automation.LowBatterySOC
	case automation.EventFullBattery:
		return m.SOC >= automation.FullBatterySOC
	default:
		return false
	}
}

func metricValue(m devices.Metrics, field automation.MetricField) float64 {
	switch field {
	case automation.FieldSOC:
		return m.SOC
	case automation.FieldTemperature:
		return m.Temperature
	case automation.FieldACInputWatts:
		return m.ACInputWatts
	case automation.FieldACOutputWatts:
		return m.ACOutputWatts
	case automation.FieldSolarInputWatts:
		return m.SolarInputWatts
	case automation.FieldDCOutputWatts:
		return m.DCOutputWatts
	case automation.FieldTotalInputWatts:
		return m.TotalInputWatts
	case automation.FieldTotalOutputWatts:
		return m.TotalOutputWatts
	default:
		return 0
	}
}

func describe(cond automation.Condition, ectx EvalContext) string {
	switch cond.Type {
	case automation.ConditionMetric:
		actual := metricValue(ectx.Metrics, cond.Field)
		if cond.Op == automation.OpBetween {
			min, max, err := cond.NumberRange()
			if err != nil {
				return fmt.Sprintf("%s between ? (actual %.1f)", cond.Field, actual)
			}
			return fmt.Sprintf("%s between %.1f and %.1f (actual %.1f)", cond.Field, min, max, actual)
		}
		want, err := cond.NumberValue()
		if err != nil {
			return fmt.Sprintf("%s %s ? (actual %.1f)", cond.Field, cond.Op, actual)
		}
		return fmt.Sprintf("%s %s %.1f (actual %.1f)", cond.Field, cond.Op, want, actual)
	case automation.ConditionTime:
		current := fmt.Sprintf("%02d:%02d", ectx.Now.Hour(), ectx.Now.Minute())
		if cond.Op == automation.TimeOpBetween {
			start, end, err := cond.StringRange()
			if err != nil {
				return fmt.Sprintf("time between ? (now %s)", current)
			}
			return fmt.Sprintf("time between %s and %s (now %s)", start, end, current)
		}
		value, _ := cond.StringValue()
		return fmt.Sprintf("time equals %s (now %s)", value, current)
	case automation.ConditionDayOfWeek:
		days, _ := cond.StringSet()
		return fmt.Sprintf("day %s %v (today %s)", cond.Op, days, weekdayTag(ectx.Now.Weekday()))
	case automation.ConditionEvent:
		return fmt.Sprintf("event %s", cond.EventType)
	default:
		return fmt.Sprintf("unknown condition %q", cond.Type)
	}
}

func weekdayTag(day time.Weekday) string {
	switch day {
	case time.Monday:
		return "mon"
	case time.Tuesday:
		return "tue"
	case time.Wednesday:
		return "wed"
	case time.Thursday:
		return "thu"
	case time.Friday:
		return "fri"
	case time.Saturday:
		return "sat"
	default:
		return "sun"
	}
}
