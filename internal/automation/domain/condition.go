package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ConditionType discriminates the condition union.
type ConditionType string

const (
	ConditionGroup     ConditionType = "group"
	ConditionMetric    ConditionType = "metric"
	ConditionTime      ConditionType = "time"
	ConditionDayOfWeek ConditionType = "dayOfWeek"
	ConditionEvent     ConditionType = "event"
)

// GroupOperator combines child conditions of a group.
type GroupOperator string

const (
	OperatorAnd GroupOperator = "AND"
	OperatorOr  GroupOperator = "OR"
)

// MetricField names a numeric field of a device snapshot.
type MetricField string

const (
	FieldSOC              MetricField = "soc"
	FieldTemperature      MetricField = "temperature"
	FieldACInputWatts     MetricField = "acInputWatts"
	FieldACOutputWatts    MetricField = "acOutputWatts"
	FieldSolarInputWatts  MetricField = "solarInputWatts"
	FieldDCOutputWatts    MetricField = "dcOutputWatts"
	FieldTotalInputWatts  MetricField = "totalInputWatts"
	FieldTotalOutputWatts MetricField = "totalOutputWatts"
)

// Metric comparison operators.
const (
	OpGreater        = ">"
	OpLess           = "<"
	OpGreaterOrEqual = ">="
	OpLessOrEqual    = "<="
	OpEqual          = "=="
	OpBetween        = "between"
)

// Time condition operators.
const (
	TimeOpEquals  = "equals"
	TimeOpBetween = "between"
)

// Day-of-week condition operators.
const (
	DayOpIn    = "in"
	DayOpNotIn = "notIn"
)

// EventType names a device lifecycle event condition.
type EventType string

const (
	EventError       EventType = "error"
	EventOffline     EventType = "offline"
	EventOnline      EventType = "online"
	EventLowBattery  EventType = "lowBattery"
	EventFullBattery EventType = "fullBattery"
)

// Fixed thresholds for the battery event conditions.
const (
	LowBatterySOC  = 20.0
	FullBatterySOC = 100.0
)

var weekdayTags = map[string]struct{}{
	"mon": {}, "tue": {}, "wed": {}, "thu": {}, "fri": {}, "sat": {}, "sun": {},
}

// Condition is a recursive tagged union: a group node combines children with
// AND/OR, a leaf node carries the payload for its type. Serialization is
// lossless JSON so rules survive a store round-trip unchanged.
type Condition struct {
	Type ConditionType `json:"type"`

	// group
	Operator   GroupOperator `json:"operator,omitempty"`
	Conditions []Condition   `json:"conditions,omitempty"`

	// metric
	Field MetricField `json:"field,omitempty"`

	// metric, time, dayOfWeek
	Op    string          `json:"op,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`

	// event
	EventType EventType `json:"eventType,omitempty"`
}

// Validate checks the condition tree shape. Malformed trees are rejected
// here, at the CRUD boundary; the evaluator assumes validated input and
// resolves anything unexpected to not-matching.
func (c Condition) Validate() error {
	switch c.Type {
	case ConditionGroup:
		if c.Operator != OperatorAnd && c.Operator != OperatorOr {
			return fmt.Errorf("condition: unknown group operator %q", c.Operator)
		}
		if len(c.Conditions) == 0 {
			return errors.New("condition: empty group")
		}
		for i, child := range c.Conditions {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("condition %d: %w", i, err)
			}
		}
		return nil
	case ConditionMetric:
		if !validMetricField(c.Field) {
			return fmt.Errorf("condition: unknown metric field %q", c.Field)
		}
		switch c.Op {
		case OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual, OpEqual:
			if _, err := c.NumberValue(); err != nil {
				return fmt.Errorf("condition: metric value: %w", err)
			}
		case OpBetween:
			min, max, err := c.NumberRange()
			if err != nil {
				return fmt.Errorf("condition: metric range: %w", err)
			}
			if min > max {
				return fmt.Errorf("condition: metric range %v > %v", min, max)
			}
		default:
			return fmt.Errorf("condition: unknown metric op %q", c.Op)
		}
		return nil
	case ConditionTime:
		switch c.Op {
		case TimeOpEquals:
			value, err := c.StringValue()
			if err != nil {
				return fmt.Errorf("condition: time value: %w", err)
			}
			if _, err := ParseClock(value); err != nil {
				return err
			}
		case TimeOpBetween:
			start, end, err := c.StringRange()
			if err != nil {
				return fmt.Errorf("condition: time range: %w", err)
			}
			if _, err := ParseClock(start); err != nil {
				return err
			}
			if _, err := ParseClock(end); err != nil {
				return err
			}
		default:
			return fmt.Errorf("condition: unknown time op %q", c.Op)
		}
		return nil
	case ConditionDayOfWeek:
		if c.Op != DayOpIn && c.Op != DayOpNotIn {
			return fmt.Errorf("condition: unknown dayOfWeek op %q", c.Op)
		}
		days, err := c.StringSet()
		if err != nil {
			return fmt.Errorf("condition: dayOfWeek value: %w", err)
		}
		if len(days) == 0 {
			return errors.New("condition: empty dayOfWeek set")
		}
		for _, day := range days {
			if _, ok := weekdayTags[day]; !ok {
				return fmt.Errorf("condition: unknown weekday %q", day)
			}
		}
		return nil
	case ConditionEvent:
		switch c.EventType {
		case EventError, EventOffline, EventOnline, EventLowBattery, EventFullBattery:
			return nil
		default:
			return fmt.Errorf("condition: unknown event type %q", c.EventType)
		}
	default:
		return fmt.Errorf("condition: unknown type %q", c.Type)
	}
}

// NumberValue decodes the value as a single number.
func (c Condition) NumberValue() (float64, error) {
	var value float64
	if err := json.Unmarshal(c.Value, &value); err != nil {
		return 0, errors.New("expected a number")
	}
	return value, nil
}

// NumberRange decodes the value as a [min, max] pair.
func (c Condition) NumberRange() (float64, float64, error) {
	var pair []float64
	if err := json.Unmarshal(c.Value, &pair); err != nil || len(pair) != 2 {
		return 0, 0, errors.New("expected a [min, max] pair")
	}
	return pair[0], pair[1], nil
}

// StringValue decodes the value as a single string.
func (c Condition) StringValue() (string, error) {
	var value string
	if err := json.Unmarshal(c.Value, &value); err != nil {
		return "", errors.New("expected a string")
	}
	return value, nil
}

// StringRange decodes the value as a [start, end] string pair.
func (c Condition) StringRange() (string, string, error) {
	var pair []string
	if err := json.Unmarshal(c.Value, &pair); err != nil || len(pair) != 2 {
		return "", "", errors.New("expected a [start, end] pair")
	}
	return pair[0], pair[1], nil
}

// StringSet decodes the value as a list of strings.
func (c Condition) StringSet() ([]string, error) {
	var values []string
	if err := json.Unmarshal(c.Value, &values); err != nil {
		return nil, errors.New("expected a list of strings")
	}
	return values, nil
}

// ParseClock parses a zero-padded 24-hour "HH:MM" string into an HH*100+MM
// integer suitable for same-day comparison.
func ParseClock(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("condition: invalid time %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("condition: invalid time %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("condition: invalid time %q", value)
	}
	return hour*100 + minute, nil
}

func validMetricField(field MetricField) bool {
	switch field {
	case FieldSOC, FieldTemperature, FieldACInputWatts, FieldACOutputWatts,
		FieldSolarInputWatts, FieldDCOutputWatts, FieldTotalInputWatts, FieldTotalOutputWatts:
		return true
	default:
		return false
	}
}
