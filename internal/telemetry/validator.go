package telemetry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/water-level-v1.json
var waterLevelSchemaJSON string

//go:embed schema/pump-state-v1.json
var pumpStateSchemaJSON string

//go:embed schema/system-alarm-v1.json
var systemAlarmSchemaJSON string

type Kind string

const (
	KindWaterLevel  Kind = "water_level"
	KindPumpState   Kind = "pump_state"
	KindSystemAlarm Kind = "system_alarm"
)

// ValidationError carries the first rule a payload violated.
type ValidationError struct {
	Kind   Kind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Kind, e.Reason)
}

func reject(kind Kind, format string, args ...any) error {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks the three inbound payload shapes. Structure and JSON
// types are checked against embedded schemas, timestamps and cross-field
// rules in code.
type Validator struct {
	waterLevel  *jsonschema.Schema
	pumpState   *jsonschema.Schema
	systemAlarm *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	resources := map[string]string{
		"water-level-v1.json":  waterLevelSchemaJSON,
		"pump-state-v1.json":   pumpStateSchemaJSON,
		"system-alarm-v1.json": systemAlarmSchemaJSON,
	}
	for name, src := range resources {
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("failed to add schema resource %s: %w", name, err)
		}
	}

	v := &Validator{}
	var err error
	if v.waterLevel, err = compiler.Compile("water-level-v1.json"); err != nil {
		return nil, fmt.Errorf("failed to compile water level schema: %w", err)
	}
	if v.pumpState, err = compiler.Compile("pump-state-v1.json"); err != nil {
		return nil, fmt.Errorf("failed to compile pump state schema: %w", err)
	}
	if v.systemAlarm, err = compiler.Compile("system-alarm-v1.json"); err != nil {
		return nil, fmt.Errorf("failed to compile system alarm schema: %w", err)
	}

	return v, nil
}

// document holds the top-level members of a validated payload under their
// exact property names.
type document map[string]json.RawMessage

// field decodes the member named exactly key into dst. Absent members leave
// dst untouched.
func (d document) field(key string, dst any) error {
	raw, ok := d[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// check validates data against schema and returns the same document keyed
// by exact property name. Typed records are built from it only, so a
// differently cased duplicate key can never replace a checked value.
func (v *Validator) check(kind Kind, schema *jsonschema.Schema, data []byte) (document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, reject(kind, "Payload is not valid JSON.")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, reject(kind, "Payload is not valid JSON.")
	}

	if _, ok := doc.(map[string]interface{}); !ok {
		return nil, reject(kind, "Payload must be a JSON object.")
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, reject(kind, "%s", describe(ve))
		}
		return nil, reject(kind, "%s", err.Error())
	}

	var members document
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, reject(kind, "Payload must be a JSON object.")
	}
	return members, nil
}

// describe reports the first leaf cause, which names the offending property.
func describe(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	location := strings.TrimPrefix(ve.InstanceLocation, "/")
	if location == "" {
		return ve.Message
	}
	return location + ": " + ve.Message
}

// parseUTC accepts RFC 3339 timestamps whose offset is exactly zero. The
// same instant written with another offset is rejected.
func parseUTC(kind Kind, prop, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, reject(kind, "%s must be a non-empty string.", prop)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, reject(kind, "%s must be a valid ISO-8601 timestamp.", prop)
	}

	if _, offset := t.Zone(); offset != 0 {
		return time.Time{}, reject(kind, "%s must be in UTC (use Z suffix).", prop)
	}

	return t.UTC(), nil
}

func (v *Validator) ValidateWaterLevel(data []byte) (types.WaterLevelPayload, error) {
	doc, err := v.check(KindWaterLevel, v.waterLevel, data)
	if err != nil {
		return types.WaterLevelPayload{}, err
	}

	var (
		level                  int
		sensors                [4]bool
		measuredRaw, reportRaw string
	)
	if err := doc.field("levelPercent", &level); err != nil {
		return types.WaterLevelPayload{}, reject(KindWaterLevel, "levelPercent must be an integer.")
	}
	if err := doc.field("sensors", &sensors); err != nil {
		return types.WaterLevelPayload{}, reject(KindWaterLevel, "sensors must be an array of 4 booleans.")
	}
	if err := doc.field("measuredAt", &measuredRaw); err != nil {
		return types.WaterLevelPayload{}, reject(KindWaterLevel, "measuredAt must be a non-empty string.")
	}
	if err := doc.field("reportedAt", &reportRaw); err != nil {
		return types.WaterLevelPayload{}, reject(KindWaterLevel, "reportedAt must be a non-empty string.")
	}

	measuredAt, err := parseUTC(KindWaterLevel, "measuredAt", measuredRaw)
	if err != nil {
		return types.WaterLevelPayload{}, err
	}
	reportedAt, err := parseUTC(KindWaterLevel, "reportedAt", reportRaw)
	if err != nil {
		return types.WaterLevelPayload{}, err
	}

	return types.WaterLevelPayload{
		LevelPercent: level,
		Sensors:      sensors,
		MeasuredAt:   measuredAt,
		ReportedAt:   reportedAt,
	}, nil
}

func (v *Validator) ValidatePumpState(data []byte) (types.PumpStatePayload, error) {
	doc, err := v.check(KindPumpState, v.pumpState, data)
	if err != nil {
		return types.PumpStatePayload{}, err
	}

	var (
		running        bool
		sinceRaw       *string
		lastRunSeconds int
		lastRequestID  *string
		reportRaw      string
	)
	if err := doc.field("running", &running); err != nil {
		return types.PumpStatePayload{}, reject(KindPumpState, "running must be a boolean.")
	}
	if err := doc.field("since", &sinceRaw); err != nil {
		return types.PumpStatePayload{}, reject(KindPumpState, "since must be a string or null.")
	}
	if err := doc.field("lastRunSeconds", &lastRunSeconds); err != nil {
		return types.PumpStatePayload{}, reject(KindPumpState, "lastRunSeconds must be an integer.")
	}
	if err := doc.field("lastRequestId", &lastRequestID); err != nil {
		return types.PumpStatePayload{}, reject(KindPumpState, "lastRequestId must be a string or null.")
	}
	if err := doc.field("reportedAt", &reportRaw); err != nil {
		return types.PumpStatePayload{}, reject(KindPumpState, "reportedAt must be a non-empty string.")
	}

	var since *time.Time
	if sinceRaw != nil {
		t, err := parseUTC(KindPumpState, "since", *sinceRaw)
		if err != nil {
			return types.PumpStatePayload{}, err
		}
		since = &t
	}

	reportedAt, err := parseUTC(KindPumpState, "reportedAt", reportRaw)
	if err != nil {
		return types.PumpStatePayload{}, err
	}

	if running && since == nil {
		return types.PumpStatePayload{}, reject(KindPumpState, "since is required when running is true.")
	}

	return types.PumpStatePayload{
		Running:        running,
		Since:          since,
		LastRunSeconds: lastRunSeconds,
		LastRequestID:  lastRequestID,
		ReportedAt:     reportedAt,
	}, nil
}

func (v *Validator) ValidateAlarm(data []byte) (types.SystemAlarmPayload, error) {
	doc, err := v.check(KindSystemAlarm, v.systemAlarm, data)
	if err != nil {
		return types.SystemAlarmPayload{}, err
	}

	var alarmType, severity, message, raisedRaw string
	for key, dst := range map[string]*string{
		"type":     &alarmType,
		"severity": &severity,
		"message":  &message,
		"raisedAt": &raisedRaw,
	} {
		if err := doc.field(key, dst); err != nil {
			return types.SystemAlarmPayload{}, reject(KindSystemAlarm, "%s must be a string.", key)
		}
	}

	raisedAt, err := parseUTC(KindSystemAlarm, "raisedAt", raisedRaw)
	if err != nil {
		return types.SystemAlarmPayload{}, err
	}

	return types.SystemAlarmPayload{
		Type:     alarmType,
		Severity: severity,
		Message:  message,
		RaisedAt: raisedAt,
	}, nil
}
