// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuttleproto

import "fmt"

// AnomalyType represents different types of message anomalies
type AnomalyType int

const (
	AnomalyInvalidValue AnomalyType = iota
	AnomalyBatteryCharge
	AnomalyBatteryVoltage
	AnomalyTemperature
	AnomalyUnknownResult
	AnomalyUnknownLevel
)

// Plausibility limits for decoded telemetry
const (
	MinBatteryMillivolts = 9000
	MaxBatteryMillivolts = 60000
	MinTemperatureDeci   = -400
	MaxTemperatureDeci   = 1250
)

// ValidationError represents a decoded message carrying implausible values
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateMessage detects anomalies in a decoded message.
// Returns a slice of validation errors (empty if the message is plausible)
func ValidateMessage(msg Message) []ValidationError {
	errors := []ValidationError{}

	switch m := msg.(type) {
	case Telemetry:
		errors = append(errors, validateTelemetry(m)...)
	case Sensors:
		if m.TemperatureDeci < MinTemperatureDeci || m.TemperatureDeci > MaxTemperatureDeci {
			errors = append(errors, ValidationError{
				Type:    AnomalyTemperature,
				Message: fmt.Sprintf("Temperature out of range (%.1f°C)", m.Temperature()),
				Details: map[string]interface{}{"temperature_dc": m.TemperatureDeci},
			})
		}
	case Ack:
		if m.Result > AckBusy {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnknownResult,
				Message: fmt.Sprintf("Unknown ACK result=%d for seq=%d", m.Result, m.RefSeq),
				Details: map[string]interface{}{"result": uint8(m.Result), "seq": m.RefSeq},
			})
		}
	case Log:
		if m.Level > LogDebug {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnknownLevel,
				Message: fmt.Sprintf("Unknown log level=%d", m.Level),
				Details: map[string]interface{}{"level": uint8(m.Level)},
			})
		}
	case Config:
		if _, ok := configNames[m.Param]; !ok {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Unknown config parameter=%d", m.Param),
				Details: map[string]interface{}{"param": uint8(m.Param)},
			})
		}
	}

	return errors
}

func validateTelemetry(t Telemetry) []ValidationError {
	errors := []ValidationError{}

	if t.BatteryCharge > 100 {
		errors = append(errors, ValidationError{
			Type:    AnomalyBatteryCharge,
			Message: fmt.Sprintf("Battery charge=%d%% (max 100)", t.BatteryCharge),
			Details: map[string]interface{}{"charge": t.BatteryCharge, "max": 100},
		})
	}

	// 0 mV means the controller has not sampled the battery yet
	if t.BatteryMillivolts != 0 &&
		(t.BatteryMillivolts < MinBatteryMillivolts || t.BatteryMillivolts > MaxBatteryMillivolts) {
		errors = append(errors, ValidationError{
			Type:    AnomalyBatteryVoltage,
			Message: fmt.Sprintf("Battery voltage=%.2f V (valid %d-%d V)", t.BatteryVolts(), MinBatteryMillivolts/1000, MaxBatteryMillivolts/1000),
			Details: map[string]interface{}{"millivolts": t.BatteryMillivolts},
		})
	}

	return errors
}
