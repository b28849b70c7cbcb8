// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// AnomalyType represents different types of telegram anomalies
type AnomalyType int

const (
	AnomalyUnrecognized AnomalyType = iota
	AnomalyInvalidBitmask
	AnomalySectionRange
	AnomalyEmptyIdentity
)

// MaxSection is the highest section number a JA-100 panel reports.
const MaxSection = 15

func (a AnomalyType) String() string {
	switch a {
	case AnomalyUnrecognized:
		return "unrecognized"
	case AnomalyInvalidBitmask:
		return "invalid bitmask"
	case AnomalySectionRange:
		return "section out of range"
	case AnomalyEmptyIdentity:
		return "empty identity"
	default:
		return "unknown"
	}
}

// ValidationError represents a telegram validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Line    string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateTelegram checks a framed line beyond its grammar. It returns nil
// for empty lines and for telegrams the engine would accept without warning.
func ValidateTelegram(line string) []ValidationError {
	if line == "" {
		return nil
	}

	switch ClassifyTelegram(line) {
	case "":
		return []ValidationError{{
			Type:    AnomalyUnrecognized,
			Message: fmt.Sprintf("Unrecognized telegram %q", line),
			Line:    line,
		}}
	case RouteState:
		m := reState.FindStringSubmatch(line)
		return validateSection(line, m[1])
	case RouteFlag:
		m := reFlag.FindStringSubmatch(line)
		return validateSection(line, m[2])
	case RouteSensors:
		m := reSensorState.FindStringSubmatch(line)
		if _, err := hex.DecodeString(m[1]); err != nil {
			return []ValidationError{{
				Type:    AnomalyInvalidBitmask,
				Message: fmt.Sprintf("Invalid PRFSTATE bitmask %q", m[1]),
				Line:    line,
			}}
		}
	case RouteVersion:
		m := reVersion.FindStringSubmatch(line)
		if m[2] == "" || m[3] == "" {
			return []ValidationError{{
				Type:    AnomalyEmptyIdentity,
				Message: "VER reply without serial or firmware",
				Line:    line,
			}}
		}
	}
	return nil
}

func validateSection(line, field string) []ValidationError {
	n, err := strconv.Atoi(field)
	if err != nil || n < 1 || n > MaxSection {
		return []ValidationError{{
			Type:    AnomalySectionRange,
			Message: fmt.Sprintf("Section %s outside 1-%d", field, MaxSection),
			Line:    line,
		}}
	}
	return nil
}
