// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	reVersion     = regexp.MustCompile(`^(?:` + PatternVersion + `)$`)
	reState       = regexp.MustCompile(`^(?:` + PatternState + `)$`)
	reFlag        = regexp.MustCompile(`^(?:` + PatternFlag + `)$`)
	reSensorState = regexp.MustCompile(`^(?:` + PatternSensorState + `)$`)
)

// FormatTelegram formats a received telegram into a human-readable line
func FormatTelegram(ts time.Time, line string) string {
	route := ClassifyTelegram(line)
	if route == "" {
		return fmt.Sprintf("[%s] UNRECOGNIZED %q\n", ts.Format("15:04:05.000"), line)
	}
	return fmt.Sprintf("[%s] %-8s %s\n", ts.Format("15:04:05.000"), strings.ToUpper(route), DescribeTelegram(line))
}

// DescribeTelegram returns the decoded meaning of a telegram
func DescribeTelegram(line string) string {
	switch ClassifyTelegram(line) {
	case RouteAck:
		return line
	case RouteVersion:
		m := reVersion.FindStringSubmatch(line)
		return fmt.Sprintf("model=%s serial=%s firmware=%s hardware=%s", m[1], m[2], m[3], m[4])
	case RouteState:
		m := reState.FindStringSubmatch(line)
		return fmt.Sprintf("section %s: %s", m[1], formatWireState(m[2]))
	case RouteFlag:
		m := reFlag.FindStringSubmatch(line)
		return fmt.Sprintf("section %s: %s %s", m[2], m[1], m[3])
	case RouteSensors:
		m := reSensorState.FindStringSubmatch(line)
		return formatBitmask(m[1])
	default:
		return fmt.Sprintf("%q", line)
	}
}

func formatWireState(s string) string {
	switch s {
	case wireReady:
		return SectionDisarmed.String()
	case wireArmedPart:
		return SectionPartiallyArmed.String()
	default:
		return s
	}
}

// formatBitmask lists the set bit positions without consulting a registry.
func formatBitmask(hexState string) string {
	raw, err := hex.DecodeString(hexState)
	if err != nil {
		return fmt.Sprintf("invalid bitmask %q", hexState)
	}
	var ids []string
	for i, b := range raw {
		for j := 0; j < 8; j++ {
			if b&(1<<j) != 0 {
				ids = append(ids, fmt.Sprintf("%d", i*8+j))
			}
		}
	}
	if len(ids) == 0 {
		return "active sensors: none"
	}
	return "active sensors: " + strings.Join(ids, ", ")
}
