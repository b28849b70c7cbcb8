// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTelegram(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected []AnomalyType
	}{
		{"empty", "", nil},
		{"ok", "OK", nil},
		{"state", "STATE 3 ARMED", nil},
		{"flag", "ENTRY 2 ON", nil},
		{"bitmask", "PRFSTATE 0380", nil},
		{"version", "JA-121T, SN:1210037d, SWV:NN60202, HWV:1", nil},
		{"garbage", "HELLO", []AnomalyType{AnomalyUnrecognized}},
		{"section zero", "STATE 0 READY", []AnomalyType{AnomalySectionRange}},
		{"section too high", "FIRE_ALARM 16 ON", []AnomalyType{AnomalySectionRange}},
		{"odd bitmask", "PRFSTATE 038", []AnomalyType{AnomalyInvalidBitmask}},
		{"non-hex bitmask", "PRFSTATE XYZ0", []AnomalyType{AnomalyInvalidBitmask}},
		{"empty serial", "JA-121T, SN:, SWV:NN60202, HWV:1", []AnomalyType{AnomalyEmptyIdentity}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateTelegram(tt.line)
			var types []AnomalyType
			for _, e := range errs {
				types = append(types, e.Type)
				assert.Equal(t, tt.line, e.Line)
			}
			assert.Equal(t, tt.expected, types)
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	errs := ValidateTelegram("STATE 0 READY")
	require.Len(t, errs, 1)
	assert.Equal(t, "Section 0 outside 1-15", errs[0].Error())
	assert.Equal(t, "section out of range", errs[0].Type.String())
}
