// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, ids ...int) *Registry {
	t.Helper()
	sensors := make([]*Sensor, 0, len(ids))
	for _, id := range ids {
		sensors = append(sensors, NewSensor(id, "", "", "motion"))
	}
	reg, err := NewRegistry(sensors...)
	require.NoError(t, err)
	return reg
}

func activeIDs(m map[int]*Sensor) []int {
	ids := NewActiveSet()
	ids.Swap(m)
	return ids.IDs()
}

func TestDecodeSensorBitmask_BitOrder(t *testing.T) {
	reg := testRegistry(t, 0, 1, 7, 8, 15, 16)

	tests := []struct {
		name     string
		hex      string
		expected []int
	}{
		{"bit 0 of byte 0", "01", []int{0}},
		{"bit 7 of byte 1", "0080", []int{15}},
		{"bit 0 of byte 1", "0001", []int{8}},
		{"bit 7 of byte 0", "80", []int{7}},
		{"several", "830101", []int{0, 1, 7, 8, 16}},
		{"none", "000000", []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active, err := DecodeSensorBitmask(tt.hex, reg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, activeIDs(active))
		})
	}
}

func TestDecodeSensorBitmask_UnregisteredIgnored(t *testing.T) {
	reg := testRegistry(t, 0)

	active, err := DecodeSensorBitmask("FF", reg)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, activeIDs(active))
}

func TestDecodeSensorBitmask_Invalid(t *testing.T) {
	reg := testRegistry(t, 0)

	for _, in := range []string{"0", "ZZ", "0G"} {
		_, err := DecodeSensorBitmask(in, reg)
		assert.Error(t, err, in)
	}
}

func TestDiffSensors(t *testing.T) {
	reg := testRegistry(t, 1, 2, 3)
	s1, _ := reg.Get(1)
	s2, _ := reg.Get(2)
	s3, _ := reg.Get(3)

	prev := map[int]*Sensor{1: s1, 2: s2}
	next := map[int]*Sensor{2: s2, 3: s3}

	deactivated, activated := diffSensors(prev, next)
	assert.Equal(t, []*Sensor{s1}, deactivated)
	assert.Equal(t, []*Sensor{s3}, activated)

	deactivated, activated = diffSensors(next, next)
	assert.Empty(t, deactivated)
	assert.Empty(t, activated)
}

func TestActiveSet_Swap(t *testing.T) {
	reg := testRegistry(t, 4)
	s4, _ := reg.Get(4)

	set := NewActiveSet()
	prev := set.Swap(map[int]*Sensor{4: s4})
	assert.Empty(t, prev)
	assert.True(t, set.Contains(4))
	assert.Equal(t, []int{4}, set.IDs())
}
