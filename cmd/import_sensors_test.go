// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/Thermoquad/jablobridge/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jlinkSample = `<?xml version="1.0" encoding="UTF-8"?>
<export>
  <table1><row><position>0</position></row></table1>
  <table2>
    <row><position>0</position><name>Control panel</name><type>JA-101KR</type><section>1</section><note></note></row>
    <row><position>1</position><name>Hall</name><type>JA-110P</type><section>1</section><note></note></row>
    <row><position>2</position><name>Front door</name><type>JA-111M</type><section>1</section><note></note></row>
    <row><position>3</position><name>Keypad</name><type>JA-114E</type><section>1</section><note></note></row>
    <row><position>4</position><name>Living room</name><type>JA-110B</type><section>2</section><note>glass</note></row>
    <row><position>5</position><name>Smoke</name><type>JA-111ST</type><section>2</section><note></note></row>
    <row><position>6</position><name>Bus</name><type>JA-121T</type><section>1</section><note></note></row>
  </table2>
</export>`

func TestJLinkSensorKind(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"JA-110P", "motion"},
		{"JA-111M", "window"},
		{"JA-110B", "glassbreak"},
		{"JA-111A", kindIgnore},
		{"JA-114E", kindIgnore},
		{"JA-110R", kindIgnore},
		{"JA-121T", kindIgnore},
		{"JA-106KR", kindIgnore},
		{"JA-100K", kindIgnore},
		{"JA-111ST", ""},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, jlinkSensorKind(tt.model))
		})
	}
}

func TestConvertJLink(t *testing.T) {
	var out bytes.Buffer
	n, err := convertJLink(strings.NewReader(jlinkSample), &out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// The output must load back as config entries
	var parsed struct {
		Sensors []config.Sensor `toml:"sensors"`
	}
	_, err = toml.Decode(out.String(), &parsed)
	require.NoError(t, err)
	assert.Equal(t, []config.Sensor{
		{ID: 1, Name: "Hall", Model: "JA-110P", Kind: "motion"},
		{ID: 2, Name: "Front door", Model: "JA-111M", Kind: "window"},
		{ID: 4, Name: "Living room", Model: "JA-110B", Kind: "glassbreak"},
	}, parsed.Sensors)

	assert.Contains(t, out.String(), `# model = "JA-111ST"`)
	assert.NotContains(t, out.String(), "JA-121T")
}

func TestConvertJLink_Errors(t *testing.T) {
	_, err := convertJLink(strings.NewReader("<export><table2>"), &bytes.Buffer{})
	assert.Error(t, err)

	bad := `<export><table2><row><position>x</position><type>JA-110P</type></row></table2></export>`
	_, err = convertJLink(strings.NewReader(bad), &bytes.Buffer{})
	assert.Error(t, err)
}
