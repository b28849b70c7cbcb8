// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Thermoquad/jablobridge/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var importSensorsOutput string

var importSensorsCmd = &cobra.Command{
	Use:   "import_sensors <export.xml>",
	Short: "Convert a J-Link device export into [[sensors]] config entries",
	Long: `Read the XML device table exported from J-Link and print [[sensors]]
entries for the config file.

The sensor kind is derived from the model suffix:
  ...M  window (magnetic contact)
  ...P  motion (PIR)
  ...B  glassbreak

Sirens (...A), keypads (...E), radio modules (...R), the JA-121T itself and
the control panel are skipped. Devices of any other model are written as
comments so they can be reviewed by hand.

No connection to the panel is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportSensors,
}

func init() {
	rootCmd.AddCommand(importSensorsCmd)
	importSensorsCmd.Flags().StringVarP(&importSensorsOutput, "output", "o", "", "Write to file instead of stdout")
}

// jlinkExport is the part of the J-Link XML export holding the device table
type jlinkExport struct {
	Rows []jlinkRow `xml:"table2>row"`
}

type jlinkRow struct {
	Position string `xml:"position"`
	Name     string `xml:"name"`
	Type     string `xml:"type"`
	Section  string `xml:"section"`
	Note     string `xml:"note"`
}

const kindIgnore = "ignore"

// jlinkSensorKind maps a device model to a sensor kind. It returns
// kindIgnore for devices that are not sensors and "" for unknown models.
func jlinkSensorKind(model string) string {
	switch {
	case strings.HasSuffix(model, "M"):
		return "window"
	case strings.HasSuffix(model, "P"):
		return "motion"
	case strings.HasSuffix(model, "B"):
		return "glassbreak"
	case strings.HasSuffix(model, "A"), // sirens
		strings.HasSuffix(model, "E"), // keypads
		strings.HasSuffix(model, "R"), // radio modules
		model == "JA-121T",
		strings.HasPrefix(model, "JA-100K"),
		strings.HasPrefix(model, "JA-101K"),
		strings.HasPrefix(model, "JA-106K"):
		return kindIgnore
	}
	return ""
}

// convertJLink writes [[sensors]] entries for every sensor row of the export
// in r and returns the number written.
func convertJLink(r io.Reader, w io.Writer) (int, error) {
	var export jlinkExport
	if err := xml.NewDecoder(r).Decode(&export); err != nil {
		return 0, fmt.Errorf("failed to parse J-Link export: %w", err)
	}

	written := 0
	for _, row := range export.Rows {
		model := strings.TrimSpace(row.Type)
		name := strings.TrimSpace(row.Name)
		id, err := strconv.Atoi(strings.TrimSpace(row.Position))
		if err != nil {
			return written, fmt.Errorf("invalid position %q for %q: %w", row.Position, name, err)
		}

		kind := jlinkSensorKind(model)
		switch kind {
		case kindIgnore:
			continue
		case "":
			log.Warn().Int("id", id).Str("model", model).Str("name", name).Msg("Omitting sensor of unrecognized kind")
			fmt.Fprintf(w, "# Unrecognized model, review by hand:\n")
			fmt.Fprintf(w, "# [[sensors]]\n# id = %d\n# model = %q\n# name = %q\n\n", id, model, name)
			continue
		}

		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.Indent = ""
		entry := struct {
			Sensors []config.Sensor `toml:"sensors"`
		}{[]config.Sensor{{ID: id, Name: name, Model: model, Kind: kind}}}
		if err := enc.Encode(entry); err != nil {
			return written, err
		}
		buf.WriteString("\n")
		if _, err := w.Write(buf.Bytes()); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func runImportSensors(cmd *cobra.Command, args []string) error {
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	var out io.Writer = os.Stdout
	if importSensorsOutput != "" {
		f, err := os.Create(importSensorsOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	n, err := convertJLink(in, out)
	if err != nil {
		return err
	}
	log.Info().Int("sensors", n).Str("file", args[0]).Msg("Imported sensors")
	return nil
}
