/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/facebook/itmtrace/itm"
)

// fileConfig is the on-disk shape of the --config file. It maps directly
// onto itm.TimestampsConfig, except LTSPrescaler is spelled out as a
// human-editable string instead of the raw enum value.
type fileConfig struct {
	ClockFrequency  uint32 `yaml:"clock_frequency"`
	LTSPrescaler    string `yaml:"lts_prescaler"`
	ExpectMalformed bool   `yaml:"expect_malformed"`
}

var ltsPrescalerNames = map[string]itm.LTSPrescaler{
	"div1":  itm.LTSPrescalerDiv1,
	"div4":  itm.LTSPrescalerDiv4,
	"div16": itm.LTSPrescalerDiv16,
	"div64": itm.LTSPrescalerDiv64,
}

// loadTimestampsConfig reads path as a YAML fileConfig and converts it to
// an itm.TimestampsConfig. An empty path returns a config with a zero
// clock frequency, the div1 prescaler and expect_malformed off: callers that only decode raw packets
// rather than reduce timestamps don't need a config file at all.
func loadTimestampsConfig(path string) (itm.TimestampsConfig, error) {
	if path == "" {
		return itm.TimestampsConfig{LTSPrescaler: itm.LTSPrescalerDiv1}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return itm.TimestampsConfig{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return itm.TimestampsConfig{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	prescaler := itm.LTSPrescalerDiv1
	if fc.LTSPrescaler != "" {
		p, ok := ltsPrescalerNames[fc.LTSPrescaler]
		if !ok {
			return itm.TimestampsConfig{}, fmt.Errorf("config %q: unknown lts_prescaler %q", path, fc.LTSPrescaler)
		}
		prescaler = p
	}

	return itm.TimestampsConfig{
		ClockFrequency:  fc.ClockFrequency,
		LTSPrescaler:    prescaler,
		ExpectMalformed: fc.ExpectMalformed,
	}, nil
}
