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
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/itmtrace/itm"
)

func init() {
	RootCmd.AddCommand(summarizeCmd)
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Print packet-kind counts and the final reconstructed offset for a trace stream",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()
		return runSummarize()
	},
}

func runSummarize() error {
	src, err := openSource(rootFileFlag, rootSerialFlag, rootBaudFlag)
	if err != nil {
		return err
	}
	defer src.Close()

	var r io.Reader = src
	if rootFollowFlag {
		r = newFollowReader(src)
	}

	config, err := loadTimestampsConfig(rootConfigFlag)
	if err != nil {
		return err
	}
	config.ExpectMalformed = true
	haveOffset := config.ClockFrequency != 0
	if !haveOffset {
		// Offsets are not reported without a clock frequency; any non-zero
		// value keeps the reducer's tick-to-duration division defined.
		config.ClockFrequency = 1
	}

	reducer := itm.NewTimestampReducer(itm.NewDecoder(r), config)

	counts := map[itm.Kind]int{}
	malformed := 0
	var lastOffset string

	for {
		batch, err := reducer.NextBatch()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		malformed += len(batch.MalformedPackets)
		for _, mErr := range batch.MalformedPackets {
			log.Debugf("malformed packet: %v", mErr)
		}
		for _, p := range batch.Packets {
			counts[p.Kind]++
		}
		if haveOffset {
			lastOffset = batch.Timestamp.Offset.String()
		}
	}

	var kinds []itm.Kind
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"kind", "count"})
	for _, k := range kinds {
		table.Append([]string{k.String(), fmt.Sprintf("%d", counts[k])})
	}
	table.Append([]string{"malformed", fmt.Sprintf("%d", malformed)})
	table.Render()

	if haveOffset {
		fmt.Printf("final offset: %s\n", lastOffset)
	} else {
		fmt.Println("final offset: unavailable (no --config clock_frequency given)")
	}
	return nil
}
