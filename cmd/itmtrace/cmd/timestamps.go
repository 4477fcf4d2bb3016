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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/facebook/itmtrace/itm"
)

var timestampsFormatFlag string
var timestampsMetricsAddrFlag string

func init() {
	RootCmd.AddCommand(timestampsCmd)
	timestampsCmd.Flags().StringVar(&timestampsFormatFlag, "format", "text", "output format: text, json, or yaml")
	timestampsCmd.Flags().StringVar(&timestampsMetricsAddrFlag, "metrics-addr", "", "if set, serve Prometheus metrics on this address while decoding")
}

var timestampsCmd = &cobra.Command{
	Use:   "timestamps",
	Short: "Reduce a trace stream into timestamped packet batches",
	Long:  "Fold a trace stream into batches delimited by local timestamp packets, each carrying an absolute offset from target reset.",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()
		return runTimestamps()
	},
}

func runTimestamps() error {
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
	if config.ClockFrequency == 0 {
		return fmt.Errorf("timestamps requires a --config file with a non-zero clock_frequency")
	}

	reducer := itm.NewTimestampReducer(itm.NewDecoder(r), config)

	var metrics *decodeMetrics
	var group *errgroup.Group
	var cancelMetrics context.CancelFunc
	if timestampsMetricsAddrFlag != "" {
		var ctx context.Context
		ctx, cancelMetrics = context.WithCancel(context.Background())
		group, ctx = errgroup.WithContext(ctx)
		metrics = newDecodeMetrics()
		group.Go(func() error { return metrics.serve(ctx, timestampsMetricsAddrFlag) })
	}

	for {
		batch, err := reducer.NextBatch()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		for _, malformed := range batch.MalformedPackets {
			if metrics != nil {
				metrics.observeMalformed(fmt.Sprintf("%T", malformed))
			}
			log.Warnf("malformed packet in batch: %v", malformed)
		}
		if metrics != nil {
			for _, p := range batch.Packets {
				metrics.observePacket(p)
			}
			metrics.offsetNS.Set(float64(batch.Timestamp.Offset.Nanoseconds()))
		}
		if err := printBatch(batch, timestampsFormatFlag); err != nil {
			return err
		}
	}

	if metrics != nil {
		cancelMetrics()
		if err := group.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func printBatch(b itm.TimestampedBatch, format string) error {
	switch format {
	case "json":
		out, err := json.Marshal(b)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "yaml":
		out, err := yaml.Marshal(b)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	default:
		fmt.Printf("%s (relation=%s): %d packet(s), %d consumed\n",
			b.Timestamp.Offset, b.Timestamp.DataRelation, len(b.Packets), b.ConsumedPackets)
		for _, p := range b.Packets {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}
