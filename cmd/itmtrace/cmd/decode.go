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
	"os"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"gopkg.in/yaml.v2"

	"github.com/facebook/itmtrace/itm"
)

var (
	decodeFormatFlag      string
	decodeMetricsAddrFlag string
)

func init() {
	RootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVar(&decodeFormatFlag, "format", "text", "output format: text, json, or yaml")
	decodeCmd.Flags().StringVar(&decodeMetricsAddrFlag, "metrics-addr", "", "if set, serve Prometheus metrics on this address while decoding")
}

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode a raw ITM/DWT trace stream into individual packets",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()
		return runDecode()
	},
}

func runDecode() error {
	src, err := openSource(rootFileFlag, rootSerialFlag, rootBaudFlag)
	if err != nil {
		return err
	}
	defer src.Close()

	var r io.Reader = src
	if rootFollowFlag {
		r = newFollowReader(src)
	}

	decoder := itm.NewDecoder(r)
	useColor := decodeFormatFlag == "text" && term.IsTerminal(int(os.Stdout.Fd()))

	var metrics *decodeMetrics
	var group *errgroup.Group
	var cancelMetrics context.CancelFunc
	if decodeMetricsAddrFlag != "" {
		var ctx context.Context
		ctx, cancelMetrics = context.WithCancel(context.Background())
		group, ctx = errgroup.WithContext(ctx)
		metrics = newDecodeMetrics()
		group.Go(func() error { return metrics.serve(ctx, decodeMetricsAddrFlag) })
	}

	for packet, err := range decoder.Singles() {
		if err != nil {
			if errors.Is(err, itm.ErrMalformedPacket) {
				if metrics != nil {
					metrics.observeMalformed(fmt.Sprintf("%T", err))
				}
				log.Warnf("malformed packet: %v", err)
				continue
			}
			return err
		}
		if metrics != nil {
			metrics.observePacket(packet)
		}
		if err := printPacket(packet, decodeFormatFlag, useColor); err != nil {
			return err
		}
	}

	if metrics != nil {
		// Stop the metrics server now that the stream is drained.
		cancelMetrics()
		if err := group.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func printPacket(p itm.TracePacket, format string, useColor bool) error {
	switch format {
	case "json":
		out, err := json.Marshal(p)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "yaml":
		out, err := yaml.Marshal(p)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	default:
		fmt.Println(formatPacketText(p, useColor))
	}
	return nil
}

func formatPacketText(p itm.TracePacket, useColor bool) string {
	if !useColor {
		return p.String()
	}
	switch p.Kind {
	case itm.KindSync, itm.KindOverflow:
		return color.YellowString(p.String())
	case itm.KindDataTracePC, itm.KindDataTraceAddress, itm.KindDataTraceValue:
		return color.CyanString(p.String())
	default:
		return p.String()
	}
}
