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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is itmtrace's main entry point. It's exported so the tool can be
// extended without touching core functionality.
var RootCmd = &cobra.Command{
	Use:   "itmtrace",
	Short: "Decode ARM ITM/DWT trace packet streams",
}

// flags shared across subcommands
var (
	rootVerboseFlag bool
	rootConfigFlag  string
	rootFileFlag    string
	rootSerialFlag  string
	rootBaudFlag    int
	rootFollowFlag  bool
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVarP(&rootConfigFlag, "config", "c", "", "path to a YAML timestamps config file")
	RootCmd.PersistentFlags().StringVarP(&rootFileFlag, "file", "f", "", "trace capture file to read (default: stdin)")
	RootCmd.PersistentFlags().StringVar(&rootSerialFlag, "serial", "", "serial port to read trace data from, instead of --file/stdin")
	RootCmd.PersistentFlags().IntVar(&rootBaudFlag, "baud", 115200, "baud rate for --serial")
	RootCmd.PersistentFlags().BoolVar(&rootFollowFlag, "follow", false, "keep retrying reads on EOF instead of stopping, like tail -f")
}

// ConfigureVerbosity configures log verbosity based on parsed flags. Needs
// to be called by any subcommand.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// Execute is the main entry point for the CLI interface.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
