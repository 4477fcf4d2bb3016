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
	"time"

	"go.bug.st/serial"
)

// openSource opens the byte source a subcommand should decode: a serial
// port, a regular file, or stdin, in that preference order. The returned
// io.ReadCloser is always non-nil when err is nil.
func openSource(file, serialPort string, baud int) (io.ReadCloser, error) {
	if serialPort != "" {
		port, err := serial.Open(serialPort, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("opening serial port %q: %w", serialPort, err)
		}
		return port, nil
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", file, err)
		}
		return f, nil
	}

	return io.NopCloser(os.Stdin), nil
}

// followReader retries a zero-progress Read that returned io.EOF instead of
// propagating it, recovering the rust-embedded/itm crate's
// DecoderOptions.ignore_eof behavior at the byte-source boundary rather
// than inside the core decoder. It never returns io.EOF itself.
type followReader struct {
	r     io.Reader
	delay time.Duration
}

// newFollowReader wraps r so that reads block and retry across EOF instead
// of terminating, like `tail -f`.
func newFollowReader(r io.Reader) *followReader {
	return &followReader{r: r, delay: 100 * time.Millisecond}
}

func (f *followReader) Read(p []byte) (int, error) {
	for {
		n, err := f.r.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			time.Sleep(f.delay)
			continue
		}
		return n, err
	}
}
