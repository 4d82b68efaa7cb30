package utils

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// TailPollUntilIdle copies lines from the file at path to out until no new
// data has arrived for idle. Used to drain an app log after its process
// exited, late writes may still be in flight.
func TailPollUntilIdle(path string, out io.Writer, idle, pollEvery time.Duration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	lastData := time.Now()

	for {
		line, readErr := r.ReadBytes('\n')
		if len(line) > 0 {
			lastData = time.Now()
			if _, err := out.Write(line); err != nil {
				return err
			}
		}

		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) {
			return readErr
		}
		if time.Since(lastData) > idle {
			return nil
		}

		time.Sleep(pollEvery)
	}
}

// LastLines returns up to n trailing lines of the file at path.
// Used for crash reports where the full log would be noise.
func LastLines(path string, n int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n"), nil
}
