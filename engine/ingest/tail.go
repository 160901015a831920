package ingest

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"
)

const tailPollInterval = 100 * time.Millisecond

// Tail follows path from the start, sending each complete line to out. It
// waits for the file to appear, then polls for appended data until the
// context ends. The channel is not closed; the caller owns it.
func Tail(ctx context.Context, path string, out chan<- string) error {
	var f *os.File
	for f == nil {
		var err error
		f, err = os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(tailPollInterval):
			}
		}
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var partial strings.Builder
	for {
		chunk, err := r.ReadString('\n')
		if err == nil {
			partial.WriteString(chunk)
			line := strings.TrimRight(partial.String(), "\r\n")
			partial.Reset()
			if line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if err != io.EOF {
			return err
		}
		// Hold the incomplete trailing line until the writer finishes it.
		partial.WriteString(chunk)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tailPollInterval):
		}
	}
}
