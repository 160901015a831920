package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTailPicksUpAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan string, 10)
	errc := make(chan error, 1)
	go func() { errc <- Tail(ctx, path, out) }()

	write := func(s string) {
		t.Helper()
		if _, err := f.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}
	expect := func(want string) {
		t.Helper()
		select {
		case got := <-out:
			if got != want {
				t.Fatalf("line = %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	write("first\n")
	expect("first")

	// A line written in two chunks must come out whole.
	write("sec")
	write("ond\n")
	expect("second")

	write("third\r\n")
	expect("third")

	cancel()
	if err := <-errc; err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTailWaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.txt")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan string, 1)
	go func() { _ = Tail(ctx, path, out) }()

	time.Sleep(250 * time.Millisecond)
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-out:
		if got != "hello" {
			t.Fatalf("line = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line from late file")
	}
}
