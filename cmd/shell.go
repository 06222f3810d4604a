package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const shellHelp = "commands: play | pause | stop | describe | seek <0..1> | quit"

// controller is the part of the player the shell drives
type controller interface {
	Play() error
	Pause() error
	Stop() error
	Describe() error
	Seek(fraction float64) error
}

// syncWriter serializes output from the shell and the player callbacks
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// runShell reads one command per line until quit, end of input or ctx is done
func runShell(ctx context.Context, in io.Reader, out io.Writer, c controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, shellHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(c, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func execute(c controller, line string) (bool, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "play":
		return false, c.Play()
	case "pause":
		return false, c.Pause()
	case "stop", "teardown":
		return false, c.Stop()
	case "describe":
		return false, c.Describe()
	case "seek":
		if len(fields) != 2 {
			return false, errors.New("usage: seek <0..1>")
		}
		fraction, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return false, errors.Wrap(err, "parse seek position failed")
		}
		return false, c.Seek(fraction)
	case "quit", "exit":
		return true, nil
	default:
		return false, errors.Errorf("unknown command %q, %s", fields[0], shellHelp)
	}
}
