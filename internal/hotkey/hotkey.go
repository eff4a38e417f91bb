// Package hotkey maps single key presses on the controlling terminal to
// control commands.
package hotkey

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/term"

	"github.com/banshee-data/scanlink/internal/control"
	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/supervisor"
)

const ctrlC = 3

// Bindings maps a lower-case key to the command it issues.
type Bindings map[rune]control.Command

// DefaultBindings: R restarts the application, F toggles transmission and
// V resets the sensor.
func DefaultBindings() Bindings {
	return Bindings{
		'r': control.RestartApplication,
		'f': control.Toggle,
		'v': control.ResetSensor,
	}
}

// NewBindings builds bindings from configured key strings. Each key must be
// a single character and keys must be distinct.
func NewBindings(restart, toggle, resetSensor string) (Bindings, error) {
	b := Bindings{}
	for _, kv := range []struct {
		key string
		cmd control.Command
	}{
		{restart, control.RestartApplication},
		{toggle, control.Toggle},
		{resetSensor, control.ResetSensor},
	} {
		r := []rune(strings.ToLower(kv.key))
		if len(r) != 1 {
			return nil, fmt.Errorf("hotkey: key for %s must be one character, got %q", kv.cmd, kv.key)
		}
		if prev, dup := b[r[0]]; dup {
			return nil, fmt.Errorf("hotkey: key %q bound to both %s and %s", kv.key, prev, kv.cmd)
		}
		b[r[0]] = kv.cmd
	}
	return b, nil
}

// Lookup returns the command bound to key, ignoring case.
func (b Bindings) Lookup(key rune) (control.Command, bool) {
	cmd, ok := b[unicode.ToLower(key)]
	return cmd, ok
}

// Dispatcher executes commands; *control.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(cmd control.Command, origin supervisor.Origin) error
}

// Reader turns key presses into dispatched commands.
type Reader struct {
	Bindings   Bindings
	Dispatcher Dispatcher
	// Interrupt is called on Ctrl-C, which raw mode no longer turns into
	// SIGINT.
	Interrupt func()
}

// Run reads keys from in until ctx is cancelled or in is exhausted. A read
// blocked on in is abandoned, not interrupted, when ctx ends.
func (r *Reader) Run(ctx context.Context, in io.Reader) error {
	keys := make(chan rune)
	errc := make(chan error, 1)
	go func() {
		br := bufio.NewReader(in)
		for {
			k, _, err := br.ReadRune()
			if err != nil {
				errc <- err
				return
			}
			select {
			case keys <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("hotkey: %w", err)
		case k := <-keys:
			r.Handle(k)
		}
	}
}

// Handle acts on a single key.
func (r *Reader) Handle(k rune) {
	if k == ctrlC {
		if r.Interrupt != nil {
			r.Interrupt()
		}
		return
	}
	cmd, ok := r.Bindings.Lookup(k)
	if !ok {
		return
	}
	monitoring.Logf("[hotkey] %q -> %s", k, cmd)
	if err := r.Dispatcher.Dispatch(cmd, supervisor.OriginHotkey); err != nil {
		monitoring.Warnf("[hotkey] %v", err)
	}
}

// RawTerminal puts f into raw mode if it is a terminal. The returned
// function restores the previous mode; ok is false when f is not a
// terminal and nothing was changed.
func RawTerminal(f *os.File) (restore func(), ok bool, err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, false, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, false, fmt.Errorf("hotkey: raw mode: %w", err)
	}
	return func() { _ = term.Restore(fd, state) }, true, nil
}

// CRLFWriter rewrites "\n" as "\r\n". Raw mode turns off output
// post-processing, so log lines need it to start at column zero.
type CRLFWriter struct {
	W io.Writer
}

func (c CRLFWriter) Write(p []byte) (int, error) {
	if _, err := c.W.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
