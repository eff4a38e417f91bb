package hotkey

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanlink/internal/control"
	"github.com/banshee-data/scanlink/internal/supervisor"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	cmds []control.Command
}

func (d *recordingDispatcher) Dispatch(cmd control.Command, origin supervisor.Origin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if origin != supervisor.OriginHotkey {
		panic("unexpected origin " + origin)
	}
	d.cmds = append(d.cmds, cmd)
	return nil
}

func TestDefaultBindings(t *testing.T) {
	b := DefaultBindings()
	cmd, ok := b.Lookup('R')
	require.True(t, ok)
	assert.Equal(t, control.RestartApplication, cmd)
	cmd, _ = b.Lookup('f')
	assert.Equal(t, control.Toggle, cmd)
	cmd, _ = b.Lookup('V')
	assert.Equal(t, control.ResetSensor, cmd)
	_, ok = b.Lookup('x')
	assert.False(t, ok)
}

func TestNewBindings(t *testing.T) {
	b, err := NewBindings("Q", "t", "s")
	require.NoError(t, err)
	cmd, ok := b.Lookup('q')
	require.True(t, ok)
	assert.Equal(t, control.RestartApplication, cmd)

	_, err = NewBindings("rr", "f", "v")
	assert.Error(t, err)
	_, err = NewBindings("r", "R", "v")
	assert.Error(t, err)
	_, err = NewBindings("", "f", "v")
	assert.Error(t, err)
}

func TestRun_DispatchesBoundKeys(t *testing.T) {
	d := &recordingDispatcher{}
	interrupted := false
	r := &Reader{Bindings: DefaultBindings(), Dispatcher: d, Interrupt: func() { interrupted = true }}

	require.NoError(t, r.Run(context.Background(), strings.NewReader("fxV\x03r")))
	assert.Equal(t, []control.Command{control.Toggle, control.ResetSensor, control.RestartApplication}, d.cmds)
	assert.True(t, interrupted)
}

func TestRun_StopsOnCancel(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pw.Close()
	defer pr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Reader{Bindings: DefaultBindings(), Dispatcher: &recordingDispatcher{}}
	assert.NoError(t, r.Run(ctx, pr))
}

func TestRawTerminal_NotATerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	defer f.Close()

	restore, ok, err := RawTerminal(f)
	require.NoError(t, err)
	assert.False(t, ok)
	restore()
}

func TestCRLFWriter(t *testing.T) {
	var sb strings.Builder
	w := CRLFWriter{W: &sb}
	n, err := w.Write([]byte("one\ntwo\n"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "one\r\ntwo\r\n", sb.String())
}
