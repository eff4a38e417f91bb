package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

// TestPort is an in-memory SerialPorter. Reads block until data is fed or
// the port is closed.
type TestPort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool

	// WriteError is returned by every Write while set.
	WriteError error
}

// NewTestPort returns an open TestPort.
func NewTestPort() *TestPort {
	p := &TestPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed makes data available to Read.
func (p *TestPort) Feed(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.WriteString(data)
	p.cond.Broadcast()
}

func (p *TestPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.in.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	return p.in.Read(b)
}

func (p *TestPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.WriteError != nil {
		return 0, p.WriteError
	}
	return p.out.Write(b)
}

// Close wakes blocked readers.
func (p *TestPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Written returns everything written so far.
func (p *TestPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

// IsClosed reports whether Close was called.
func (p *TestPort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// MockOpener hands out ports from a queue and records each open.
type MockOpener struct {
	mu    sync.Mutex
	Ports []*TestPort
	// Errors, when non-empty, are returned in order before any port.
	Errors []error
	Calls  []string
}

// Open implements Opener.
func (m *MockOpener) Open(path string, _ PortOptions) (SerialPorter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, path)
	if len(m.Errors) > 0 {
		err := m.Errors[0]
		m.Errors = m.Errors[1:]
		return nil, err
	}
	if len(m.Ports) == 0 {
		return nil, errors.New("no such device")
	}
	p := m.Ports[0]
	m.Ports = m.Ports[1:]
	return p, nil
}

// OpenCount returns how many times Open was called.
func (m *MockOpener) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
