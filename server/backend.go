package server

import (
	"context"
	"errors"
	"sync"

	"hal-rpc/message"
)

// ErrInjected is returned by a MemoryBackend action armed with Fail.
var ErrInjected = errors.New("server: injected failure")

// Backend drives the hardware. Any error is reported to the client as the
// error variant of the request.
type Backend interface {
	SetBrightness(ctx context.Context, value uint8) error
	Brightness(ctx context.Context) (uint8, error)
	EnableScreen(ctx context.Context, screen uint8) error
	DisableScreen(ctx context.Context, screen uint8) error
	Reboot(ctx context.Context) error
	PowerOff(ctx context.Context) error
}

// Dispatch runs req against b and builds the reply.
func Dispatch(ctx context.Context, b Backend, req message.Request) message.Response {
	var err error
	switch req.Kind {
	case message.SetBrightness:
		err = b.SetBrightness(ctx, req.Value)
	case message.GetBrightness:
		var v uint8
		if v, err = b.Brightness(ctx); err == nil {
			return message.NewBrightness(v)
		}
	case message.EnableScreen:
		err = b.EnableScreen(ctx, req.Value)
	case message.DisableScreen:
		err = b.DisableScreen(ctx, req.Value)
	case message.Reboot:
		err = b.Reboot(ctx)
	case message.PowerOff:
		err = b.PowerOff(ctx)
	}
	if err != nil {
		return message.Response{Kind: message.ErrorFor(req.Kind)}
	}
	return message.Response{Kind: message.SuccessFor(req.Kind)}
}

// MemoryBackend is fake hardware kept in memory.
type MemoryBackend struct {
	mu         sync.Mutex
	brightness uint8
	screens    map[uint8]bool
	reboots    int
	powerOffs  int
	failing    map[message.RequestKind]bool
}

func NewMemoryBackend(brightness uint8) *MemoryBackend {
	return &MemoryBackend{
		brightness: brightness,
		screens:    make(map[uint8]bool),
		failing:    make(map[message.RequestKind]bool),
	}
}

// Fail makes every later request of kind k fail until Recover.
func (m *MemoryBackend) Fail(k message.RequestKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[k] = true
}

func (m *MemoryBackend) Recover(k message.RequestKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failing, k)
}

// check must be called with mu held.
func (m *MemoryBackend) check(k message.RequestKind) error {
	if m.failing[k] {
		return ErrInjected
	}
	return nil
}

func (m *MemoryBackend) SetBrightness(_ context.Context, value uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(message.SetBrightness); err != nil {
		return err
	}
	m.brightness = value
	return nil
}

func (m *MemoryBackend) Brightness(context.Context) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(message.GetBrightness); err != nil {
		return 0, err
	}
	return m.brightness, nil
}

func (m *MemoryBackend) EnableScreen(_ context.Context, screen uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(message.EnableScreen); err != nil {
		return err
	}
	m.screens[screen] = true
	return nil
}

func (m *MemoryBackend) DisableScreen(_ context.Context, screen uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(message.DisableScreen); err != nil {
		return err
	}
	delete(m.screens, screen)
	return nil
}

func (m *MemoryBackend) Reboot(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(message.Reboot); err != nil {
		return err
	}
	m.reboots++
	return nil
}

func (m *MemoryBackend) PowerOff(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(message.PowerOff); err != nil {
		return err
	}
	m.powerOffs++
	return nil
}

// ScreenEnabled reports whether screen is on.
func (m *MemoryBackend) ScreenEnabled(screen uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screens[screen]
}

// Counts returns how many reboots and power-offs were accepted.
func (m *MemoryBackend) Counts() (reboots, powerOffs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reboots, m.powerOffs
}
