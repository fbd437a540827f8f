package client

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Simple is the opt-in convenience layer: every failure is logged and then
// dropped. State-changing calls become no-ops and GetScreenBrightness returns
// 0, so callers cannot tell a dark screen from a broken daemon. Use HAL
// directly whenever that distinction matters.
type Simple struct {
	hal         HAL
	log         *zap.Logger
	callTimeout time.Duration
}

// NewSimple wraps hal. Only WithLogger and WithCallTimeout apply.
func NewSimple(hal HAL, opts ...Option) *Simple {
	o := buildOptions(opts)
	return &Simple{hal: hal, log: o.logger, callTimeout: o.callTimeout}
}

// DialSimple connects a lockstep client to path and wraps it: the plain
// blocking client with no error reporting.
func DialSimple(ctx context.Context, path string, opts ...Option) (*Simple, error) {
	l, err := DialLockstep(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	return NewSimple(l, opts...), nil
}

func (s *Simple) callContext() (context.Context, context.CancelFunc) {
	return withTimeout(context.Background(), s.callTimeout)
}

func (s *Simple) absorb(action string, err error) {
	if err != nil {
		s.log.Error("hal call failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Simple) SetScreenBrightness(value uint8) {
	ctx, cancel := s.callContext()
	defer cancel()
	s.absorb("SetScreenBrightness", s.hal.SetScreenBrightness(ctx, value))
}

func (s *Simple) GetScreenBrightness() uint8 {
	ctx, cancel := s.callContext()
	defer cancel()
	value, err := s.hal.GetScreenBrightness(ctx)
	if err != nil {
		s.absorb("GetScreenBrightness", err)
		return 0
	}
	return value
}

func (s *Simple) EnableScreen(screen uint8) {
	ctx, cancel := s.callContext()
	defer cancel()
	s.absorb("EnableScreen", s.hal.EnableScreen(ctx, screen))
}

func (s *Simple) DisableScreen(screen uint8) {
	ctx, cancel := s.callContext()
	defer cancel()
	s.absorb("DisableScreen", s.hal.DisableScreen(ctx, screen))
}

func (s *Simple) Reboot() {
	ctx, cancel := s.callContext()
	defer cancel()
	s.absorb("Reboot", s.hal.Reboot(ctx))
}

func (s *Simple) PowerOff() {
	ctx, cancel := s.callContext()
	defer cancel()
	s.absorb("PowerOff", s.hal.PowerOff(ctx))
}

// Close closes the wrapped HAL; its error is dropped like every other.
func (s *Simple) Close() {
	s.absorb("Close", s.hal.Close())
}
