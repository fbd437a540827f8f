package client

import (
	"context"
	"errors"
	"fmt"

	"hal-rpc/message"
)

var (
	// ErrRejected means the daemon answered with the error variant of the request.
	ErrRejected = errors.New("client: daemon rejected the request")

	// ErrUnexpectedResponse means the reply does not answer the request kind.
	ErrUnexpectedResponse = errors.New("client: unexpected response variant")
)

// HAL is one blocking call per hardware action. Every method reports failure
// through its error; use Simple for the variant that hides them.
type HAL interface {
	SetScreenBrightness(ctx context.Context, value uint8) error
	GetScreenBrightness(ctx context.Context) (uint8, error)
	EnableScreen(ctx context.Context, screen uint8) error
	DisableScreen(ctx context.Context, screen uint8) error
	Reboot(ctx context.Context) error
	PowerOff(ctx context.Context) error
	Close() error
}

type callFunc func(ctx context.Context, req message.Request) (message.Response, error)

// actions turns a call function into the HAL methods.
type actions struct {
	call callFunc
}

func (a actions) SetScreenBrightness(ctx context.Context, value uint8) error {
	_, err := a.call(ctx, message.NewSetBrightness(value))
	return err
}

func (a actions) GetScreenBrightness(ctx context.Context) (uint8, error) {
	resp, err := a.call(ctx, message.NewGetBrightness())
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

func (a actions) EnableScreen(ctx context.Context, screen uint8) error {
	_, err := a.call(ctx, message.NewEnableScreen(screen))
	return err
}

func (a actions) DisableScreen(ctx context.Context, screen uint8) error {
	_, err := a.call(ctx, message.NewDisableScreen(screen))
	return err
}

func (a actions) Reboot(ctx context.Context) error {
	_, err := a.call(ctx, message.NewReboot())
	return err
}

func (a actions) PowerOff(ctx context.Context) error {
	_, err := a.call(ctx, message.NewPowerOff())
	return err
}

// checkResponse maps a reply that does not report success for req to an error.
func checkResponse(req message.Request, resp message.Response) (message.Response, error) {
	if !resp.Kind.Valid() || resp.Kind.Request() != req.Kind {
		return resp, fmt.Errorf("%w: %s for %s", ErrUnexpectedResponse, resp, req)
	}
	if resp.Kind.IsError() {
		return resp, fmt.Errorf("%w: %s", ErrRejected, resp)
	}
	return resp, nil
}
