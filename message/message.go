// Package message defines the request and response payloads exchanged between
// a hal client and the hardware-abstraction daemon.
//
// Both directions are tagged unions: a Kind discriminant selects the variant and
// Value carries the single byte of payload for the variants that have one.
// The zero Value is used (and ignored on the wire) for payload-less variants.
package message

import "fmt"

// RequestKind is the discriminant of a Request variant.
type RequestKind uint32

const (
	SetBrightness RequestKind = iota // payload: brightness
	GetBrightness                    // no payload
	EnableScreen                     // payload: screen id
	DisableScreen                    // payload: screen id
	Reboot                           // no payload
	PowerOff                         // no payload
)

var requestNames = [...]string{
	SetBrightness: "SetBrightness",
	GetBrightness: "GetBrightness",
	EnableScreen:  "EnableScreen",
	DisableScreen: "DisableScreen",
	Reboot:        "Reboot",
	PowerOff:      "PowerOff",
}

// Valid reports whether k names a known request variant.
func (k RequestKind) Valid() bool {
	return k <= PowerOff
}

// HasPayload reports whether the variant carries a one-byte payload.
func (k RequestKind) HasPayload() bool {
	return k == SetBrightness || k == EnableScreen || k == DisableScreen
}

func (k RequestKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("RequestKind(%d)", uint32(k))
	}
	return requestNames[k]
}

// Request is a call sent to the daemon.
type Request struct {
	Kind  RequestKind
	Value uint8
}

// NewSetBrightness builds a SetBrightness request.
func NewSetBrightness(value uint8) Request { return Request{Kind: SetBrightness, Value: value} }

// NewGetBrightness builds a GetBrightness request.
func NewGetBrightness() Request { return Request{Kind: GetBrightness} }

// NewEnableScreen builds an EnableScreen request for the given screen.
func NewEnableScreen(screen uint8) Request { return Request{Kind: EnableScreen, Value: screen} }

// NewDisableScreen builds a DisableScreen request for the given screen.
func NewDisableScreen(screen uint8) Request { return Request{Kind: DisableScreen, Value: screen} }

// NewReboot builds a Reboot request.
func NewReboot() Request { return Request{Kind: Reboot} }

// NewPowerOff builds a PowerOff request.
func NewPowerOff() Request { return Request{Kind: PowerOff} }

// Size is the number of bytes the variant occupies on the wire, discriminant included.
func (r Request) Size() int {
	if r.Kind.HasPayload() {
		return 5
	}
	return 4
}

func (r Request) String() string {
	if r.Kind.HasPayload() {
		return fmt.Sprintf("%s(%d)", r.Kind, r.Value)
	}
	return r.Kind.String()
}

// ResponseKind is the discriminant of a Response variant.
type ResponseKind uint32

// Every request kind has a success and an error reply. Only GetBrightnessSuccess
// carries a payload.
const (
	SetBrightnessSuccess ResponseKind = iota
	SetBrightnessError
	GetBrightnessSuccess
	GetBrightnessError
	EnableScreenSuccess
	EnableScreenError
	DisableScreenSuccess
	DisableScreenError
	RebootSuccess
	RebootError
	PowerOffSuccess
	PowerOffError
)

var responseNames = [...]string{
	SetBrightnessSuccess: "SetBrightnessSuccess",
	SetBrightnessError:   "SetBrightnessError",
	GetBrightnessSuccess: "GetBrightnessSuccess",
	GetBrightnessError:   "GetBrightnessError",
	EnableScreenSuccess:  "EnableScreenSuccess",
	EnableScreenError:    "EnableScreenError",
	DisableScreenSuccess: "DisableScreenSuccess",
	DisableScreenError:   "DisableScreenError",
	RebootSuccess:        "RebootSuccess",
	RebootError:          "RebootError",
	PowerOffSuccess:      "PowerOffSuccess",
	PowerOffError:        "PowerOffError",
}

// Valid reports whether k names a known response variant.
func (k ResponseKind) Valid() bool {
	return k <= PowerOffError
}

// HasPayload reports whether the variant carries a one-byte payload.
func (k ResponseKind) HasPayload() bool {
	return k == GetBrightnessSuccess
}

// IsError reports whether the daemon refused or failed the request.
func (k ResponseKind) IsError() bool {
	return k.Valid() && k%2 == 1
}

// Request returns the request kind this response answers.
func (k ResponseKind) Request() RequestKind {
	return RequestKind(k / 2)
}

func (k ResponseKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("ResponseKind(%d)", uint32(k))
	}
	return responseNames[k]
}

// SuccessFor returns the success variant answering a request kind.
func SuccessFor(k RequestKind) ResponseKind {
	return ResponseKind(k * 2)
}

// ErrorFor returns the error variant answering a request kind.
func ErrorFor(k RequestKind) ResponseKind {
	return ResponseKind(k*2 + 1)
}

// Response is a reply produced by the daemon.
type Response struct {
	Kind  ResponseKind
	Value uint8
}

// NewBrightness builds a GetBrightnessSuccess response.
func NewBrightness(value uint8) Response {
	return Response{Kind: GetBrightnessSuccess, Value: value}
}

// Size is the number of bytes the variant occupies on the wire, discriminant included.
func (r Response) Size() int {
	if r.Kind.HasPayload() {
		return 5
	}
	return 4
}

func (r Response) String() string {
	if r.Kind.HasPayload() {
		return fmt.Sprintf("%s(%d)", r.Kind, r.Value)
	}
	return r.Kind.String()
}
