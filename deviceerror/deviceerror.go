package deviceerror

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Cause is the closed set of reasons an operation on the device can fail for.
type Cause int

const (
	Unclassified Cause = iota
	AppNotOpen
	UserRejected
	DeviceLocked
	UnsupportedChain
	TransportUnavailable
)

func (c Cause) String() string {
	switch c {
	case AppNotOpen:
		return "app-not-open"
	case UserRejected:
		return "user-rejected"
	case DeviceLocked:
		return "device-locked"
	case UnsupportedChain:
		return "unsupported-chain"
	case TransportUnavailable:
		return "transport-unavailable"
	default:
		return "unclassified"
	}
}

// Kind drives how loudly a failure is surfaced.
type Kind int

const (
	Fatal Kind = iota
	Warning
	Silent
)

func (k Kind) String() string {
	switch k {
	case Warning:
		return "warning"
	case Silent:
		return "silent"
	default:
		return "error"
	}
}

var (
	ErrUnsupportedChain     = errors.New("there is no known Ledger app available for this chain")
	ErrTransportUnavailable = errors.New("can't find Ledger device")
)

// Classified is the outcome of classifying a raw device or transport error.
type Classified struct {
	Cause   Cause
	Kind    Kind
	Message string
	Raw     string
}

// Downgrade returns a copy with its severity lowered to k. Fatal is never reached by downgrading.
func (c Classified) Downgrade(k Kind) Classified {
	if k > c.Kind {
		c.Kind = k
	}

	return c
}

var codeTable = []struct {
	patterns []string
	cause    Cause
	message  string
}{
	{[]string{"(0x6511)"}, AppNotOpen, "App does not seem to be open"},
	{[]string{"(0x6985)"}, UserRejected, "User rejected"},
	{[]string{"(0x6b0c)", "(0x5515)"}, DeviceLocked, "Your ledger is locked"},
}

// Classify maps raw error text to a cause. The first matching table row wins; unknown text is
// passed through unchanged as an unclassified fatal error.
func Classify(raw string) Classified {
	lower := strings.ToLower(raw)
	for _, row := range codeTable {
		for _, p := range row.patterns {
			if strings.Contains(lower, p) {
				return Classified{Cause: row.cause, Kind: Fatal, Message: row.message, Raw: raw}
			}
		}
	}

	return Classified{Cause: Unclassified, Kind: Fatal, Message: raw, Raw: raw}
}

// ClassifyError classifies err. A nil error classifies as silent.
func ClassifyError(err error) Classified {
	var e *Error
	switch {
	case err == nil:
		return Classified{Kind: Silent}
	case errors.As(err, &e):
		return e.Classified
	case errors.Is(err, ErrUnsupportedChain):
		return Classified{Cause: UnsupportedChain, Kind: Fatal, Message: err.Error(), Raw: err.Error()}
	case errors.Is(err, ErrTransportUnavailable):
		return Classified{Cause: TransportUnavailable, Kind: Fatal, Message: err.Error(), Raw: err.Error()}
	}

	return Classify(err.Error())
}

var bareCode = regexp.MustCompile(`^\s*(ledger device:)?\s*\(?0x[0-9a-f]{4}\)?\s*$`)

// Humanize returns the message shown to users for c. It never consists of a bare status code.
func Humanize(c Classified, appName string) string {
	name := cases.Title(language.English).String(appName)

	switch c.Cause {
	case AppNotOpen:
		return fmt.Sprintf("Please open the %s app on your Ledger device", name)
	case UserRejected:
		return "The request was rejected on your Ledger device"
	case DeviceLocked:
		return "Your Ledger device is locked. Unlock it and refresh"
	case UnsupportedChain:
		return "There is no known Ledger app available for this chain"
	case TransportUnavailable:
		return "Can't find Ledger device. Check the connection and try again"
	}

	msg := strings.TrimSpace(c.Message)
	if msg == "" {
		return "Unknown Ledger error"
	}

	if bareCode.MatchString(strings.ToLower(msg)) {
		return fmt.Sprintf("Unknown Ledger error %s", msg)
	}

	return msg
}

// Error is a classified failure. It unwraps to the original error.
type Error struct {
	Classified
	Err error
}

// New classifies err and annotates it with a user facing message for appName.
func New(err error, appName string) *Error {
	c := ClassifyError(err)
	c.Message = Humanize(c, appName)

	return &Error{Classified: c, Err: err}
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsLocked reports whether err was caused by a locked device.
func IsLocked(err error) bool {
	return ClassifyError(err).Cause == DeviceLocked
}
