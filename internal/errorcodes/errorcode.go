// Package errorcodes defines OPTIGA statuses using a structured type.
// Status holds the 16-bit code and human-readable description.
package errorcodes

import (
	"errors"
	"fmt"
)

// Library statuses returned by the host driver layers.
var (
	Success = Status{0x0000, "Success"}
	Busy    = Status{0x0001, "Operation in progress"}

	ErrComms          = Status{0x0101, "Communication with the security chip failed"}
	ErrCommsIntegrity = Status{0x0102, "Response integrity check failed"}
	ErrCommsUnpaired  = Status{0x0103, "Platform binding secret not available on host"}
	ErrCommsTimeout   = Status{0x0104, "Security chip did not respond in time"}

	ErrCmd                  = Status{0x0201, "Command layer error"}
	ErrCmdInvalidResponse   = Status{0x0202, "Malformed response from security chip"}
	ErrCmdSessionsExhausted = Status{0x0203, "No free session context available"}
	ErrCmdNoContextHandle   = Status{0x0204, "No hibernate context handle to restore"}

	ErrCrypt             = Status{0x0400, "Crypt layer error"}
	ErrCryptInvalidInput = Status{0x0401, "Invalid input to crypt operation"}
	ErrCryptBusy         = Status{0x0411, "Crypt instance is busy"}

	ErrUtil             = Status{0x0600, "Util layer error"}
	ErrUtilInvalidInput = Status{0x0601, "Invalid input to util operation"}
	ErrUtilBusy         = Status{0x0611, "Util instance is busy"}
)

// Device errors reported by the security chip.
var (
	Err8001 = Status{0x8001, "Invalid OID"}
	Err8003 = Status{0x8003, "Invalid param field in command"}
	Err8004 = Status{0x8004, "Invalid length field in command"}
	Err8005 = Status{0x8005, "Invalid parameter in command data field"}
	Err8006 = Status{0x8006, "Internal process error"}
	Err8007 = Status{0x8007, "Access conditions not satisfied"}
	Err8008 = Status{0x8008, "Data object boundary exceeded"}
	Err8009 = Status{0x8009, "Metadata truncation error"}
	Err800A = Status{0x800A, "Invalid command field"}
	Err800B = Status{0x800B, "Command out of sequence"}
	Err800C = Status{0x800C, "Command not available"}
	Err800D = Status{0x800D, "Insufficient buffer/memory"}
	Err800E = Status{0x800E, "Counter threshold limit exceeded"}
	Err800F = Status{0x800F, "Invalid manifest"}
	Err8010 = Status{0x8010, "Invalid or wrong payload version"}
	Err8026 = Status{0x8026, "Invalid trust anchor"}
	Err8029 = Status{0x8029, "Invalid certificate format"}
	Err802A = Status{0x802A, "Unsupported certificate algorithm"}
	Err802C = Status{0x802C, "Signature verification failure"}
	Err802D = Status{0x802D, "Integrity validation failure"}
	Err802E = Status{0x802E, "Decryption failure"}
	Err80FF = Status{0x80FF, "General error"}
)

var known = map[uint16]Status{}

func init() {
	for _, s := range []Status{
		Success, Busy,
		ErrComms, ErrCommsIntegrity, ErrCommsUnpaired, ErrCommsTimeout,
		ErrCmd, ErrCmdInvalidResponse, ErrCmdSessionsExhausted, ErrCmdNoContextHandle,
		ErrCrypt, ErrCryptInvalidInput, ErrCryptBusy,
		ErrUtil, ErrUtilInvalidInput, ErrUtilBusy,
		Err8001, Err8003, Err8004, Err8005, Err8006, Err8007, Err8008, Err8009,
		Err800A, Err800B, Err800C, Err800D, Err800E, Err800F, Err8010,
		Err8026, Err8029, Err802A, Err802C, Err802D, Err802E, Err80FF,
	} {
		known[s.Code] = s
	}
}

// Status represents an OPTIGA status with its code and description.
type Status struct {
	Code        uint16 // 16-bit status code
	Description string // human-readable description
}

// Error implements the Go error interface: "0x<Code>: <Description>".
func (s Status) Error() string {
	return fmt.Sprintf("0x%04X: %s", s.Code, s.Description)
}

// IsDevice reports whether the status was raised by the security chip itself.
func (s Status) IsDevice() bool {
	return s.Code&0x8000 != 0
}

// Lookup returns the predefined status for code, or a generic one carrying the code.
func Lookup(code uint16) Status {
	if s, ok := known[code]; ok {
		return s
	}
	if code&0x8000 != 0 {
		return Status{code, Err80FF.Description}
	}

	return Status{code, "Unknown status"}
}

// CodeOf extracts the status code from err. Nil maps to Success; errors
// that carry no Status map to the general device error.
func CodeOf(err error) uint16 {
	if err == nil {
		return Success.Code
	}
	var s Status
	if errors.As(err, &s) {
		return s.Code
	}

	return Err80FF.Code
}
