package pkg

import "errors"

// Driver usage errors.
var (
	// ErrInvalidEndpoint indicates an endpoint number outside the configured range.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrNotConfigured indicates the endpoint has no configuration or no
	// transfer state for the requested direction.
	ErrNotConfigured = errors.New("endpoint not configured")

	// ErrInvalidState indicates an invalid driver state for the operation.
	ErrInvalidState = errors.New("invalid driver state")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrTimeout indicates a bounded hardware wait expired.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled indicates a blocked queue operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrReset indicates a bus reset invalidated the operation.
	ErrReset = errors.New("bus reset")
)

// Resource errors.
var (
	// ErrPoolExhausted indicates every packet buffer slot has been handed out.
	// The pool is sized for the configured endpoint count, so this is a
	// configuration bug and the driver halts with it.
	ErrPoolExhausted = errors.New("packet buffer pool exhausted")

	// ErrMisaligned indicates the buffer descriptor table is not 512-byte aligned.
	ErrMisaligned = errors.New("buffer descriptor table misaligned")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Descriptor decoding errors.
var (
	// ErrDescriptorTooShort indicates descriptor data shorter than its type requires.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorType indicates a descriptor of an unexpected type.
	ErrDescriptorType = errors.New("descriptor type mismatch")
)

// USB link errors reported by the controller's error status register.
var (
	// ErrPID indicates a PID check failure.
	ErrPID = errors.New("PID check failed")

	// ErrCRC5 indicates a token CRC5 failure or an end-of-frame error.
	ErrCRC5 = errors.New("CRC5 or EOF error")

	// ErrCRC16 indicates a data packet CRC16 failure.
	ErrCRC16 = errors.New("CRC16 error")

	// ErrDataFormat indicates a data field that was not a whole number of bytes.
	ErrDataFormat = errors.New("data field not 8-bit aligned")

	// ErrBusTurnaround indicates a bus turnaround timeout.
	ErrBusTurnaround = errors.New("bus turnaround timeout")

	// ErrDMA indicates the DMA engine could not service a request in time.
	ErrDMA = errors.New("DMA error")

	// ErrBitStuff indicates a bit stuffing error.
	ErrBitStuff = errors.New("bit stuffing error")
)
