package stcm2

import "errors"

var (
	// ErrFormat covers magic mismatches, non-zero reserved words, malformed
	// parameters and duplicate addresses. The whole document is unusable.
	ErrFormat = errors.New("stcm2: malformed format")
	// ErrTruncated means a record claims more bytes than the blob holds.
	ErrTruncated = errors.New("stcm2: truncated input")
	// ErrEncoding means text bytes are not valid Shift-JIS, or text cannot be
	// represented in it.
	ErrEncoding = errors.New("stcm2: invalid text encoding")
	// ErrStructure means a text record or dialogue action has the wrong shape.
	ErrStructure = errors.New("stcm2: unexpected structure")
	// ErrUnresolvedReference means an action points at an address the
	// document does not contain.
	ErrUnresolvedReference = errors.New("stcm2: unresolved reference")
	// ErrCanary means a relocation slot was overwritten before it was
	// resolved, i.e. the encoder emitted fields out of order.
	ErrCanary = errors.New("stcm2: relocation canary clobbered")
)
