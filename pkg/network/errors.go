package network

import "errors"

var (
	ErrNoSlack         = errors.New("no slack bus")
	ErrMultipleSlack   = errors.New("more than one slack bus")
	ErrSlackNotFirst   = errors.New("slack bus is not at index 0")
	ErrBusOutOfRange   = errors.New("bus id out of range")
	ErrDuplicateBus    = errors.New("duplicate bus id")
	ErrUnknownBusType  = errors.New("unknown bus type")
	ErrZeroImpedance   = errors.New("zero branch impedance")
	ErrEmptyNetwork    = errors.New("network has no buses")
	ErrInvalidGenLimit = errors.New("generator pmin greater than pmax")
	ErrUnknownFormat   = errors.New("unknown case format")
)
