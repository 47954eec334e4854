package engine

import "errors"

var (
	// ErrUnknownBuff is returned when a buff id is not in the catalog.
	// Transports treat it as a silent drop.
	ErrUnknownBuff = errors.New("unknown buff")
	// ErrInvalidStacks is returned when fewer than one stack is requested.
	ErrInvalidStacks = errors.New("stacks must be at least 1")
	// ErrCharacterNotFound is returned when no character has the given id.
	ErrCharacterNotFound = errors.New("character not found")
	// ErrDuplicateCharacter is returned when adding an id that is already stored.
	ErrDuplicateCharacter = errors.New("character already exists")
)
