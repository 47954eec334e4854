// Package engine contains the simulation loop and the needs model.
//
// The Store owns every character. Each character is guarded by its own mutex, so
// a tick pass and an incoming action never interleave on the same character.
// Only the BuffManager mutates the buff list, and only the tick pass mutates
// properties and velocities. The Engine ties them together and reports every
// mutation to the EventLog.
package engine
