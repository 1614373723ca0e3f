// Package services holds the editor components that own and mirror the
// shared profile state.
//
// ProfileService is the single owner: it answers the profile capabilities
// and broadcasts every change. StatusView only mirrors: it learns the state
// through the late-join handshake and keeps it current from broadcasts.
package services
