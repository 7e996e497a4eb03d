package model

import "time"

// ConnState mirrors the lifecycle of the storage connection.
type ConnState string

// Connection states reported by the supervisor.
const (
	ConnStateDisconnected  ConnState = "disconnected"
	ConnStateConnecting    ConnState = "connecting"
	ConnStateConnected     ConnState = "connected"
	ConnStateDisconnecting ConnState = "disconnecting"
)

// ConnectionStatus is a point-in-time snapshot of the storage connection.
type ConnectionStatus struct {
	State       ConnState
	Path        string
	Reconnects  int
	LastError   string
	ConnectedAt time.Time
}

// Connected reports whether the connection is usable.
func (s ConnectionStatus) Connected() bool {
	return s.State == ConnStateConnected
}
