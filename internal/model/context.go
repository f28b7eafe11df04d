package model

import "time"

// ConnectionState is the lifecycle state of a PrinterContext.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)

// PrinterContext is the live record for one connected printer. The Context
// Registry (C4) is the only component that mutates it; everything else
// either reads a ContextInfo snapshot or asks the Registry to set one of
// the decoration fields (Backend, PollingService, CameraPort).
type PrinterContext struct {
	ContextID       string
	Identity        PrinterIdentity
	CheckCode       string
	ConnectionState ConnectionState
	CameraPort      int
	CreatedAt       time.Time
	LastActivityAt  time.Time
	IsActive        bool

	// Decorations. Set/cleared by the owning component via the Registry's
	// typed setters; the Registry never interprets their contents.
	Backend        any
	PollingService any
}

// ContextInfo is the read-only projection of a PrinterContext handed out to
// subscribers and external callers — it never exposes the live client
// handles or decoration internals.
type ContextInfo struct {
	ContextID       string
	Identity        PrinterIdentity
	ConnectionState ConnectionState
	CameraPort      int
	CreatedAt       time.Time
	LastActivityAt  time.Time
	IsActive        bool
	HasBackend      bool
	HasPollingLoop  bool
}

// Info projects a PrinterContext into its public ContextInfo shape.
func (c *PrinterContext) Info() ContextInfo {
	return ContextInfo{
		ContextID:       c.ContextID,
		Identity:        c.Identity,
		ConnectionState: c.ConnectionState,
		CameraPort:      c.CameraPort,
		CreatedAt:       c.CreatedAt,
		LastActivityAt:  c.LastActivityAt,
		IsActive:        c.IsActive,
		HasBackend:      c.Backend != nil,
		HasPollingLoop:  c.PollingService != nil,
	}
}
