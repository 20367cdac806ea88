// Package canbus provides the Controller Area Network (CAN) transport used by
// the dashboard core.
//
// It includes:
//   - A classical Frame type with validation and SocketCAN binary layout helpers
//   - A context-aware Bus interface and a bounded Poll helper for tick loops
//   - An in-memory loopback bus for tests and simulations
//   - A slog-backed logging decorator, composable frame filters and a Mux
//   - A Linux SocketCAN driver and interface up/down helpers (linux-only)
package canbus
