// Package sim provides the core discrete-event microgrid co-simulation engine
// for gridsim.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - signal.go: the Signal capability and the constant signal variant
//   - trace_signal.go: historical time-series signals with interpolation and forecasts
//   - storage.go: battery models and the power-application contract
//   - microgrid.go: the per-step power-balancing algorithm
//   - environment.go: the virtual-time / real-time stepping loop
//
// # Architecture
//
// The sim package defines the kernel; supporting concerns live in sub-packages:
//   - sim/monitor: step-result logging, CSV export, and run summaries
//   - sim/broker: software-in-the-loop REST/WebSocket control surface
//   - sim/dataset: CSV to in-memory table conversion for trace signals
//
// # Sign Convention
//
// A single global convention is used everywhere: power consumption is
// negative, production is positive, and the sign is carried by the signal
// value itself. There are no per-actor sign multipliers. A positive power
// delta is a surplus; a positive grid exchange feeds the public grid and a
// negative one draws from it.
package sim
