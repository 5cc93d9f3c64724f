// Package sonicstage drives a multi-axis scanning stage over a serial
// G-code link.
//
// The stage is a repurposed 3D-printer motion platform: three linear axes
// position an acoustic probe over a water bath, and the extruder output
// spins a sample holder. This module arbitrates discrete jog clicks,
// hold-to-move web UI sessions and keyboard holds onto the single serial
// line while keeping the firmware's positioning mode consistent.
//
// # Installation
//
//	go install github.com/probelab/sonicstage/cmd/stagectl@latest
//
// # Usage
//
// First, detect the controller and write a config file:
//
//	stagectl setup
//
// Home the stage, then run the HTTP motion server or drive it directly:
//
//	stagectl init
//	stagectl serve
//	stagectl jog
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/stagectl: CLI with setup, init, serve and jog commands
//   - pkg/gcode: command vocabulary and position report parsing
//   - pkg/transport: serial link ownership, ordering and acknowledgements
//   - pkg/stage: mode guard, safety clamps, jog executor and schedulers
//   - pkg/server: HTTP surface for the web UI
package sonicstage
