// Package sim provides stand-in collaborators for running the daemon on a
// bench without the depth camera or the ToF sensor.
//
// A [Camera] takes the place of the camera pipeline for the hardware
// arbiter, a [Collector] produces synthetic liveness samples, and a
// [Distance] is a settable presence provider fed by the debug control
// surface.
package sim
