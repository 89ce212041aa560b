// Package liveness selects the frame that is uploaded at the end of a
// session.
//
// The camera pipeline is an external [Collector]: it evaluates frames for
// anti-spoofing and hands back [Sample] values. The [Selector] pulls samples
// in short slices for a fixed window, scores the ones that pass liveness and
// either returns the best of them or a categorized failure (no face, lost
// tracking, validation failed). Chosen frames are persisted by a [FrameStore]
// without holding up the decision.
package liveness
