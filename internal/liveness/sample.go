package liveness

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"time"
)

// JPEGQuality is used for every encoded frame.
const JPEGQuality = 95

// Sample is one evaluated camera frame. The selector reads it and never
// modifies it.
type Sample struct {
	FaceDetected bool
	// PassesLiveness is the instant or stable anti-spoofing verdict.
	PassesLiveness bool
	// Stable is set when the verdict held across consecutive frames.
	Stable bool
	// QualityScore is the pipeline's stability score in [0, 1].
	QualityScore float64
	// Image is the JPEG-encoded frame. It may be empty when Frame is set.
	Image []byte
	// Frame is the decoded frame, when the collector has it.
	Frame image.Image
	// Focus is a precomputed sharpness value. Zero means "compute it".
	Focus     float64
	Timestamp time.Time
	// Diagnostics carries pipeline details (depth, screen, movement checks)
	// for the debug capture sidecar.
	Diagnostics map[string]any
}

// Collector is the camera pipeline.
type Collector interface {
	// GatherResults evaluates frames for d and returns them in capture order.
	GatherResults(ctx context.Context, d time.Duration) ([]Sample, error)
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc func(ctx context.Context, d time.Duration) ([]Sample, error)

// GatherResults implements Collector.
func (f CollectorFunc) GatherResults(ctx context.Context, d time.Duration) ([]Sample, error) {
	return f(ctx, d)
}

// JPEG returns the encoded frame, encoding Frame if needed.
func (s Sample) JPEG() ([]byte, error) {
	if len(s.Image) > 0 {
		return s.Image, nil
	}
	if s.Frame == nil {
		return nil, nil
	}
	return EncodeJPEG(s.Frame)
}

// EncodeJPEG encodes img at JPEGQuality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode returns the frame as an image, decoding Image if needed.
func (s Sample) decode() (image.Image, error) {
	if s.Frame != nil {
		return s.Frame, nil
	}
	if len(s.Image) == 0 {
		return nil, nil
	}
	return jpeg.Decode(bytes.NewReader(s.Image))
}
