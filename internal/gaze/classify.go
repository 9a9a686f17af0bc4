// Package gaze turns face landmarks into a discrete gaze state.
package gaze

import (
	"math"
	"time"

	"AI_PROCTOR/go-backend/internal/models"
)

// MediaPipe FaceMesh landmark indices.
const (
	LeftEyeIndex        = 33
	RightIrisIndex      = 468
	RightEyeIndex       = 362
	NoseTipIndex        = 4
	leftEyeFallback     = 0
	rightEyeFallback    = 1
	noseTipFallback     = 2
	MaxEyeVerticalDiff  = 0.08
	MaxEyeNoseHorizDiff = 0.12
	MaxEyeNoseVertDiff  = 0.25
)

// Face is one detected face: keypoints normalized to the frame size.
type Face struct {
	Keypoints []models.Point
}

// Landmarks picks the left eye, right eye and nose tip indices for a
// keypoint set of length n. Short sets fall back to the first indices.
func Landmarks(n int) (left, right, nose int) {
	left = leftEyeFallback
	if n > LeftEyeIndex {
		left = LeftEyeIndex
	}
	switch {
	case n > RightIrisIndex:
		right = RightIrisIndex
	case n > RightEyeIndex:
		right = RightEyeIndex
	default:
		right = rightEyeFallback
	}
	nose = noseTipFallback
	if n > NoseTipIndex {
		nose = NoseTipIndex
	}
	return left, right, nose
}

// Classify applies the gaze policy to the detector output. Only the
// first face is considered. The sample is nil unless a face was found.
func Classify(faces []Face, at time.Time) (models.GazeState, *models.GazeSample) {
	if len(faces) == 0 {
		return models.GazeNoFace, nil
	}
	kps := faces[0].Keypoints
	li, ri, ni := Landmarks(len(kps))
	if li >= len(kps) || ri >= len(kps) || ni >= len(kps) {
		return models.GazeNoFace, nil
	}

	sample := &models.GazeSample{
		LeftEye:   kps[li],
		RightEye:  kps[ri],
		NoseTip:   kps[ni],
		Timestamp: at,
	}
	if LookingForward(sample) {
		return models.GazeGood, sample
	}
	return models.GazeAway, sample
}

// LookingForward reports whether the eyes are level, centred over the
// nose and at a plausible height above it.
func LookingForward(s *models.GazeSample) bool {
	left, right, nose := s.LeftEye, s.RightEye, s.NoseTip

	eyeY := (left.Y + right.Y) / 2
	eyeVerticalDiff := math.Abs(left.Y - right.Y)
	eyeHorizontalCenter := (left.X + right.X) / 2
	eyeNoseHorizontalDiff := math.Abs(eyeHorizontalCenter - nose.X)

	return eyeVerticalDiff < MaxEyeVerticalDiff &&
		eyeNoseHorizontalDiff < MaxEyeNoseHorizDiff &&
		math.Abs(eyeY-nose.Y) < MaxEyeNoseVertDiff
}
