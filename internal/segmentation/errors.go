package segmentation

import "errors"

// Sentinel errors for the segmentation layer.
var (
	ErrSegmentNotFound     = errors.New("segment not found")
	ErrRecomputeInProgress = errors.New("segment recomputation already in progress")
	ErrLockLost            = errors.New("segment lock lost during recomputation")
)
