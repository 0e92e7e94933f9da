package repositories

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrStageNotEmpty    = errors.New("stage still has deals")
	ErrPipelineNotEmpty = errors.New("pipeline still has stages")
	ErrDefaultPipeline  = errors.New("default pipeline cannot be deleted")
	ErrInvalidOrder     = errors.New("order must list every sibling exactly once")
)
