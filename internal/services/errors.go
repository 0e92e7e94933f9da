package services

import "errors"

var (
	ErrNoSession        = errors.New("missing owner session")
	ErrStageRequired    = errors.New("stage_id is required")
	ErrPipelineRequired = errors.New("pipeline_id is required")
	ErrNameRequired     = errors.New("name is required")
	ErrTitleRequired    = errors.New("title is required")
	// ErrDefaultRequired is returned when an update tries to clear the
	// default flag; another pipeline has to be made default instead.
	ErrDefaultRequired = errors.New("an owner always keeps one default pipeline")
)
