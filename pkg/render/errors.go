package render

import "errors"

var (
	ErrShaderCompile      = errors.New("render: shader compile failed")
	ErrProgramLink        = errors.New("render: program link failed")
	ErrLocationNotFound   = errors.New("render: attribute or uniform location not found")
	ErrNotInitialized     = errors.New("render: pipeline not initialized")
	ErrAlreadyInitialized = errors.New("render: pipeline already initialized")
	ErrSourceStart        = errors.New("render: media source failed to start")
)
