package controlplane

import "errors"

// Sentinel errors for task-source operations.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskInFlight   = errors.New("task is still in the autonomous loop")
	ErrTaskTerminal   = errors.New("task already reached a terminal state")
	ErrNoStoredResult = errors.New("no stored result for task")
)
