package session

import "errors"

var errMissingTask = errors.New("task event carries no task")
