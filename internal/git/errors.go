package git

import "errors"

// ErrDifferentRepo is returned when the target folder holds another repository.
var ErrDifferentRepo = errors.New("target folder contains a different repo")
