package authorization

import "errors"

// ErrNotFound is returned by stores when the (tenant, id) pair has no row.
var ErrNotFound = errors.New("authorization not found")
