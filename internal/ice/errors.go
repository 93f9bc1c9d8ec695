package ice

import "errors"

var errReadTimeout = errors.New("ice: read timeout")
