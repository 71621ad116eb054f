package eventstream

import "errors"

// ErrNilThoughtEvent indicates a nil thought event payload was provided to a publisher.
var ErrNilThoughtEvent = errors.New("nil thought event")
