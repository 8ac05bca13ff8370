package wire

import "errors"

// ErrMalformed marks an unparseable or incomplete wire payload. Parsing
// fails closed: partial data is never returned alongside it.
var ErrMalformed = errors.New("malformed payload")
