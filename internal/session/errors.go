package session

import "errors"

// ErrSessionLimit is returned by CreateSession when the configured maximum
// number of active sessions has been reached.
var ErrSessionLimit = errors.New("maximum number of sessions reached")

// ErrUnsupportedLanguage is returned by CreateSession for a language code
// outside the supported set.
var ErrUnsupportedLanguage = errors.New("unsupported language code")
