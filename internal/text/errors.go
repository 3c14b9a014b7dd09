package text

import "errors"

// ErrDocumentNotFound names the case of an id that was never indexed
// (or was already removed). RemoveDocument reports that case by
// returning false, not with this error.
var ErrDocumentNotFound = errors.New("text: document not found")
