package nod

import "github.com/bodgit/nod/internal/core"

// Logger receives non-fatal warnings raised while reading a disc, such as a
// hash-tree mismatch under OpenOptions.ValidateHashes or an inconsistent
// disc-header flag. Collaborators may supply their own implementation;
// Disc falls back to a standard library logger.
type Logger = core.Logger

// DefaultLogger returns the Logger used when OpenOptions.Logger is nil.
func DefaultLogger() Logger { return core.DefaultLogger() }
