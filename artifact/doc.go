// Package artifact archives the outputs of finished generation requests: the
// final artifact as JSON and rendered text, and the execution log in both its
// flat line format and JSON.
//
// Store implementations (in-memory here, Redis in the redis sub-package)
// only move bytes; Archive and Load handle the encoding so that backends can
// be swapped without touching calling code.
package artifact
