// Package mxf implements the partition and header-metadata layer of the
// MXF container format (SMPTE 377 family) on top of the klv streaming
// package.
//
// A partition is parsed from a flat sequence of KLV-encoded sets into a
// typed object graph: the primer pack maps per-partition local tags to full
// universal labels, metadata sets become MDObject nodes against a supplied
// type registry, and strong/weak UUID references are resolved in a single
// pass across forward declarations. Serialising inverts the pipeline while
// preserving primer tag assignments.
//
// The package never interprets essence payloads; essence items are exposed
// as klv cursors whose values are materialised on demand.
package mxf

import "errors"

// Sentinel error kinds surfaced by partition and metadata decoding.
// Structural failures from the framing layer surface as the klv package's
// errors; everything here is about the metadata object graph.
var (
	ErrNotPartition      = errors.New("mxf: not a partition pack")
	ErrNoPartition       = errors.New("mxf: no partition pack found")
	ErrNoPrimer          = errors.New("mxf: primer pack missing or out of order")
	ErrUnknownUL         = errors.New("mxf: unknown universal label")
	ErrUnknownTag        = errors.New("mxf: unknown local tag")
	ErrDanglingStrongRef = errors.New("mxf: dangling strong reference")
	ErrBadSet            = errors.New("mxf: malformed metadata set")
	ErrBadIndex          = errors.New("mxf: malformed index segment")
	ErrBadPrimer         = errors.New("mxf: malformed primer pack")
)
