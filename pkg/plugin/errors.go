// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import "github.com/holomush/palaver/pkg/errutil"

// Reason codes reported by the loader and the message pipeline.
const (
	CodeUnknownPlugin         = "UNKNOWN_PLUGIN"
	CodeDownloadFailed        = "DOWNLOAD_FAILED"
	CodeIntegrityCheckFailed  = "INTEGRITY_CHECK_FAILED"
	CodeInvalidBundle         = "INVALID_BUNDLE"
	CodeNoImplementationFound = "NO_IMPLEMENTATION_FOUND"
	CodeInstantiationFailed   = "INSTANTIATION_FAILED"
	CodeInitFailed            = "INIT_FAILED"
	CodeFilterFailed          = "FILTER_FAILED"
	CodeUnknownCapability     = "UNKNOWN_CAPABILITY"
)

// ErrorCode returns the reason code carried by err, or "" when it has none.
func ErrorCode(err error) string {
	return errutil.Code(err)
}
