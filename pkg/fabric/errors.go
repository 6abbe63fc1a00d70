// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

// Error codes carried in ERROR envelope payloads.
const (
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeAuthenticationFailed   = "AUTHENTICATION_FAILED"
	CodeInvalidMessage         = "INVALID_MESSAGE"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeProviderError          = "PROVIDER_ERROR"
	CodeTargetNotFound         = "TARGET_NOT_FOUND"
	CodeUnknownMessageType     = "UNKNOWN_MESSAGE_TYPE"
	CodeQueryError             = "QUERY_ERROR"
	CodeSlowClient             = "SLOW_CLIENT"
	CodeInternalError          = "INTERNAL_ERROR"
)

// retryableCodes marks the codes a client may retry. Everything else is
// a semantic failure the client must change before resending.
var retryableCodes = map[string]bool{
	CodeRateLimitExceeded: true,
	CodeProviderError:     true,
	CodeSlowClient:        true,
	CodeInternalError:     true,
}

// Retryable reports whether the error code marks a transient condition.
func Retryable(code string) bool {
	return retryableCodes[code]
}

// NewErrorEnvelope creates an ERROR envelope with the standard payload
// shape. inReplyTo may be empty when the originating envelope is unknown.
func NewErrorEnvelope(code, message, inReplyTo string) *Envelope {
	e := NewEnvelope(TypeError, map[string]any{
		"errorCode":    code,
		"errorMessage": message,
		"retryable":    Retryable(code),
	})
	e.InReplyTo = inReplyTo
	return e
}
