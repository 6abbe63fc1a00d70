// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// FieldError describes one validation failure.
type FieldError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// versionPattern matches <major>.<minor> protocol versions.
var versionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// MaxPriority is the highest accepted envelope priority.
const MaxPriority = 10

// ValidateEnvelope checks an inbound envelope against the protocol
// schema, returning every violation rather than the first.
func ValidateEnvelope(e *Envelope) []FieldError {
	var errs []FieldError

	if e.MessageID == "" {
		errs = append(errs, FieldError{"messageId", "required"})
	} else if _, err := uuid.Parse(e.MessageID); err != nil {
		errs = append(errs, FieldError{"messageId", "must be a UUID"})
	}

	if e.Version == "" {
		errs = append(errs, FieldError{"version", "required"})
	} else if !versionPattern.MatchString(e.Version) {
		errs = append(errs, FieldError{"version", "must be <major>.<minor>"})
	}

	if e.Type == "" {
		errs = append(errs, FieldError{"type", "required"})
	} else if !envelopeTypes[e.Type] {
		errs = append(errs, FieldError{"type", fmt.Sprintf("unrecognized type %q", e.Type)})
	}

	if e.Source.ClientID == "" {
		errs = append(errs, FieldError{"source.clientId", "required"})
	}
	if e.Source.SessionID == "" {
		errs = append(errs, FieldError{"source.sessionId", "required"})
	}

	if e.Timestamp < 0 {
		errs = append(errs, FieldError{"timestamp", "must be >= 0"})
	}
	if e.Priority < 0 || e.Priority > MaxPriority {
		errs = append(errs, FieldError{"priority", fmt.Sprintf("must be 0..%d", MaxPriority)})
	}
	if e.ExpiresAt < 0 {
		errs = append(errs, FieldError{"expiresAt", "must be >= 0"})
	}

	if e.Payload == nil {
		errs = append(errs, FieldError{"payload", "required (may be empty object)"})
	}

	if e.CorrelationID != "" {
		if _, err := uuid.Parse(e.CorrelationID); err != nil {
			errs = append(errs, FieldError{"correlationId", "must be a UUID"})
		}
	}
	if e.InReplyTo != "" {
		if _, err := uuid.Parse(e.InReplyTo); err != nil {
			errs = append(errs, FieldError{"inReplyTo", "must be a UUID"})
		}
	}

	return errs
}

// joinFieldErrors renders a compact single-line summary for logs and
// error payloads.
func joinFieldErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}
