// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the architect orchestrator.
//
// This file holds the shared request validator and the size limits it
// enforces.
package datatypes

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxCommandBytes is the maximum size of a design command.
	MaxCommandBytes = 32 * 1024

	// MaxDocumentBytes is the maximum size of a PRD or tech-constraint text.
	MaxDocumentBytes = 512 * 1024

	// MaxProjectKeyLen is the maximum length of a project key.
	MaxProjectKeyLen = 128
)

// projectKeyPattern allows path-safe keys such as "shop" or "acme.orders-v2".
var projectKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = validate.RegisterValidation("docbytes", validateDocBytes)
	_ = validate.RegisterValidation("projectkey", validateProjectKey)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxCommandBytes
}

func validateDocBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxDocumentBytes
}

func validateProjectKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()
	return len(key) <= MaxProjectKeyLen && projectKeyPattern.MatchString(key)
}

// ValidateProjectKey checks a key taken from a URL path.
func ValidateProjectKey(key string) error {
	return validate.Var(key, "required,projectkey")
}

// ValidateConversationID checks a conversation id taken from a URL path.
func ValidateConversationID(id string) error {
	return validate.Var(id, "required,uuid")
}
