// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/lineage"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/observability"
)

// apiError is how a failure is shown to clients.
type apiError struct {
	Status  int
	Code    observability.ErrorCode
	Message string
}

// classifyError maps an error to its HTTP status, metric code and a
// message safe to send to clients. Internal details never leave the
// server; they are logged by the caller.
func classifyError(err error) apiError {
	switch {
	case errors.Is(err, lineage.ErrProjectNotFound):
		return apiError{http.StatusNotFound, observability.ErrorCodeNotFound, "project not found"}
	case errors.Is(err, lineage.ErrConversationNotFound):
		return apiError{http.StatusNotFound, observability.ErrorCodeNotFound, "conversation not found"}
	case errors.Is(err, lineage.ErrTurnInProgress):
		return apiError{http.StatusConflict, observability.ErrorCodeConflict, "a design turn is already running for this conversation"}
	case errors.Is(err, lineage.ErrTurnClosed):
		return apiError{http.StatusConflict, observability.ErrorCodeConflict, "the design turn has already ended"}
	case errors.Is(err, lineage.ErrStoreFailure):
		return apiError{http.StatusInternalServerError, observability.ErrorCodeStoreFailure, "failed to save the design changes"}
	case errors.Is(err, agent.ErrGeneration):
		return apiError{http.StatusBadGateway, observability.ErrorCodeLLMError, "the model failed to produce an answer"}
	default:
		return apiError{http.StatusInternalServerError, observability.ErrorCodeInternal, sanitizeErrorForClient(err)}
	}
}

// sanitizeErrorForClient returns a generic message for unexpected errors.
func sanitizeErrorForClient(_ error) string {
	return "An error occurred while processing your request"
}
