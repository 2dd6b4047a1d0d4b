package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseModelID extracts and validates the model ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: mid
func ParseModelID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "mid", "invalid_model_id", "Invalid model ID format", logger)
}

// ParseConnectionID extracts and validates the connection ID from the request
// path. Returns the parsed UUID and true on success, or uuid.Nil and false on
// error (after writing an error response).
// Expects path parameter: cid
func ParseConnectionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "cid", "invalid_connection_id", "Invalid connection ID format", logger)
}

// ParseMeasureID extracts and validates the measure ID from the request path.
// Expects path parameter: meid
func ParseMeasureID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "meid", "invalid_measure_id", "Invalid measure ID format", logger)
}

// ParseDimensionID extracts and validates the dimension ID from the request
// path. Expects path parameter: did
func ParseDimensionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "did", "invalid_dimension_id", "Invalid dimension ID format", logger)
}

// ParseJoinID extracts and validates the join ID from the request path.
// Expects path parameter: jid
func ParseJoinID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "jid", "invalid_join_id", "Invalid join ID format", logger)
}

// ParseModelAndMeasureIDs extracts and validates both model and measure IDs.
// Returns both UUIDs and true on success, or uuid.Nil values and false on error.
// Expects path parameters: mid, meid
func ParseModelAndMeasureIDs(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, uuid.UUID, bool) {
	modelID, ok := ParseModelID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	measureID, ok := ParseMeasureID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	return modelID, measureID, true
}

// ParseModelAndDimensionIDs extracts and validates both model and dimension
// IDs. Expects path parameters: mid, did
func ParseModelAndDimensionIDs(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, uuid.UUID, bool) {
	modelID, ok := ParseModelID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	dimensionID, ok := ParseDimensionID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	return modelID, dimensionID, true
}

// ParseModelAndJoinIDs extracts and validates both model and join IDs.
// Expects path parameters: mid, jid
func ParseModelAndJoinIDs(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, uuid.UUID, bool) {
	modelID, ok := ParseModelID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	joinID, ok := ParseJoinID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	return modelID, joinID, true
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
