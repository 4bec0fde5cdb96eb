// Copyright 2025 Mech Services, Inc.
package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type responseMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
}

type successEnvelope struct {
	Success  bool             `json:"success"`
	Data     interface{}      `json:"data"`
	Metadata responseMetadata `json:"metadata"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, status, successEnvelope{
		Success: true,
		Data:    data,
		Metadata: responseMetadata{
			Timestamp: time.Now().UTC(),
			RequestID: requestIDFrom(r.Context()),
		},
	})
}

func writeError(w http.ResponseWriter, apiErr *Error) {
	writeJSON(w, apiErr.HTTPStatus, errorEnvelope{Success: false, Error: apiErr})
}

func decodeBody(r *http.Request, into interface{}) *Error {
	if r.Body == nil {
		return errMissingData("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(into); err != nil {
		return errMissingData("invalid JSON body: " + err.Error())
	}
	return nil
}
