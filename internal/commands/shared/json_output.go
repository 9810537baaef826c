// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"encoding/json"
	"io"
)

// envelopeVersion is bumped when the --json envelope changes shape.
const envelopeVersion = "1.0"

// JSONResponse is the envelope embedded in every --json document.
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// OK returns a successful envelope for command.
func OK(command string) JSONResponse {
	return JSONResponse{Version: envelopeVersion, Command: command, Success: true}
}

// JSONError is one entry in a failed envelope.
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// WriteJSON encodes v to w with two-space indentation.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteJSONError writes a failed envelope carrying errs.
func WriteJSONError(w io.Writer, command string, errs ...JSONError) error {
	return WriteJSON(w, struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}{
		JSONResponse: JSONResponse{Version: envelopeVersion, Command: command},
		Errors:       errs,
	})
}
