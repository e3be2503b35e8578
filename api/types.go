package api

import (
	"encoding/json"
	"fmt"
)

// StatusError is the error returned by the client when the server responds
// with a non-2xx status code.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the starvectord server logs for details"
	}
}

// GenerateRequest is the request passed to [Client.Generate]. Image is a
// base64-encoded raster image. MaxTokens and Temperature are optional; when
// nil the server applies its defaults (2048 and 0.1).
type GenerateRequest struct {
	Image       string   `json:"image"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// GenerateResponse is the response returned by [Client.Generate].
type GenerateResponse struct {
	SVGCode string `json:"svg_code"`
	Model   string `json:"model"`
	Device  string `json:"device"`
}

// HealthResponse is the response returned by [Client.Health]. Status is
// "loading" until the checkpoint is resident, then "ready".
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
}

// InfoResponse describes the model the server was started with.
type InfoResponse struct {
	Model  string `json:"model"`
	Device string `json:"device"`
	Loaded bool   `json:"loaded"`
}

func checkError(status int, body []byte) error {
	if status < 400 {
		return nil
	}

	apiError := StatusError{StatusCode: status}
	if err := json.Unmarshal(body, &apiError); err != nil {
		apiError.ErrorMessage = string(body)
	}

	return apiError
}
