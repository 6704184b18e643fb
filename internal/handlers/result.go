package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Brownie44l1/leaf-infer/internal/model"
)

const missingInputMessage = "Missing 'input' field"

// ValidationError is a request the service refuses before inference.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func sizeError(expected, actual int) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf("Invalid input size. Expected %d, got %d", expected, actual)}
}

// Result is the outcome of one prediction: Success, ImageSuccess,
// ValidationFailure or RuntimeFailure. Only respond maps it to HTTP.
type Result interface {
	status() int
	body() any
}

type Success struct {
	Probabilities []float32
}

// ImageSuccess is a Success on an uploaded image, reported with its top class.
type ImageSuccess struct {
	Success
	Top *TopClass
}

type ValidationFailure struct {
	Err *ValidationError
}

type RuntimeFailure struct {
	Message string
	Detail  string
}

type PredictionResponse struct {
	Probabilities []float32 `json:"probabilities"`
	Status        string    `json:"status"`
}

type ImagePredictionResponse struct {
	PredictionResponse
	Top *TopClass `json:"top,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback,omitempty"`
}

func (r Success) status() int { return http.StatusOK }
func (r Success) body() any {
	return PredictionResponse{Probabilities: r.Probabilities, Status: "success"}
}

func (r ImageSuccess) status() int { return http.StatusOK }
func (r ImageSuccess) body() any {
	return ImagePredictionResponse{PredictionResponse: r.Success.body().(PredictionResponse), Top: r.Top}
}

func (r ValidationFailure) status() int { return http.StatusBadRequest }
func (r ValidationFailure) body() any   { return ErrorResponse{Error: r.Err.Message} }

func (r RuntimeFailure) status() int { return http.StatusInternalServerError }
func (r RuntimeFailure) body() any   { return ErrorResponse{Error: r.Message, Traceback: r.Detail} }

// failure classifies an error raised while predicting.
func failure(err error) Result {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return ValidationFailure{Err: verr}
	}
	var fault *model.InferenceFault
	if !errors.As(err, &fault) {
		fault = model.NewFault("predict", err)
	}
	return RuntimeFailure{Message: fault.Error(), Detail: fault.Traceback()}
}
