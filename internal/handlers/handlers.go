package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Brownie44l1/leaf-infer/internal/labels"
	"github.com/Brownie44l1/leaf-infer/internal/metric"
	"github.com/Brownie44l1/leaf-infer/internal/middleware"
	"github.com/Brownie44l1/leaf-infer/internal/model"
	"github.com/Brownie44l1/leaf-infer/internal/preprocess"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const imageField = "image"

// Predictor is the model session as seen by the handlers.
type Predictor interface {
	Predict(values []float64) ([]float32, error)
	ExpectedInputSize() int
	Describe() model.Description
}

type Options struct {
	MaxBodyBytes  int64
	Normalization preprocess.Normalization
}

type Handler struct {
	predictor Predictor
	labels    *labels.Labels
	opts      Options
}

// NewHandler serves predictor. names may be nil.
func NewHandler(predictor Predictor, names *labels.Labels, opts Options) *Handler {
	if opts.Normalization == "" {
		opts.Normalization = preprocess.MobileNet
	}
	return &Handler{
		predictor: predictor,
		labels:    names,
		opts:      opts,
	}
}

func (h *Handler) Register(router gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/model", h.Describe)
	router.POST("/predict", h.Predict)
	router.POST("/predict/image", h.PredictFromImage)
}

// Health reports liveness. It never touches the model.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "model": "loaded"})
}

type ModelResponse struct {
	Input  model.TensorSpec `json:"input"`
	Output model.TensorSpec `json:"output"`
	Labels []string         `json:"labels,omitempty"`
}

func (h *Handler) Describe(c *gin.Context) {
	desc := h.predictor.Describe()
	c.JSON(http.StatusOK, ModelResponse{
		Input:  desc.Input,
		Output: desc.Output,
		Labels: h.labels.All(),
	})
}

func (h *Handler) Predict(c *gin.Context) {
	body, err := h.readBody(c)
	if err != nil {
		respondReadError(c, err)
		return
	}
	h.respond(c, h.evaluate(ParseRequest(body)))
}

// evaluate walks a parsed request through validation and inference. The size
// check runs before any element is converted.
func (h *Handler) evaluate(req ParsedRequest) Result {
	switch r := req.(type) {
	case MalformedRequest, MissingFieldRequest:
		return ValidationFailure{Err: &ValidationError{Message: missingInputMessage}}
	case UncoercibleRequest:
		return failure(model.NewFault("coerce", r.Err))
	case ValidRequest:
		expected := h.predictor.ExpectedInputSize()
		if len(r.Elements) != expected {
			return ValidationFailure{Err: sizeError(expected, len(r.Elements))}
		}
		values, err := r.Coerce()
		if err != nil {
			return failure(model.NewFault("coerce", err))
		}
		return h.infer(values)
	default:
		return failure(fmt.Errorf("unhandled request %T", req))
	}
}

func (h *Handler) infer(values []float64) Result {
	start := time.Now()
	probs, err := h.predictor.Predict(values)
	outcome := metric.TagValueSuccess
	if err != nil {
		outcome = metric.TagValueFailure
	}
	tags := metric.BuildTag(metric.NewTag(metric.TagOutcome, outcome))
	metric.Incr(metric.InferenceCount, tags)
	metric.Timing(metric.InferenceLatency, time.Since(start), tags)
	if err != nil {
		return failure(err)
	}
	return Success{Probabilities: probs}
}

// TopClass is the most probable class of an image prediction.
type TopClass struct {
	Index      int     `json:"index"`
	Label      string  `json:"label,omitempty"`
	Confidence float32 `json:"confidence"`
}

// PredictFromImage accepts a multipart upload in the "image" field, turns it
// into an input tensor and predicts on it like /predict.
func (h *Handler) PredictFromImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.maxBodyBytes())
	header, err := c.FormFile(imageField)
	if err != nil {
		h.reject(c, fmt.Sprintf("No image file provided. Use '%s' as the form field name", imageField), err)
		return
	}
	file, err := header.Open()
	if err != nil {
		h.reject(c, "Failed to read uploaded image", err)
		return
	}
	defer file.Close()

	img, format, err := preprocess.Decode(file)
	if err != nil {
		h.reject(c, "Invalid image format. Supported: JPEG, PNG", err)
		return
	}
	layout, err := preprocess.LayoutFromShape(h.predictor.Describe().Input.Shape)
	if err != nil {
		h.reject(c, err.Error(), err)
		return
	}
	log.Debug().Str(middleware.ContextRequestID, c.GetString(middleware.ContextRequestID)).
		Msgf("Received %s image %q (%d bytes, %dx%d)", format, header.Filename, header.Size,
			img.Bounds().Dx(), img.Bounds().Dy())

	values := preprocess.Tensor(img, layout, h.opts.Normalization)
	var result Result
	if expected := h.predictor.ExpectedInputSize(); len(values) != expected {
		result = ValidationFailure{Err: sizeError(expected, len(values))}
	} else {
		result = h.infer(values)
	}
	if s, ok := result.(Success); ok {
		result = ImageSuccess{Success: s, Top: h.top(s.Probabilities)}
	}
	h.respond(c, result)
}

func (h *Handler) top(probs []float32) *TopClass {
	if len(probs) == 0 {
		return nil
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	t := &TopClass{Index: best, Confidence: probs[best]}
	if name, ok := h.labels.Name(best); ok {
		t.Label = name
	}
	return t
}

func (h *Handler) readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.maxBodyBytes()))
}

func (o Options) maxBodyBytes() int64 {
	if o.MaxBodyBytes <= 0 {
		return 64 << 20
	}
	return o.MaxBodyBytes
}

func respondReadError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit),
		})
		return
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read request body"})
}

func (h *Handler) reject(c *gin.Context, message string, err error) {
	log.Warn().Err(err).Str(middleware.ContextRequestID, c.GetString(middleware.ContextRequestID)).
		Msg(message)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondReadError(c, err)
		return
	}
	h.respond(c, ValidationFailure{Err: &ValidationError{Message: message}})
}

func (h *Handler) respond(c *gin.Context, r Result) {
	requestID := c.GetString(middleware.ContextRequestID)
	switch r := r.(type) {
	case ValidationFailure:
		metric.Incr(metric.ValidationRejected, metric.BuildTag(metric.NewTag(metric.TagPath, c.FullPath())))
		log.Info().Str(middleware.ContextRequestID, requestID).Msgf("Rejected request: %s", r.Err.Message)
	case RuntimeFailure:
		log.Error().Str(middleware.ContextRequestID, requestID).Msgf("Prediction failed: %s\n%s", r.Message, r.Detail)
	}
	c.JSON(r.status(), r.body())
}
