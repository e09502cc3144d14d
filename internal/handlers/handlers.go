package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/Brownie44l1/fer-recorder/internal/imaging"
	"github.com/Brownie44l1/fer-recorder/internal/model"
	"github.com/Brownie44l1/fer-recorder/internal/store"
	"github.com/Brownie44l1/fer-recorder/internal/web"
	"github.com/gomarkdown/markdown"
	mhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Predictor returns probability vector in label order for a tensor
type Predictor interface {
	Predict(ctx context.Context, t model.Tensor) ([]float32, error)
}

// Options defines handler parameters
type Options struct {
	Base          string        // base URL path
	ServerInfo    string        // server version string shown on landing page
	MaxUploadSize int64         // max size of uploaded image in bytes
	Timeout       time.Duration // decode+inference timeout, zero means none
	Verbose       int
}

type Handler struct {
	predictor Predictor
	decoder   *imaging.Decoder
	recorder  store.Recorder
	opts      Options
}

func NewHandler(predictor Predictor, decoder *imaging.Decoder, recorder store.Recorder, opts Options) *Handler {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 10 << 20
	}
	return &Handler{
		predictor: predictor,
		decoder:   decoder,
		recorder:  recorder,
		opts:      opts,
	}
}

// helper function to write JSON response
func writeJSON(w http.ResponseWriter, httpCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("code=%d (%s) error=%v", JSONMarshal, errorMessage(JSONMarshal), err)
		httpCode = http.StatusInternalServerError
		data = []byte(`{"error":"Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	w.Write(data)
}

// helper function to provide standard HTTP error reply, the message is
// returned to the client while err is only logged
func httpError(w http.ResponseWriter, r *http.Request, code int, msg string, err error, httpCode int) {
	log.Printf("%s %s code=%d (%s) http=%d error=%v", r.Method, r.URL.Path, code, errorMessage(code), httpCode, err)
	writeJSON(w, httpCode, map[string]string{"error": msg})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Labels returns ordered list of labels the model predicts
func (h *Handler) Labels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.Labels)
}

// Index serves landing page
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	page, err := web.Index(web.Page{Base: h.opts.Base, ServerInfo: h.opts.ServerInfo})
	if err != nil {
		httpError(w, r, GenericError, "Internal server error", err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// Docs serves API documentation rendered from markdown
func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	md, err := web.Docs()
	if err != nil {
		httpError(w, r, GenericError, "Internal server error", err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>API</title></head><body>\n"))
	w.Write(mdToHTML(md))
	w.Write([]byte("</body></html>\n"))
}

// helper function to convert markdown into HTML content
func mdToHTML(md []byte) []byte {
	// create markdown parser with extensions
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	// create HTML renderer with extensions
	htmlFlags := mhtml.CommonFlags | mhtml.HrefTargetBlank
	renderer := mhtml.NewRenderer(mhtml.RendererOptions{Flags: htmlFlags})
	return markdown.Render(doc, renderer)
}

// helper function to read uploaded image bytes from multipart form
func (h *Handler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize)
	if err := r.ParseMultipartForm(h.opts.MaxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMissingInput, err)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingInput, err)
	}
	defer file.Close()

	if h.opts.Verbose > 0 {
		log.Printf("Received file: %s, size: %d bytes", header.Filename, header.Size)
	}
	return io.ReadAll(file)
}

// Predict classifies uploaded image and records the prediction
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	data, err := h.readImage(w, r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg := fmt.Sprintf("Image exceeds %d bytes", maxErr.Limit)
			httpError(w, r, TooLargeError, msg, err, http.StatusRequestEntityTooLarge)
			return
		}
		httpError(w, r, MissingInputError, ErrMissingInput.Error(), err, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.Timeout)
		defer cancel()
	}

	tensor, err := h.decoder.Decode(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			httpError(w, r, TimeoutError, "Prediction timed out", err, http.StatusServiceUnavailable)
			return
		}
		httpError(w, r, DecodeError, "Invalid image", err, http.StatusBadRequest)
		return
	}

	probs, err := h.predictor.Predict(ctx, tensor)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			httpError(w, r, TimeoutError, "Prediction timed out", err, http.StatusServiceUnavailable)
			return
		}
		httpError(w, r, InferenceError, "Prediction failed", err, http.StatusInternalServerError)
		return
	}

	prediction, err := model.NewPrediction(probs)
	if err != nil {
		httpError(w, r, InferenceError, "Prediction failed", err, http.StatusInternalServerError)
		return
	}
	if h.opts.Verbose > 0 {
		log.Printf("Prediction probabilities: %v", probs)
		log.Printf("Predicted label: %s, confidence: %v", prediction.Label, prediction.Probability)
	}

	// losing a record must not fail the prediction
	status := "ok"
	if _, err := h.recorder.Record(r.Context(), prediction); err != nil {
		log.Printf("code=%d (%s) label=%s error=%v", PersistenceError, errorMessage(PersistenceError), prediction.Label, err)
		status = "failed"
	}
	w.Header().Set("X-Record-Status", status)

	writeJSON(w, http.StatusOK, prediction)
}

// Records returns all recorded predictions in insertion order
func (h *Handler) Records(w http.ResponseWriter, r *http.Request) {
	records, err := h.recorder.Records(r.Context())
	if err != nil {
		httpError(w, r, DatabaseError, "Unable to get records", err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
