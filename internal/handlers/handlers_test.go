package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Brownie44l1/fer-recorder/internal/imaging"
	"github.com/Brownie44l1/fer-recorder/internal/model"
	"github.com/Brownie44l1/fer-recorder/internal/store"
)

// stubPredictor returns fixed probabilities
type stubPredictor struct {
	probs []float32
	err   error
	calls int
}

func (s *stubPredictor) Predict(ctx context.Context, t model.Tensor) ([]float32, error) {
	s.calls++
	if len(t.Data) != 32*32*3 {
		return nil, errors.New("unexpected tensor size")
	}
	return s.probs, s.err
}

// blockingPredictor waits for context cancellation
type blockingPredictor struct{}

func (blockingPredictor) Predict(ctx context.Context, t model.Tensor) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingRecorder fails every write
type failingRecorder struct {
	store.MemoryRecorder
}

func (f *failingRecorder) Record(ctx context.Context, p *model.Prediction) (store.Record, error) {
	return store.Record{}, store.ErrPersistence
}

func (f *failingRecorder) Records(ctx context.Context) ([]store.Record, error) {
	return nil, store.ErrPersistence
}

var happy = []float32{0.01, 0.02, 0.03, 0.8, 0.1, 0.02, 0.02}

// helper function to create PNG image
func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: uint8(10 * x), G: uint8(20 * y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// helper function to create multipart predict request
func predictRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fw, err := writer.CreateFormFile(field, "face.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	writer.Close()
	r := httptest.NewRequest("POST", "/predict", body)
	r.Header.Set("Content-Type", writer.FormDataContentType())
	return r
}

func newTestHandler(p Predictor, rec store.Recorder, opts Options) *Handler {
	return NewHandler(p, imaging.NewDecoder(32, model.NHWC), rec, opts)
}

type predictResponse struct {
	Label            string             `json:"label"`
	Probability      float64            `json:"probability"`
	AllProbabilities map[string]float64 `json:"all_probabilities"`
}

func TestPredictMissingImage(t *testing.T) {
	h := newTestHandler(&stubPredictor{probs: happy}, store.NewMemoryRecorder(), Options{})
	requests := map[string]*http.Request{
		"wrong field":   predictRequest(t, "file", pngImage(t)),
		"no multipart":  httptest.NewRequest("POST", "/predict", strings.NewReader("image=abc")),
		"empty request": httptest.NewRequest("POST", "/predict", nil),
	}
	for name, r := range requests {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Predict(w, r)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if body := w.Body.String(); body != `{"error":"No image provided"}` {
				t.Errorf("wrong body %s", body)
			}
		})
	}
}

func TestPredictAndRecords(t *testing.T) {
	rec := store.NewMemoryRecorder()
	h := newTestHandler(&stubPredictor{probs: happy}, rec, Options{})

	start := time.Now()
	w := httptest.NewRecorder()
	h.Predict(w, predictRequest(t, "image", pngImage(t)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Record-Status") != "ok" {
		t.Errorf("wrong record status %q", w.Header().Get("X-Record-Status"))
	}
	var rsp predictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &rsp); err != nil {
		t.Fatal(err)
	}
	if len(rsp.AllProbabilities) != model.NumLabels {
		t.Fatalf("expected %d probabilities, got %v", model.NumLabels, rsp.AllProbabilities)
	}
	best := ""
	for label, p := range rsp.AllProbabilities {
		if best == "" || p > rsp.AllProbabilities[best] {
			best = label
		}
	}
	if rsp.Label != "happy" || rsp.Label != best {
		t.Errorf("wrong label %s, max probability label %s", rsp.Label, best)
	}

	w = httptest.NewRecorder()
	h.Records(w, httptest.NewRequest("GET", "/records", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var records []store.Record
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Label != rsp.Label || records[0].Probability != rsp.Probability {
		t.Errorf("record %+v does not match prediction %+v", records[0], rsp)
	}
	if records[0].Timestamp.Before(start) {
		t.Errorf("record timestamp %v is before request start %v", records[0].Timestamp, start)
	}
}

func TestRecordsOrder(t *testing.T) {
	rec := store.NewMemoryRecorder()
	stub := &stubPredictor{}
	h := newTestHandler(stub, rec, Options{})

	w := httptest.NewRecorder()
	h.Records(w, httptest.NewRequest("GET", "/records", nil))
	if body := w.Body.String(); body != "[]" {
		t.Errorf("empty store should return [], got %s", body)
	}

	var expect []string
	for i := 0; i < model.NumLabels; i++ {
		idx := (i * 3) % model.NumLabels
		stub.probs = make([]float32, model.NumLabels)
		stub.probs[idx] = 1
		expect = append(expect, string(model.Labels[idx]))
		w := httptest.NewRecorder()
		h.Predict(w, predictRequest(t, "image", pngImage(t)))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}

	w = httptest.NewRecorder()
	h.Records(w, httptest.NewRequest("GET", "/records", nil))
	var records []store.Record
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != len(expect) {
		t.Fatalf("expected %d records, got %d", len(expect), len(records))
	}
	for i, r := range records {
		if r.Label != expect[i] {
			t.Errorf("record %d: expected %s, got %s", i, expect[i], r.Label)
		}
	}
}

func TestPredictTie(t *testing.T) {
	equal := make([]float32, model.NumLabels)
	for i := range equal {
		equal[i] = 0.25
	}
	h := newTestHandler(&stubPredictor{probs: equal}, store.NewMemoryRecorder(), Options{})
	w := httptest.NewRecorder()
	h.Predict(w, predictRequest(t, "image", pngImage(t)))
	var rsp predictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &rsp); err != nil {
		t.Fatal(err)
	}
	if rsp.Label != "angry" {
		t.Errorf("all-equal output should predict angry, got %s", rsp.Label)
	}
}

func TestPredictCorruptImage(t *testing.T) {
	stub := &stubPredictor{probs: happy}
	rec := store.NewMemoryRecorder()
	h := newTestHandler(stub, rec, Options{})

	w := httptest.NewRecorder()
	h.Predict(w, predictRequest(t, "image", []byte("definitely not an image")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if stub.calls != 0 {
		t.Error("model should not be called for corrupt image")
	}
	records, _ := rec.Records(context.Background())
	if len(records) != 0 {
		t.Errorf("corrupt image should not be recorded, got %d records", len(records))
	}

	// server keeps serving after a corrupt upload
	w = httptest.NewRecorder()
	h.Predict(w, predictRequest(t, "image", pngImage(t)))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 after corrupt upload, got %d", w.Code)
	}
}

func TestPredictRecordFailure(t *testing.T) {
	h := newTestHandler(&stubPredictor{probs: happy}, &failingRecorder{}, Options{})
	w := httptest.NewRecorder()
	h.Predict(w, predictRequest(t, "image", pngImage(t)))
	if w.Code != http.StatusOK {
		t.Fatalf("persistence failure should not fail prediction, got %d", w.Code)
	}
	if w.Header().Get("X-Record-Status") != "failed" {
		t.Errorf("wrong record status %q", w.Header().Get("X-Record-Status"))
	}
	var rsp predictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &rsp); err != nil || rsp.Label != "happy" {
		t.Errorf("wrong prediction %s, error %v", w.Body.String(), err)
	}

	w = httptest.NewRecorder()
	h.Records(w, httptest.NewRequest("GET", "/records", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), store.ErrPersistence.Error()) {
		t.Errorf("error details leaked: %s", w.Body.String())
	}
}

func TestPredictInferenceFailure(t *testing.T) {
	tests := []struct {
		name      string
		predictor Predictor
		opts      Options
		code      int
	}{
		{"model error", &stubPredictor{err: errors.New("onnx: session failed")}, Options{}, http.StatusInternalServerError},
		{"wrong output size", &stubPredictor{probs: []float32{1, 0}}, Options{}, http.StatusInternalServerError},
		{"timeout", blockingPredictor{}, Options{Timeout: 10 * time.Millisecond}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := store.NewMemoryRecorder()
			h := newTestHandler(tt.predictor, rec, tt.opts)
			w := httptest.NewRecorder()
			h.Predict(w, predictRequest(t, "image", pngImage(t)))
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, w.Code)
			}
			if strings.Contains(w.Body.String(), "onnx") {
				t.Errorf("error details leaked: %s", w.Body.String())
			}
			records, _ := rec.Records(context.Background())
			if len(records) != 0 {
				t.Errorf("failed prediction should not be recorded")
			}
		})
	}
}

func TestPredictNonFiniteOutput(t *testing.T) {
	nan := float32(math.NaN())
	stub := &stubPredictor{probs: []float32{nan, 0.1, 0.1, 0.4, 0.1, 0.1, 0.1}}
	rec := store.NewMemoryRecorder()
	h := newTestHandler(stub, rec, Options{})

	w := httptest.NewRecorder()
	h.Predict(w, predictRequest(t, "image", pngImage(t)))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for NaN output, got %d", w.Code)
	}
	if w.Header().Get("X-Record-Status") != "" {
		t.Errorf("NaN output should not reach the recorder, status %q", w.Header().Get("X-Record-Status"))
	}

	// records stay readable and later predictions are stored
	stub.probs = happy
	w = httptest.NewRecorder()
	h.Predict(w, predictRequest(t, "image", pngImage(t)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	h.Records(w, httptest.NewRequest("GET", "/records", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from records, got %d: %s", w.Code, w.Body.String())
	}
	var records []store.Record
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Label != "happy" {
		t.Errorf("wrong records %+v", records)
	}
}

func TestPredictImageDimensions(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2000, 2000))); err != nil {
		t.Fatal(err)
	}
	stub := &stubPredictor{probs: happy}
	h := newTestHandler(stub, store.NewMemoryRecorder(), Options{})
	h.decoder.MaxPixels = 1000 * 1000

	w := httptest.NewRecorder()
	h.Predict(w, predictRequest(t, "image", buf.Bytes()))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized image, got %d", w.Code)
	}
	if body := w.Body.String(); body != `{"error":"Invalid image"}` {
		t.Errorf("wrong body %s", body)
	}
	if stub.calls != 0 {
		t.Error("model should not be called for oversized image")
	}
}

func TestPredictDecodeDeadline(t *testing.T) {
	stub := &stubPredictor{probs: happy}
	rec := store.NewMemoryRecorder()
	h := newTestHandler(stub, rec, Options{Timeout: time.Second})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	r := predictRequest(t, "image", pngImage(t)).WithContext(ctx)

	w := httptest.NewRecorder()
	h.Predict(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for expired request, got %d", w.Code)
	}
	if stub.calls != 0 {
		t.Error("model should not be called after deadline")
	}
	records, _ := rec.Records(context.Background())
	if len(records) != 0 {
		t.Errorf("expired request should not be recorded")
	}
}

func TestPredictTooLarge(t *testing.T) {
	h := newTestHandler(&stubPredictor{probs: happy}, store.NewMemoryRecorder(), Options{MaxUploadSize: 1024})
	w := httptest.NewRecorder()
	h.Predict(w, predictRequest(t, "image", bytes.Repeat([]byte{0xff}, 4096)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}

func TestStaticHandlers(t *testing.T) {
	h := newTestHandler(&stubPredictor{probs: happy}, store.NewMemoryRecorder(), Options{Base: "/fer", ServerInfo: "fer-server"})

	w := httptest.NewRecorder()
	h.Index(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<form") {
		t.Errorf("wrong index page %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Docs(w, httptest.NewRequest("GET", "/docs", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<h2") {
		t.Errorf("wrong docs page %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.Health(w, httptest.NewRequest("GET", "/health", nil))
	if body := w.Body.String(); body != `{"status":"healthy"}` {
		t.Errorf("wrong health response %s", body)
	}

	w = httptest.NewRecorder()
	h.Labels(w, httptest.NewRequest("GET", "/labels", nil))
	var labels []string
	if err := json.Unmarshal(w.Body.Bytes(), &labels); err != nil {
		t.Fatal(err)
	}
	if len(labels) != model.NumLabels || labels[0] != "angry" || labels[6] != "surprise" {
		t.Errorf("wrong labels %v", labels)
	}
}

func TestErrorMessage(t *testing.T) {
	if errorMessage(0) != "" {
		t.Error("zero code should have empty message")
	}
	for code := GenericError; code <= TimeoutError; code++ {
		if strings.HasPrefix(errorMessage(code), "Not Implemented") {
			t.Errorf("code %d has no message", code)
		}
	}
	if !strings.HasPrefix(errorMessage(999), "Not Implemented") {
		t.Error("unknown code should not have a message")
	}
}
