package wasmop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPredictClientNilReceiver(t *testing.T) {
	var c *predictorClient
	_, err := c.predict(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error from a nil predictor client, got nil")
	}
}

func TestPredictNoBaseURL(t *testing.T) {
	c := newPredictorClient("")
	_, err := c.predict(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error when no prediction server is configured, got nil")
	}
}

func TestPredictSendsHistoryAndDecodesResponse(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	history := []time.Time{
		time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prediction" {
			t.Errorf("path = %q, want /prediction", r.URL.Path)
		}

		var req predictionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if len(req.History) != len(history) {
			t.Errorf("history length = %d, want %d", len(req.History), len(history))
		}
		if req.Function == "" {
			t.Error("Function field must not be empty")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(predictionResponse{Prediction: want})
	}))
	defer srv.Close()

	c := newPredictorClient(srv.URL)
	got, err := c.predict(context.Background(), history)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("predict() = %v, want %v", got, want)
	}
}

func TestPredictServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newPredictorClient(srv.URL)
	_, err := c.predict(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error on a 500 response, got nil")
	}
}
