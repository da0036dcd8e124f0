package common

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestClient_Health covers healthy, unhealthy and unreachable services.
func TestClient_Health(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": "fashion-recommendation-pipeline",
		})
	}))
	defer healthy.Close()

	client, err := NewClient(healthy.URL)
	require.NoError(t, err)
	require.NoError(t, client.Health(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	client, err = NewClient(broken.URL)
	require.NoError(t, err)
	require.ErrorIs(t, client.Health(context.Background()), ErrUnhealthy)

	// Connection refused also counts as unhealthy, not a distinct failure.
	unreachable := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	unreachable.Close()

	client, err = NewClient(unreachable.URL)
	require.NoError(t, err)
	require.ErrorIs(t, client.Health(context.Background()), ErrUnhealthy)
}

// TestClient_Evaluate decodes the flat map contract of the evaluate endpoint.
func TestClient_Evaluate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/evaluate", r.URL.Path)

		var request map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.Equal(t, "https://cdn.example.com/outfit.jpg", request["input_path"])

		_, _ = w.Write([]byte(`{
			"1": {"type": "T-shirt", "bbox": [10, 20, 110, 220], "recommendations": ["tuck it in"]},
			"2": {"type": "Jeans", "bbox": [15, 210, 120, 400], "recommendations": ["cuff the hem"]},
			"overall_outfit": {"type": "Complete Outfit", "recommendations": ["add a belt"]},
			"annotated_image": "annotated.png"
		}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	evaluation, err := client.Evaluate(context.Background(), "https://cdn.example.com/outfit.jpg")
	require.NoError(t, err)
	require.Len(t, evaluation.Items, 2)
	require.Equal(t, "T-shirt", evaluation.Items["1"].Type)
	require.Equal(t, []float64{10, 20, 110, 220}, evaluation.Items["1"].BBox)
	require.NotNil(t, evaluation.OverallOutfit)
	require.Equal(t, []string{"add a belt"}, evaluation.OverallOutfit.Recommendations)
	require.Equal(t, "annotated.png", evaluation.AnnotatedImage)
}

// TestClient_Evaluate_ServiceError surfaces the service's error payload.
func TestClient_Evaluate_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Missing 'input_path' in request body"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	_, err = client.Evaluate(context.Background(), "whatever")
	require.Error(t, err)
	require.Contains(t, err.Error(), "input_path")

	_, err = client.Evaluate(context.Background(), "")
	require.Error(t, err)
}
