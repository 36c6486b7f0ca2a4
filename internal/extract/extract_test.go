package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestFetchServiceVariables(t *testing.T) {
	var got request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(Result{
			Success: true,
			Variables: []Variable{
				{VariableName: "kokuho_phone", Value: strPtr("03-1234-5678"), Confidence: 0.9, SourceURL: "https://city.example/kokuho"},
				{VariableName: "kokuho_fax", Value: nil},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", WithAPIKey("secret"))
	res, err := c.FetchServiceVariables(context.Background(), "Shibuya", "health", "https://city.example")
	require.NoError(t, err)

	assert.Equal(t, request{OrgName: "Shibuya", ServiceID: "health", OfficialURL: "https://city.example"}, got)
	assert.Equal(t, "Bearer secret", auth)
	assert.True(t, res.Success)

	filled := res.Filled()
	require.Len(t, filled, 1)
	assert.Equal(t, "03-1234-5678", filled["kokuho_phone"].Value)
	assert.Equal(t, 0.9, *filled["kokuho_phone"].Confidence)
	assert.Equal(t, []string{"kokuho_fax"}, res.Missing())
}

func TestFetchServiceVariables_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).FetchServiceVariables(context.Background(), "x", "y", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "quota exceeded", apiErr.Message)
}

func TestFetchServiceVariables_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{"))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).FetchServiceVariables(context.Background(), "x", "y", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract: decode response")
}

func TestResult_Helpers(t *testing.T) {
	r := &Result{Errors: []Error{{Code: "SEARCH_FAILED", Message: "no results", VariableName: "a"}}}
	assert.Equal(t, "no results", r.FirstError())
	assert.Equal(t, "extraction failed", (&Result{}).FirstError())

	de := r.DraftErrors()
	require.Len(t, de, 1)
	assert.Equal(t, "SEARCH_FAILED", de[0].Code)
	assert.Equal(t, "a", de[0].VariableName)
}

func TestResult_EmptyValueIsMissing(t *testing.T) {
	r := &Result{Variables: []Variable{{VariableName: "a", Value: strPtr("")}}}
	assert.Empty(t, r.Filled())
	assert.Equal(t, []string{"a"}, r.Missing())
}
