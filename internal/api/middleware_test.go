//go:build unit || !integration

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name              string
		existingRequestID string
		expectGenerated   bool
	}{
		{
			name:            "generates_new_request_id_when_none_exists",
			expectGenerated: true,
		},
		{
			name:              "uses_existing_request_id_from_header",
			existingRequestID: "existing-request-id-123",
		},
		{
			name:              "uses_request_id_from_load_balancer",
			existingRequestID: "lb-generated-id-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requestID := GetRequestID(r)

				if tt.expectGenerated {
					_, err := uuid.Parse(requestID)
					assert.NoError(t, err, "generated ID should be a UUID")
				} else {
					assert.Equal(t, tt.existingRequestID, requestID)
				}

				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/crawl/stats", nil)
			if tt.existingRequestID != "" {
				req.Header.Set("X-Request-ID", tt.existingRequestID)
			}
			rec := httptest.NewRecorder()

			RequestIDMiddleware(handler).ServeHTTP(rec, req)

			responseRequestID := rec.Header().Get("X-Request-ID")
			assert.NotEmpty(t, responseRequestID)
			if !tt.expectGenerated {
				assert.Equal(t, tt.existingRequestID, responseRequestID)
			}
		})
	}
}

func TestGetRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	assert.Empty(t, GetRequestID(req))
	assert.Empty(t, GetRequestID(nil))

	req = req.WithContext(context.WithValue(req.Context(), requestIDKey, "test-request-123"))
	assert.Equal(t, "test-request-123", GetRequestID(req))
}

func TestRequestIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	for range 100 {
		id := generateRequestID()
		assert.False(t, ids[id], "generated ID should be unique")
		ids[id] = true
	}
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		responseCode int
		method       string
		path         string
	}{
		{"logs_successful_request", http.StatusOK, http.MethodGet, "/v1/crawl/stats"},
		{"logs_error_response", http.StatusInternalServerError, http.MethodPost, "/v1/crawl/start"},
		{"skips_health", http.StatusOK, http.MethodGet, "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.responseCode)
			})

			rec := httptest.NewRecorder()
			LoggingMiddleware(handler).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.responseCode, rec.Code)
		})
	}
}

func TestResponseWrapper(t *testing.T) {
	tests := []struct {
		name               string
		statusCodes        []int
		writeData          bool
		expectedStatusCode int
	}{
		{"captures_200_status", []int{http.StatusOK}, true, http.StatusOK},
		{"captures_404_status", []int{http.StatusNotFound}, false, http.StatusNotFound},
		{"defaults_to_200_when_not_set", nil, true, http.StatusOK},
		{"keeps_first_status", []int{http.StatusConflict, http.StatusOK}, false, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			wrapper := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

			for _, code := range tt.statusCodes {
				wrapper.WriteHeader(code)
			}
			if tt.writeData {
				_, err := wrapper.Write([]byte("test response"))
				require.NoError(t, err)
			}

			assert.Equal(t, tt.expectedStatusCode, wrapper.statusCode)
			assert.Equal(t, tt.expectedStatusCode, rec.Code)
		})
	}
}

func TestRecoverMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/crawl/stats", nil)
	req = req.WithContext(context.WithValue(req.Context(), requestIDKey, "panic-1"))
	rec := httptest.NewRecorder()

	assert.NotPanics(t, func() {
		RecoverMiddleware(handler).ServeHTTP(rec, req)
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(ErrCodeInternal), resp.Code)
	assert.Contains(t, resp.Message, "handler exploded")
	assert.Equal(t, "panic-1", resp.RequestID)
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		expectNext bool
	}{
		{"handles_regular_get_request", http.MethodGet, true},
		{"handles_post_request", http.MethodPost, true},
		{"handles_preflight_options_request", http.MethodOptions, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			})

			rec := httptest.NewRecorder()
			CORSMiddleware(handler).ServeHTTP(rec, httptest.NewRequest(tt.method, "/v1/crawl/start", nil))

			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, PUT, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Content-Type, Authorization, X-Request-ID", rec.Header().Get("Access-Control-Allow-Headers"))
			assert.Equal(t, "X-Request-ID, Retry-After", rec.Header().Get("Access-Control-Expose-Headers"))
			assert.Equal(t, tt.expectNext, handlerCalled)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestCrossOriginProtectionMiddleware(t *testing.T) {
	handler := CrossOriginProtectionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		method         string
		fetchSite      string
		expectedStatus int
	}{
		{"allows_non_browser_post", http.MethodPost, "", http.StatusOK},
		{"allows_cross_site_get", http.MethodGet, "cross-site", http.StatusOK},
		{"allows_same_origin_post", http.MethodPost, "same-origin", http.StatusOK},
		{"rejects_cross_site_post", http.MethodPost, "cross-site", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/crawl/start", nil)
			if tt.fetchSite != "" {
				req.Header.Set("Sec-Fetch-Site", tt.fetchSite)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/config", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Equal(t, "max-age=63072000; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
}

func TestMiddlewareChaining(t *testing.T) {
	finalHandlerCalled := false
	capturedRequestID := ""

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		finalHandlerCalled = true
		capturedRequestID = GetRequestID(r)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	chained := CORSMiddleware(
		SecurityHeadersMiddleware(
			RequestIDMiddleware(
				LoggingMiddleware(
					RecoverMiddleware(handler),
				),
			),
		),
	)

	rec := httptest.NewRecorder()
	chained.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawl/stats", nil))

	assert.True(t, finalHandlerCalled)
	assert.NotEmpty(t, capturedRequestID)
	assert.Equal(t, capturedRequestID, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestRequestIDMiddlewareConcurrency(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)

	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[GetRequestID(r)] = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/crawl/stats", nil))
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
}
