//go:build unit || !integration

package techdetect

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	detector, err := New()
	require.NoError(t, err)
	assert.NotNil(t, detector)
	assert.NotNil(t, detector.client)
}

func TestDetect_EmptyInputs(t *testing.T) {
	detector, err := New()
	require.NoError(t, err)

	result := detector.Detect(nil, nil)

	assert.NotNil(t, result)
	assert.NotNil(t, result.Technologies)
	assert.Empty(t, result.Names())
}

func TestDetect_WithCloudflareHeaders(t *testing.T) {
	detector, err := New()
	require.NoError(t, err)

	headers := make(http.Header)
	headers.Set("CF-Ray", "1234567890abcdef-SYD")
	headers.Set("CF-Cache-Status", "HIT")
	headers.Set("Server", "cloudflare")

	result := detector.Detect(headers, nil)

	_, hasCloudflare := result.Technologies["Cloudflare"]
	assert.True(t, hasCloudflare, "Cloudflare should be detected")
	assert.Contains(t, detector.DetectNames(headers, nil), "Cloudflare")
}

func TestDetect_WithShopifySignatures(t *testing.T) {
	detector, err := New()
	require.NoError(t, err)

	headers := make(http.Header)
	headers.Set("X-ShopId", "12345678")
	headers.Set("X-Shopify-Stage", "production")
	headers.Set("Content-Type", "text/html; charset=utf-8")

	body := []byte(`<!DOCTYPE html><html><head><link rel="preconnect" href="https://cdn.shopify.com"></head><body data-shopify="true"></body></html>`)

	_, hasShopify := detector.Detect(headers, body).Technologies["Shopify"]
	assert.True(t, hasShopify, "Shopify should be detected")
}

func TestResult_NamesSorted(t *testing.T) {
	result := &Result{
		Technologies: map[string][]string{
			"WordPress":  {"CMS"},
			"Cloudflare": {"CDN"},
			"PHP":        {"Programming languages"},
		},
	}

	assert.Equal(t, []string{"Cloudflare", "PHP", "WordPress"}, result.Names())

	var nilResult *Result
	assert.Nil(t, nilResult.Names())
}

func TestDetect_ConcurrentAccess(t *testing.T) {
	detector, err := New()
	require.NoError(t, err)

	headers := make(http.Header)
	headers.Set("Server", "nginx")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotNil(t, detector.Detect(headers, []byte("<html></html>")))
		}()
	}
	wg.Wait()
}
