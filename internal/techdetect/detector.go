// Package techdetect fingerprints the technologies behind crawled pages
// (CMS platforms, CDNs, frameworks) using wappalyzergo.
package techdetect

import (
	"net/http"
	"sort"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

// Result maps each detected technology to its category names,
// e.g. {"WordPress": ["CMS"], "Cloudflare": ["CDN"]}.
type Result struct {
	Technologies map[string][]string `json:"technologies"`
}

// Names returns the detected technology names in sorted order.
func (r *Result) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Technologies))
	for name := range r.Technologies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detector provides technology detection capabilities
type Detector struct {
	client *wappalyzer.Wappalyze
	mu     sync.RWMutex
}

var (
	categoryNames     map[int]string
	categoryNamesOnce sync.Once
)

// New creates a new technology detector. Loading the fingerprint set is
// expensive, so create one per process and share it.
func New() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		for id, cat := range wappalyzer.GetCategoriesMapping() {
			categoryNames[id] = cat.Name
		}
	})

	return &Detector{client: client}, nil
}

// Detect identifies technologies from response headers and body.
func (d *Detector) Detect(headers http.Header, body []byte) *Result {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := &Result{Technologies: make(map[string][]string)}

	for tech, catInfo := range d.client.FingerprintWithCats(headers, body) {
		categories := make([]string, 0, len(catInfo.Cats))
		for _, catID := range catInfo.Cats {
			if name, ok := categoryNames[catID]; ok {
				categories = append(categories, name)
			}
		}
		result.Technologies[tech] = categories
	}

	log.Debug().
		Int("tech_count", len(result.Technologies)).
		Msg("Technology detection completed")

	return result
}

// DetectNames is Detect reduced to the sorted technology names.
func (d *Detector) DetectNames(headers http.Header, body []byte) []string {
	return d.Detect(headers, body).Names()
}
