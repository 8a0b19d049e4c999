// Package catalog loads the product lists a batch run works on.
package catalog

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

// Product is one harvested product and the images collected for it.
type Product struct {
	ID            string   `json:"product_id" yaml:"product_id"`
	Name          string   `json:"product_name,omitempty" yaml:"product_name,omitempty"`
	URL           string   `json:"product_href,omitempty" yaml:"product_href,omitempty"`
	Brand         string   `json:"product_brand_name,omitempty" yaml:"product_brand_name,omitempty"`
	CategoryMain  string   `json:"category_main" yaml:"category_main"`
	CategorySub   string   `json:"category_sub" yaml:"category_sub"`
	SummaryImages []string `json:"summary_images,omitempty" yaml:"summary_images,omitempty"`
	DetailImages  []string `json:"detail_images,omitempty" yaml:"detail_images,omitempty"`
	// DetailHTML points to a saved detail section; its images are appended
	// to DetailImages by Load.
	DetailHTML string `json:"detail_html,omitempty" yaml:"detail_html,omitempty"`
}

// Load reads a product list from a .json, .yaml or .yml file. Products whose
// DetailHTML is set get the image URLs of that document appended.
func Load(path string) ([]Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read product list: %w", err)
	}

	var products []Product
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &products)
	case ".json":
		err = json.Unmarshal(data, &products)
	default:
		return nil, fmt.Errorf("unsupported product list format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse product list %s: %w", path, err)
	}

	for i := range products {
		p := &products[i]
		if p.ID == "" {
			return nil, fmt.Errorf("product %d in %s has no product_id", i, path)
		}
		if p.DetailHTML == "" {
			continue
		}
		htmlPath := p.DetailHTML
		if !filepath.IsAbs(htmlPath) {
			htmlPath = filepath.Join(filepath.Dir(path), htmlPath)
		}
		raw, err := os.ReadFile(htmlPath)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", p.ID, err)
		}
		urls, err := ExtractImageURLs(string(raw), p.URL, "")
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", p.ID, err)
		}
		p.DetailImages = dedupe(append(p.DetailImages, urls...))
	}

	return products, nil
}

// lazyAttrs are checked in order; lazy-loading pages keep the real URL in a
// data attribute and a placeholder in src.
var lazyAttrs = []string{"data-src", "data-original", "src"}

// ExtractImageURLs returns the image URLs of the img elements matched by
// inside selector (all img elements when selector is empty) in document
// order.
// Relative URLs resolve against base, protocol-relative URLs become https,
// data URIs are skipped and duplicates dropped.
func ExtractImageURLs(html, base, selector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var baseURL *url.URL
	if base != "" {
		if baseURL, err = url.Parse(base); err != nil {
			return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
		}
	}

	sel := doc.Find("img")
	if selector != "" {
		sel = doc.Find(selector).Find("img")
	}

	var urls []string
	sel.Each(func(_ int, s *goquery.Selection) {
		for _, attr := range lazyAttrs {
			v, ok := s.Attr(attr)
			if !ok {
				continue
			}
			if resolved, ok := resolveImageURL(strings.TrimSpace(v), baseURL); ok {
				urls = append(urls, resolved)
				return
			}
		}
	})

	return dedupe(urls), nil
}

func resolveImageURL(src string, base *url.URL) (string, bool) {
	if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
		return "", false
	}
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	target, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	if base != nil {
		target = base.ResolveReference(target)
	}
	if scheme := strings.ToLower(target.Scheme); scheme != "http" && scheme != "https" {
		return "", false
	}
	target.Fragment = ""
	return target.String(), true
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
