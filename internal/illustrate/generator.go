// Package illustrate renders scene images through a Stable Diffusion
// WebUI-compatible txt2img endpoint and publishes them as static files.
package illustrate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// requestTimeout caps a single txt2img call; diffusion backends that take
// longer than this are effectively down.
const requestTimeout = 30 * time.Second

// Generation parameters tuned for a fast, wide banner image.
const (
	imageWidth  = 900
	imageHeight = 300
	imageSteps  = 6
	imageCFG    = 2
)

// Generator turns a scene description into a PNG under the public
// directory and returns its URL path. Calls are rate limited so bursty
// scene changes don't stack renders on the GPU.
type Generator struct {
	client     *http.Client
	baseURL    string
	outDir     string
	urlPrefix  string
	limiter    *rate.Limiter
	log        zerolog.Logger
	timestamps func() time.Time
}

// NewGenerator creates a generator writing under <publicDir>/illustrations.
func NewGenerator(baseURL, publicDir string, log zerolog.Logger) *Generator {
	return &Generator{
		client:     &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		outDir:     filepath.Join(publicDir, "illustrations"),
		urlPrefix:  "/public/illustrations",
		limiter:    rate.NewLimiter(rate.Every(5*time.Second), 1),
		log:        log.With().Str("component", "illustrate").Logger(),
		timestamps: time.Now,
	}
}

// Generate renders description and returns the public URL of the saved
// image. The ctx governs both the rate-limit wait and the HTTP call.
func (g *Generator) Generate(ctx context.Context, description string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	payload := map[string]any{
		"prompt":          description,
		"negative_prompt": "",
		"sampler":         "DPM++ SDE",
		"scheduler":       "Automatic",
		"steps":           imageSteps,
		"cfg_scale":       imageCFG,
		"width":           imageWidth,
		"height":          imageHeight,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("txt2img request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("txt2img returned status %d", resp.StatusCode)
	}

	var result struct {
		Images []string `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode txt2img response: %w", err)
	}
	if len(result.Images) == 0 || result.Images[0] == "" {
		return "", fmt.Errorf("txt2img returned no images")
	}

	img, err := base64.StdEncoding.DecodeString(result.Images[0])
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("scene-%s.png", g.timestamps().UTC().Format("20060102T150405Z"))
	if err := os.WriteFile(filepath.Join(g.outDir, name), img, 0o644); err != nil {
		return "", err
	}

	url := g.urlPrefix + "/" + name
	g.log.Debug().Str("url", url).Int("bytes", len(img)).Msg("scene image saved")
	return url, nil
}
