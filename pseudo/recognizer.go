package pseudo

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/hannes/textpseudonymizer/pseudo/detectors"
	"github.com/hannes/textpseudonymizer/pseudo/langdetect"
)

// modelBundle holds the file paths of one per-language model directory.
type modelBundle struct {
	ModelPath     string
	TokenizerPath string
	LabelMapPath  string
}

// EntityRecognizer owns one recognizer per language, loaded lazily on first
// use and cached until Unload. When the statistical model for a language
// cannot be loaded, the recognizer degrades to the deterministic fallback
// matcher so the rest of the pipeline stays exercisable.
type EntityRecognizer struct {
	mu          sync.RWMutex
	modelDir    string
	recognizers map[string]detectors.Recognizer
	statistical map[string]bool
}

// NewEntityRecognizer creates a registry reading per-language model bundles
// from modelDir. An empty modelDir means fallback-only operation.
func NewEntityRecognizer(modelDir string) *EntityRecognizer {
	return &EntityRecognizer{
		modelDir:    modelDir,
		recognizers: make(map[string]detectors.Recognizer),
		statistical: make(map[string]bool),
	}
}

// Extract runs the language's recognizer over the text. The read lock held
// for the duration guarantees Unload cannot release a model while a
// recognition request is in flight.
func (r *EntityRecognizer) Extract(ctx context.Context, text, language string) ([]detectors.Entity, error) {
	if !langdetect.IsSupported(language) {
		language = langdetect.DefaultLanguage
	}

	for {
		recognizer, err := r.recognizerFor(language)
		if err != nil {
			return nil, err
		}

		r.mu.RLock()
		if r.recognizers[language] != recognizer {
			// Unloaded between lookup and lock; load again.
			r.mu.RUnlock()
			continue
		}

		entities, err := recognizer.Extract(ctx, text)
		r.mu.RUnlock()
		if err != nil {
			return nil, fmt.Errorf("entity extraction failed: %w", err)
		}
		return entities, nil
	}
}

// recognizerFor returns the cached recognizer for the language, loading it
// on first use. Loading happens at most once per language even under
// concurrent first use.
func (r *EntityRecognizer) recognizerFor(language string) (detectors.Recognizer, error) {
	if !langdetect.IsSupported(language) {
		language = langdetect.DefaultLanguage
	}

	r.mu.RLock()
	recognizer, ok := r.recognizers[language]
	r.mu.RUnlock()
	if ok {
		return recognizer, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if recognizer, ok := r.recognizers[language]; ok {
		return recognizer, nil
	}

	recognizer = r.load(language)
	r.recognizers[language] = recognizer
	return recognizer, nil
}

// load builds the statistical recognizer for the language, or the fallback
// when the model bundle is missing or broken.
func (r *EntityRecognizer) load(language string) detectors.Recognizer {
	bundle, err := r.validateModelDirectory(language)
	if err != nil {
		log.Printf("[Recognizer] No statistical model for %q (%v), using fallback matcher", language, err)
		return detectors.NewFallbackRecognizer()
	}

	recognizer, err := detectors.NewONNXRecognizer(language, bundle.ModelPath, bundle.TokenizerPath, bundle.LabelMapPath)
	if err != nil {
		log.Printf("[Recognizer] Failed to load model for %q: %v, using fallback matcher", language, err)
		return detectors.NewFallbackRecognizer()
	}

	log.Printf("[Recognizer] Loaded %s model from %s", langdetect.ModelForLanguage(language), bundle.ModelPath)
	r.statistical[language] = true
	return recognizer
}

// validateModelDirectory checks that the per-language directory exists and
// contains all required files.
func (r *EntityRecognizer) validateModelDirectory(language string) (*modelBundle, error) {
	if r.modelDir == "" {
		return nil, fmt.Errorf("no model directory configured")
	}

	dir := filepath.Join(r.modelDir, language)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	requiredFiles := []string{"model_quantized.onnx", "tokenizer.json", "label_mappings.json"}
	var missing []string
	for _, filename := range requiredFiles {
		if _, err := os.Stat(filepath.Join(dir, filename)); os.IsNotExist(err) {
			missing = append(missing, filename)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required files in %s: %v", dir, missing)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}
	return &modelBundle{
		ModelPath:     filepath.Join(absDir, "model_quantized.onnx"),
		TokenizerPath: filepath.Join(absDir, "tokenizer.json"),
		LabelMapPath:  filepath.Join(absDir, "label_mappings.json"),
	}, nil
}

// LoadedModels returns how many statistical models are currently cached.
// Fallback matchers do not count.
func (r *EntityRecognizer) LoadedModels() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for language := range r.recognizers {
		if r.statistical[language] {
			count++
		}
	}
	return count
}

// Unload releases all cached models. Blocks until in-flight recognition
// requests have finished.
func (r *EntityRecognizer) Unload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for language, recognizer := range r.recognizers {
		if err := recognizer.Close(); err != nil {
			log.Printf("[Recognizer] Warning: failed to close recognizer for %q: %v", language, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.recognizers = make(map[string]detectors.Recognizer)
	r.statistical = make(map[string]bool)
	log.Printf("[Recognizer] All models unloaded")
	return firstErr
}
