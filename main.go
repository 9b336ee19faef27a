package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hannes/textpseudonymizer/config"
	"github.com/hannes/textpseudonymizer/pseudo"
)

func main() {
	// Logs go to stderr so stdout stays valid JSON.
	log.SetOutput(os.Stderr)

	// Load .env if present; a missing file is not an error.
	if err := godotenv.Load(); err == nil {
		log.Printf("[Main] Loaded environment from .env")
	}

	configPath := flag.String("config", "", "path to a JSON config file")
	text := flag.String("text", "", "text to pseudonymize (reads stdin when empty)")
	language := flag.String("language", "auto", "input language code, or auto")
	sessionID := flag.String("session", "", "session id for consistent mappings across runs")
	minConfidence := flag.Float64("min-confidence", -1, "minimum confidence for recognized entities (defaults to the configured value)")
	showMappings := flag.Bool("mappings", false, "print the session mapping table after processing")
	detectOnly := flag.Bool("detect-language", false, "only detect the input language")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("[Main] Failed to load configuration: %v", err)
	}
	cfg.ApplyEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	service, err := pseudo.New(ctx, cfg)
	if err != nil {
		log.Fatalf("[Main] Failed to initialize pseudonymizer: %v", err)
	}
	defer func() {
		if err := service.Close(); err != nil {
			log.Printf("[Main] Warning: shutdown error: %v", err)
		}
	}()

	if cfg.Database.Enabled && cfg.Database.CleanupHours > 0 {
		olderThan := time.Duration(cfg.Database.CleanupHours) * time.Hour
		if _, err := service.CleanupSessions(ctx, olderThan); err != nil {
			log.Printf("[Main] Warning: session cleanup failed: %v", err)
		}
	}

	input := *text
	if input == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("[Main] Failed to read stdin: %v", err)
		}
		input = strings.TrimRight(string(data), "\n")
	}

	if *detectOnly {
		emit(service.DetectLanguage(input))
		return
	}

	opts := pseudo.DefaultOptions()
	opts.Language = *language
	opts.SessionID = *sessionID
	opts.MinConfidence = cfg.MinConfidence
	if *minConfidence >= 0 {
		opts.MinConfidence = *minConfidence
	}

	output, result, err := service.PseudonymizeText(ctx, input, &opts)
	if err != nil {
		fail(err)
	}

	response := map[string]any{
		"pseudonymized_text": output,
		"session_id":         result.SessionID,
		"detected_language":  result.Language,
		"entity_count":       result.EntityCount,
	}
	if *showMappings {
		mappings, err := service.GetEntityMappings(result.SessionID)
		if err != nil {
			fail(err)
		}
		response["mappings"] = mappings.Mappings
		response["statistics"] = mappings.Statistics
	}
	emit(response)
}

// emit writes a value as indented JSON on stdout.
func emit(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		log.Fatalf("[Main] Failed to encode output: %v", err)
	}
}

// fail prints a structured error on stdout and exits nonzero.
func fail(err error) {
	var serviceErr *pseudo.ServiceError
	if !errors.As(err, &serviceErr) {
		serviceErr = &pseudo.ServiceError{Code: "INTERNAL", Message: err.Error()}
	}
	data, _ := json.MarshalIndent(serviceErr, "", "  ")
	fmt.Println(string(data))
	os.Exit(1)
}
