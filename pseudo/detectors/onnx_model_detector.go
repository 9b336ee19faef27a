package detectors

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/daulet/tokenizers"
	onnxruntime "github.com/yalue/onnxruntime_go"
)

const (
	// maxSequenceLength matches the max_position_embeddings of the
	// token-classification models.
	maxSequenceLength = int64(512)

	// tokenConfidenceFloor drops token predictions the model itself is not
	// sure about before entity grouping.
	tokenConfidenceFloor = 0.5
)

// ONNXRecognizer runs a quantized token-classification model through ONNX
// Runtime and decodes BIO-tagged output into entity spans.
type ONNXRecognizer struct {
	mu           sync.Mutex
	tokenizer    *tokenizers.Tokenizer
	session      *onnxruntime.AdvancedSession
	inputTensor  *onnxruntime.Tensor[int64]
	maskTensor   *onnxruntime.Tensor[int64]
	outputTensor *onnxruntime.Tensor[float32]
	id2label     map[string]string
	numLabels    int
	modelPath    string
	language     string
}

// safeUintToInt converts a uint to int with bounds checking.
func safeUintToInt(val uint) int {
	const maxInt = int(^uint(0) >> 1)
	if val <= uint(maxInt) {
		// #nosec G115 - Safe conversion with bounds checking
		return int(val)
	}
	return maxInt
}

// initRuntime points ONNX Runtime at the shared library and initializes the
// environment once per process.
func initRuntime() error {
	if onnxruntime.IsInitialized() {
		return nil
	}

	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	if libPath == "" {
		candidates := []string{
			"./libonnxruntime.so",
			"./build/libonnxruntime.so",
			"./libonnxruntime.1.23.1.dylib",
			"./build/libonnxruntime.1.23.1.dylib",
		}
		for _, path := range candidates {
			if _, err := os.Stat(path); err == nil {
				libPath = path
				break
			}
		}
	}
	if libPath != "" {
		onnxruntime.SetSharedLibraryPath(libPath)
	}

	if err := onnxruntime.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
	}
	return nil
}

// NewONNXRecognizer creates a recognizer from a per-language model bundle:
// the model file, its tokenizer.json, and the label_mappings.json holding
// the id2label table.
func NewONNXRecognizer(language, modelPath, tokenizerPath, labelMapPath string) (*ONNXRecognizer, error) {
	if err := initRuntime(); err != nil {
		return nil, err
	}

	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	labelData, err := os.ReadFile(labelMapPath) // #nosec G304 - path comes from the validated model directory
	if err != nil {
		if closeErr := tk.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close tokenizer during cleanup: %v\n", closeErr)
		}
		return nil, fmt.Errorf("failed to read label mappings: %w", err)
	}

	var labelConfig struct {
		ID2Label map[string]string `json:"id2label"`
		Label2ID map[string]int    `json:"label2id"`
	}
	if err := json.Unmarshal(labelData, &labelConfig); err != nil {
		if closeErr := tk.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close tokenizer during cleanup: %v\n", closeErr)
		}
		return nil, fmt.Errorf("failed to parse label mappings: %w", err)
	}

	// The label count is the highest id plus one; ids are 0-indexed and the
	// special "-100" ignore id does not occupy an output column.
	numLabels := 0
	for idStr := range labelConfig.ID2Label {
		if idStr == "-100" {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(idStr, "%d", &id); err == nil && id >= numLabels {
			numLabels = id + 1
		}
	}
	if numLabels == 0 {
		numLabels = len(labelConfig.Label2ID)
	}
	if numLabels == 0 {
		if closeErr := tk.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close tokenizer during cleanup: %v\n", closeErr)
		}
		return nil, fmt.Errorf("label mappings contain no labels")
	}

	return &ONNXRecognizer{
		tokenizer: tk,
		id2label:  labelConfig.ID2Label,
		numLabels: numLabels,
		modelPath: modelPath,
		language:  language,
	}, nil
}

// Name returns the name of this recognizer.
func (r *ONNXRecognizer) Name() string {
	return "onnx_recognizer_" + r.language
}

// Extract tokenizes the text, runs inference and decodes BIO output into
// entity spans. Inference reuses preallocated tensors, so calls are
// serialized per recognizer.
func (r *ONNXRecognizer) Extract(ctx context.Context, text string) ([]Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		if err := r.initializeSession(); err != nil {
			return nil, fmt.Errorf("failed to initialize session: %w", err)
		}
	}

	encoding := r.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnOffsets())
	tokenIDs := encoding.IDs

	inputIDs := make([]int64, len(tokenIDs))
	attentionMask := make([]int64, len(tokenIDs))
	for i := range tokenIDs {
		inputIDs[i] = int64(tokenIDs[i])
		attentionMask[i] = 1
	}
	r.updateInputTensors(inputIDs, attentionMask)

	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}

	return r.decodeOutput(text, tokenIDs, encoding.Offsets), nil
}

// decodeOutput groups consecutive B-/I-tagged tokens into entities with
// softmax confidences averaged across the span.
func (r *ONNXRecognizer) decodeOutput(text string, tokenIDs []uint32, offsets []tokenizers.Offset) []Entity {
	outputData := r.outputTensor.GetData()
	entities := []Entity{}

	numTokens := len(tokenIDs)
	if len(offsets) < numTokens {
		numTokens = len(offsets)
	}

	var currentEntity *Entity
	var currentTokens []int

	for i := 0; i < numTokens; i++ {
		startIdx := i * r.numLabels
		endIdx := (i + 1) * r.numLabels
		if endIdx > len(outputData) {
			break
		}
		tokenLogits := outputData[startIdx:endIdx]

		maxLogit := float64(-math.MaxFloat64)
		bestClass := 0
		for j, logit := range tokenLogits {
			if float64(logit) > maxLogit {
				maxLogit = float64(logit)
				bestClass = j
			}
		}

		label, exists := r.id2label[fmt.Sprintf("%d", bestClass)]
		if !exists {
			label = "O"
		}

		// Softmax over the token's logits.
		var sum float64
		for _, logit := range tokenLogits {
			sum += math.Exp(float64(logit))
		}
		confidence := math.Exp(maxLogit) / sum
		if confidence < tokenConfidenceFloor {
			label = "O"
		}

		isBeginning := strings.HasPrefix(label, "B-")
		isInside := strings.HasPrefix(label, "I-")
		baseLabel := strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")

		switch {
		case label != "O" && (isBeginning || currentEntity == nil):
			if currentEntity != nil {
				r.finalizeEntity(currentEntity, currentTokens, text, offsets)
				entities = append(entities, *currentEntity)
			}
			currentEntity = &Entity{Label: baseLabel, Confidence: confidence}
			currentTokens = []int{i}
		case label != "O" && isInside && currentEntity != nil && currentEntity.Label == baseLabel:
			currentTokens = append(currentTokens, i)
			currentEntity.Confidence = (currentEntity.Confidence + confidence) / 2
		default:
			if currentEntity != nil {
				r.finalizeEntity(currentEntity, currentTokens, text, offsets)
				entities = append(entities, *currentEntity)
				currentEntity = nil
				currentTokens = nil
			}
		}
	}

	if currentEntity != nil {
		r.finalizeEntity(currentEntity, currentTokens, text, offsets)
		entities = append(entities, *currentEntity)
	}

	return entities
}

// finalizeEntity fills in the span text and offsets from the token offsets.
func (r *ONNXRecognizer) finalizeEntity(entity *Entity, tokenIndices []int, text string, offsets []tokenizers.Offset) {
	if len(tokenIndices) == 0 {
		return
	}

	startOffset := offsets[tokenIndices[0]]
	endOffset := offsets[tokenIndices[len(tokenIndices)-1]]

	entity.Text = text[startOffset[0]:endOffset[1]]
	entity.Start = safeUintToInt(startOffset[0])
	entity.End = safeUintToInt(endOffset[1])
}

// initializeSession creates the session and the reusable input/output
// tensors on first use.
func (r *ONNXRecognizer) initializeSession() error {
	batchSize := int64(1)

	inputShape := onnxruntime.NewShape(batchSize, maxSequenceLength)
	inputTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSequenceLength))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	maskTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSequenceLength))
	if err != nil {
		if destroyErr := inputTensor.Destroy(); destroyErr != nil {
			fmt.Printf("Warning: failed to destroy input tensor during cleanup: %v\n", destroyErr)
		}
		return fmt.Errorf("failed to create mask tensor: %w", err)
	}

	outputShape := onnxruntime.NewShape(batchSize, maxSequenceLength, int64(r.numLabels))
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		if destroyErr := inputTensor.Destroy(); destroyErr != nil {
			fmt.Printf("Warning: failed to destroy input tensor during cleanup: %v\n", destroyErr)
		}
		if destroyErr := maskTensor.Destroy(); destroyErr != nil {
			fmt.Printf("Warning: failed to destroy mask tensor during cleanup: %v\n", destroyErr)
		}
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := onnxruntime.NewAdvancedSession(r.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]onnxruntime.Value{inputTensor, maskTensor},
		[]onnxruntime.Value{outputTensor},
		nil)
	if err != nil {
		if destroyErr := inputTensor.Destroy(); destroyErr != nil {
			fmt.Printf("Warning: failed to destroy input tensor during cleanup: %v\n", destroyErr)
		}
		if destroyErr := maskTensor.Destroy(); destroyErr != nil {
			fmt.Printf("Warning: failed to destroy mask tensor during cleanup: %v\n", destroyErr)
		}
		if destroyErr := outputTensor.Destroy(); destroyErr != nil {
			fmt.Printf("Warning: failed to destroy output tensor during cleanup: %v\n", destroyErr)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.session = session
	r.inputTensor = inputTensor
	r.maskTensor = maskTensor
	r.outputTensor = outputTensor
	return nil
}

// updateInputTensors clears the reusable tensors and copies the new data in.
func (r *ONNXRecognizer) updateInputTensors(inputIDs, attentionMask []int64) {
	inputData := r.inputTensor.GetData()
	maskData := r.maskTensor.GetData()

	for i := range inputData {
		inputData[i] = 0
		maskData[i] = 0
	}

	copy(inputData, inputIDs)
	copy(maskData, attentionMask)
}

// Close releases the session, tensors and tokenizer.
func (r *ONNXRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	if r.session != nil {
		if err := r.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
		r.session = nil
	}
	if r.inputTensor != nil {
		if err := r.inputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy input tensor: %w", err))
		}
		r.inputTensor = nil
	}
	if r.maskTensor != nil {
		if err := r.maskTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy mask tensor: %w", err))
		}
		r.maskTensor = nil
	}
	if r.outputTensor != nil {
		if err := r.outputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy output tensor: %w", err))
		}
		r.outputTensor = nil
	}
	if r.tokenizer != nil {
		if err := r.tokenizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tokenizer: %w", err))
		}
		r.tokenizer = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
