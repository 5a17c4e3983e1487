package turn

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/chriscow/livekit-voice-agent/internal/ortenv"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/turn/internal"
)

const (
	maxHistoryTurns  = 6
	maxHistoryTokens = 128

	imEnd = "<|im_end|>"

	slowInference = 25 * time.Millisecond
)

// ONNXDetector runs a turn-detector revision locally. The session, tokenizer
// and language thresholds are loaded on first use.
type ONNXDetector struct {
	model     internal.ModelInfo
	modelPath string
	logger    *slog.Logger

	sessionOnce sync.Once
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputName  string
	sessionErr  error

	tokenizerOnce sync.Once
	tokenizer     *tokenizer.Tokenizer
	tokenizerErr  error

	languagesOnce sync.Once
	languages     map[string]float64
	languagesErr  error

	runMu sync.Mutex
}

// NewONNXDetector creates a detector for the named model. No files are read until first use.
func NewONNXDetector(modelName, modelPath string) (*ONNXDetector, error) {
	model, ok := internal.Lookup(modelName)
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", modelName)
	}
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	return &ONNXDetector{
		model:     model,
		modelPath: modelPath,
		logger:    slog.Default().With(slog.String("component", "turn"), slog.String("model", model.Name)),
	}, nil
}

// ModelPath is the directory model files are loaded from.
func (d *ONNXDetector) ModelPath() string {
	return d.modelPath
}

// Revision returns the model revision this detector loads.
func (d *ONNXDetector) Revision() string {
	return d.model.Revision
}

func (d *ONNXDetector) UnlikelyThreshold(language string) (float64, error) {
	if err := d.loadLanguages(); err != nil {
		return 0, err
	}
	for _, key := range languageKeys(language) {
		if threshold, ok := d.languages[key]; ok {
			return threshold, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
}

func (d *ONNXDetector) SupportsLanguage(language string) bool {
	_, err := d.UnlikelyThreshold(language)
	return err == nil
}

func (d *ONNXDetector) PredictEndOfTurn(ctx context.Context, in Input) (float64, error) {
	start := time.Now()

	if err := d.loadSession(); err != nil {
		return 0, err
	}
	if err := d.loadTokenizer(); err != nil {
		return 0, err
	}

	tokens, err := d.encode(in.Messages)
	if err != nil {
		return 0, fmt.Errorf("tokenize chat: %w", err)
	}

	p, err := d.infer(ctx, tokens)
	if err != nil {
		return 0, fmt.Errorf("turn inference: %w", err)
	}

	if latency := time.Since(start); latency > slowInference {
		d.logger.Debug("Slow turn inference", slog.Duration("latency", latency))
	}
	return p, nil
}

func (d *ONNXDetector) file(name string) string {
	return internal.ModelFilePath(d.modelPath, d.model.Revision, name)
}

func (d *ONNXDetector) loadSession() error {
	d.sessionOnce.Do(func() {
		modelFile := d.file(internal.ModelFile)
		if _, err := os.Stat(modelFile); err != nil {
			d.sessionErr = fmt.Errorf("model file not found: %s (run 'download-files' first)", modelFile)
			return
		}
		if err := ortenv.Ensure(); err != nil {
			d.sessionErr = fmt.Errorf("initialize ONNX runtime: %w", err)
			return
		}

		inputs, outputs, err := ort.GetInputOutputInfo(modelFile)
		if err != nil {
			d.sessionErr = fmt.Errorf("read model signature: %w", err)
			return
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			d.sessionErr = fmt.Errorf("model %s has no inputs or outputs", modelFile)
			return
		}
		d.inputName = inputs[0].Name
		d.outputName = outputs[0].Name

		options, err := ort.NewSessionOptions()
		if err != nil {
			d.sessionErr = fmt.Errorf("create session options: %w", err)
			return
		}
		defer options.Destroy()

		if err := options.SetIntraOpNumThreads(max(1, runtime.NumCPU()/2)); err != nil {
			d.sessionErr = fmt.Errorf("set intra-op threads: %w", err)
			return
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			d.sessionErr = fmt.Errorf("set inter-op threads: %w", err)
			return
		}
		if err := options.AddSessionConfigEntry("session.dynamic_block_base", "4"); err != nil {
			d.sessionErr = fmt.Errorf("set session.dynamic_block_base: %w", err)
			return
		}

		d.session, err = ort.NewDynamicAdvancedSession(modelFile,
			[]string{d.inputName}, []string{d.outputName}, options)
		if err != nil {
			d.sessionErr = fmt.Errorf("create ONNX session: %w", err)
		}
	})
	return d.sessionErr
}

func (d *ONNXDetector) loadTokenizer() error {
	d.tokenizerOnce.Do(func() {
		path := d.file(internal.TokenizerFile)
		if _, err := os.Stat(path); err != nil {
			d.tokenizerErr = fmt.Errorf("tokenizer file not found: %s (run 'download-files' first)", path)
			return
		}
		tk, err := pretrained.FromFile(path)
		if err != nil {
			d.tokenizerErr = fmt.Errorf("load tokenizer: %w", err)
			return
		}
		d.tokenizer = tk
	})
	return d.tokenizerErr
}

func (d *ONNXDetector) loadLanguages() error {
	d.languagesOnce.Do(func() {
		data, err := os.ReadFile(d.file(internal.LanguagesFile))
		if err != nil {
			d.languagesErr = fmt.Errorf("read languages.json: %w", err)
			return
		}
		d.languages, d.languagesErr = parseLanguages(data)
	})
	return d.languagesErr
}

// parseLanguages accepts both {"en": 0.85} and {"en": {"threshold": 0.85}}.
func parseLanguages(data []byte) (map[string]float64, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode languages.json: %w", err)
	}

	out := make(map[string]float64, len(raw))
	for lang, v := range raw {
		switch t := v.(type) {
		case float64:
			out[strings.ToLower(lang)] = t
		case map[string]any:
			if th, ok := t["threshold"].(float64); ok {
				out[strings.ToLower(lang)] = th
			}
		}
	}
	return out, nil
}

// formatChat renders the last turns with the model's chat template. The final
// end marker is left off so the model predicts it.
func formatChat(messages []llm.Message) string {
	if len(messages) > maxHistoryTurns {
		messages = messages[len(messages)-maxHistoryTurns:]
	}

	var b strings.Builder
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "<|im_start|><|%s|>%s%s", msg.Role, msg.Content, imEnd)
	}
	return strings.TrimSuffix(b.String(), imEnd)
}

func (d *ONNXDetector) encode(messages []llm.Message) ([]int64, error) {
	enc, err := d.tokenizer.EncodeSingle(formatChat(messages), false)
	if err != nil {
		return nil, err
	}

	ids := enc.GetIds()
	if len(ids) > maxHistoryTokens {
		ids = ids[len(ids)-maxHistoryTokens:]
	}
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out, nil
}

func (d *ONNXDetector) infer(ctx context.Context, tokens []int64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0.5, nil
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return 0, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	d.runMu.Lock()
	defer d.runMu.Unlock()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return 0, err
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	data := tensor.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("empty output tensor")
	}

	p := float64(data[len(data)-1])
	return min(max(p, 0), 1), nil
}

// DefaultModelPath is LK_MODEL_PATH, else ~/.livekit/models.
func DefaultModelPath() string {
	if path := os.Getenv("LK_MODEL_PATH"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "livekit-models")
	}
	return filepath.Join(home, ".livekit", "models")
}
