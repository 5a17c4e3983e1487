package silero

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chriscow/livekit-voice-agent/internal/ortenv"
)

const (
	stateSize = 2 * 1 * 128
	// samples of the previous window prepended to each input
	contextSamples16k = 64
	contextSamples8k  = 32
)

// scorer turns one window of normalized samples into a speech probability.
type scorer interface {
	score(window []float32) (float64, error)
	close()
}

// onnxModel is the loaded Silero network, shared by every stream.
type onnxModel struct {
	session *ort.DynamicAdvancedSession
}

var (
	modelMu    sync.Mutex
	modelCache = map[string]*onnxModel{}
)

func loadModel(path string) (*onnxModel, error) {
	modelMu.Lock()
	defer modelMu.Unlock()

	if m, ok := modelCache[path]; ok {
		return m, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("silero model not found at %s: %w", path, err)
	}
	if err := ortenv.Ensure(); err != nil {
		return nil, fmt.Errorf("initialize ONNX runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, err
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{"input", "state", "sr"}, []string{"output", "stateN"}, options)
	if err != nil {
		return nil, fmt.Errorf("create silero session: %w", err)
	}

	m := &onnxModel{session: session}
	modelCache[path] = m
	return m, nil
}

// onnxStream carries the recurrent state of one audio stream.
type onnxStream struct {
	model      *onnxModel
	sampleRate int64
	state      []float32
	context    []float32
}

func (m *onnxModel) newStream(sampleRate int) *onnxStream {
	ctxLen := contextSamples16k
	if sampleRate == 8000 {
		ctxLen = contextSamples8k
	}
	return &onnxStream{
		model:      m,
		sampleRate: int64(sampleRate),
		state:      make([]float32, stateSize),
		context:    make([]float32, ctxLen),
	}
}

func (s *onnxStream) score(window []float32) (float64, error) {
	input := make([]float32, 0, len(s.context)+len(window))
	input = append(input, s.context...)
	input = append(input, window...)

	inTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return 0, err
	}
	defer inTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), s.state)
	if err != nil {
		return 0, err
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{s.sampleRate})
	if err != nil {
		return 0, err
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := s.model.session.Run([]ort.Value{inTensor, stateTensor, srTensor}, outputs); err != nil {
		return 0, fmt.Errorf("silero inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	prob, ok := outputs[0].(*ort.Tensor[float32])
	if !ok || len(prob.GetData()) == 0 {
		return 0, fmt.Errorf("unexpected silero output %T", outputs[0])
	}
	if next, ok := outputs[1].(*ort.Tensor[float32]); ok {
		copy(s.state, next.GetData())
	}
	copy(s.context, window[len(window)-len(s.context):])

	return float64(prob.GetData()[0]), nil
}

func (s *onnxStream) close() {}
