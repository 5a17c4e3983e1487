package internal

import "path/filepath"

// ModelInfo describes one revision of the turn-detector repository on the HuggingFace hub.
type ModelInfo struct {
	Name     string // "english", "multilingual"
	Repo     string
	Revision string
	Size     int64
	Files    []string

	// Hashes maps a file to its SHA-256. Files without an entry are only checked for existence.
	Hashes map[string]string
}

const (
	ModelFile     = "onnx/model_q8.onnx"
	TokenizerFile = "tokenizer.json"
	LanguagesFile = "languages.json"
)

var (
	EnglishModel = ModelInfo{
		Name:     "english",
		Repo:     "livekit/turn-detector",
		Revision: "v1.2.2-en",
		Size:     66 * 1024 * 1024,
		Files:    []string{ModelFile, TokenizerFile, LanguagesFile},
		Hashes: map[string]string{
			ModelFile:     "fdd695a99bda01155fb0b5ce71d34cb9fd3902c62496db7a6c2c7bdeac310ac7",
			TokenizerFile: "c8219a662de786c94771323c3500377970f5eaa3afbeaef9390c9a51db9f7884",
		},
	}

	MultilingualModel = ModelInfo{
		Name:     "multilingual",
		Repo:     "livekit/turn-detector",
		Revision: "v0.3.0-intl",
		Size:     281 * 1024 * 1024,
		Files:    []string{ModelFile, TokenizerFile, LanguagesFile},
	}

	AllModels = []ModelInfo{EnglishModel, MultilingualModel}
)

// Lookup returns the model with the given name.
func Lookup(name string) (ModelInfo, bool) {
	for _, m := range AllModels {
		if m.Name == name {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ModelPath returns the directory where a revision is stored.
func ModelPath(basePath, revision string) string {
	return filepath.Join(basePath, "turn-detector", revision)
}

// ModelFilePath returns the path of one file of a revision.
func ModelFilePath(basePath, revision, filename string) string {
	return filepath.Join(ModelPath(basePath, revision), filename)
}
