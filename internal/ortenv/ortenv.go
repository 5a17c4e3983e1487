// Package ortenv owns the process-wide ONNX Runtime environment shared by the
// turn detector and the Silero VAD.
package ortenv

import (
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	once    sync.Once
	initErr error
)

// Ensure initializes the ONNX Runtime environment once per process and
// returns the result of that first initialization on every call.
// ONNXRUNTIME_LIB overrides the shared library location.
func Ensure() error {
	once.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}
