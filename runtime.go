package main

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"
)

// sharedLibraryEnv overrides the configured onnxruntime library.
const sharedLibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// libraryName is the platform file name of the onnxruntime shared library.
func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// resolveSharedLibrary picks the onnxruntime library: the environment wins,
// then the configured path, then lib/<platform name> next to the binary.
// An empty result leaves the choice to onnxruntime_go.
func resolveSharedLibrary(configured string) string {
	if env := os.Getenv(sharedLibraryEnv); env != "" {
		return env
	}
	if configured != "" {
		return configured
	}

	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(filepath.Dir(exe), "lib", libraryName())
	if _, err := os.Stat(candidate); err != nil {
		log.Debug().Str("path", candidate).Msg("no bundled onnxruntime library")
		return ""
	}
	return candidate
}
