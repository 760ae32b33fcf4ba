package dsp

/*
#cgo LDFLAGS: -lfftw3f
#include <fftw3.h>
#include <stdlib.h>
*/
import "C"

import (
	"os"
	"path/filepath"
	"unsafe"
)

const wisdomFile = ".kal_fftw_plan"

// wisdomPath places the plan cache in the user's home directory, or the
// working directory when HOME is unset.
func wisdomPath() string {
	home := os.Getenv("HOME")
	if home == "" {
		home = "."
	}
	return filepath.Join(home, wisdomFile)
}

// The go-fftw binding does not expose the wisdom API, so these two go
// straight to libfftw3f. Both are best-effort.
func importWisdom(path string) bool {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	return C.fftwf_import_wisdom_from_filename(cs) != 0
}

func exportWisdom(path string) bool {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	return C.fftwf_export_wisdom_to_filename(cs) != 0
}
