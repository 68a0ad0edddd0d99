package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/prepline/manifest/internal/compiler"
)

// Loader error codes, disjoint from compiler diagnostic codes.
const (
	ErrCodeNotFound   = "L001" // path not found or not a directory
	ErrCodeNoFiles    = "L002" // no .cue files in directory
	ErrCodeLoadFailed = "L003" // CUE load/build failed
)

// LoadError is a failure to even get the program in front of the
// compiler: bad directory, no files, unbuildable CUE.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadProgram builds one CUE value from every .cue file in dir and
// compiles it. Load failures come back as *LoadError; everything past
// that point is expressed as compiler diagnostics in the Result.
func LoadProgram(dir string) (compiler.Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return compiler.Result{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("cannot access %s: %v", dir, err)}
	}
	if !info.IsDir() {
		return compiler.Result{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return compiler.Result{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("scanning %s: %v", dir, err)}
	}
	if len(files) == 0 {
		return compiler.Result{}, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no .cue files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return compiler.Result{}, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return compiler.Result{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	return compiler.CompileValue(value), nil
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
