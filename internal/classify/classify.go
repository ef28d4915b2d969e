// Package classify decides whether a directory in a MISO output tree holds
// raw pipeline results or only organizes other directories.
package classify

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultResultSuffix is the extension MISO gives its raw per-event output files.
const DefaultResultSuffix = ".miso"

// Classification is the kind of a visited directory.
type Classification int

const (
	Structural Classification = iota
	RawOutput
)

func (c Classification) String() string {
	switch c {
	case RawOutput:
		return "raw-output"
	case Structural:
		return "structural"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// Predicate reports whether dir is a raw-output directory. It sees only the
// names of the files directly inside dir and must not touch the filesystem.
type Predicate func(dir string, fileNames []string) bool

// Classify applies pred to a directory listing. A nil predicate classifies
// everything as Structural.
func Classify(dir string, fileNames []string, pred Predicate) Classification {
	if pred != nil && pred(dir, fileNames) {
		return RawOutput
	}
	return Structural
}

// IsResultFile reports whether name carries the result suffix.
func IsResultFile(name, suffix string) bool {
	return suffix != "" && strings.HasSuffix(name, suffix) && len(name) > len(suffix)
}

// SuffixPredicate recognizes directories that directly contain at least one
// file ending in suffix.
func SuffixPredicate(suffix string) Predicate {
	return func(_ string, fileNames []string) bool {
		for _, name := range fileNames {
			if IsResultFile(name, suffix) {
				return true
			}
		}
		return false
	}
}

// exprEnv is the variable set visible to raw_dir_expr expressions.
type exprEnv struct {
	Dir    string   `expr:"dir"`
	Files  []string `expr:"files"`
	Suffix string   `expr:"suffix"`
}

// CompileExpr checks that source is a boolean expression over dir, files and suffix.
func CompileExpr(source string) (*vm.Program, error) {
	program, err := expr.Compile(source, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling raw directory expression: %w", err)
	}
	return program, nil
}

// ExprPredicate builds a Predicate from an expr-lang expression such as
//
//	count(files, hasSuffix(#, suffix)) >= 2
//
// A run-time evaluation error classifies the directory as Structural.
func ExprPredicate(source, suffix string) (Predicate, error) {
	program, err := CompileExpr(source)
	if err != nil {
		return nil, err
	}
	return func(dir string, fileNames []string) bool {
		out, err := expr.Run(program, exprEnv{Dir: dir, Files: fileNames, Suffix: suffix})
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		return ok
	}, nil
}
