package hcl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Functions returns the functions available to pipeline expressions.
// Relative paths given to file() resolve against baseDir.
func Functions(baseDir string) map[string]function.Function {
	return map[string]function.Function{
		"env":        EnvFunc,
		"file":       MakeFileFunc(baseDir),
		"pathexpand": PathExpandFunc,
		"format":     stdlib.FormatFunc,
		"join":       stdlib.JoinFunc,
		"upper":      stdlib.UpperFunc,
		"lower":      stdlib.LowerFunc,
	}
}

// EnvFunc returns the value of an environment variable, or an empty string.
var EnvFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

// PathExpandFunc replaces a leading ~ with the current user's home directory.
var PathExpandFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "path", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		p, err := expandHome(args[0].AsString())
		if err != nil {
			return cty.NilVal, err
		}
		return cty.StringVal(p), nil
	},
})

// MakeFileFunc returns a function that reads a file's contents as a string.
func MakeFileFunc(baseDir string) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "path", Type: cty.String}},
		Type:   function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			p, err := expandHome(args[0].AsString())
			if err != nil {
				return cty.NilVal, err
			}
			if !filepath.IsAbs(p) {
				p = filepath.Join(baseDir, p)
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return cty.NilVal, fmt.Errorf("reading %s: %w", p, err)
			}
			return cty.StringVal(string(data)), nil
		},
	})
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
