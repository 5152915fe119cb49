// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"path/filepath"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"runmatrix": Execute,
	})
}

// TestScripts runs the end-to-end scripts in testdata/script against an
// in-process runmatrix binary with the host backend.
func TestScripts(t *testing.T) {
	t.Parallel()

	testscript.Run(t, testscript.Params{
		Dir: filepath.Join("testdata", "script"),
		Setup: func(env *testscript.Env) error {
			env.Setenv("XDG_CONFIG_HOME", filepath.Join(env.WorkDir, ".config"))
			env.Setenv("RUNMATRIX_BACKEND", "none")
			env.Setenv("RUNMATRIX_UI_COLOR", "false")
			env.Setenv("NO_COLOR", "1")
			return nil
		},
	})
}
