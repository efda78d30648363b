package kernel

import (
	"fmt"
	"strings"
)

// pythonLikeSpec reports whether a kernel spec name looks like a Python
// kernel. An empty spec means the gateway default, which is Python.
func pythonLikeSpec(spec string) bool {
	if spec == "" {
		return true
	}
	return strings.Contains(strings.ToLower(spec), "python")
}

// bootstrapCode generates the working-directory snippet executed right after
// connect: a chdir plus a sys.path entry so modules next to the document
// resolve. The snippet guards itself so kernel-side failures are swallowed;
// non-Python kernels get no snippet.
func bootstrapCode(workingDir, kernelSpec string) string {
	if workingDir == "" || !pythonLikeSpec(kernelSpec) {
		return ""
	}
	return fmt.Sprintf(`import os, sys
try:
    d = %q
    os.chdir(d)
    if d not in sys.path:
        sys.path.insert(0, d)
except Exception:
    pass`, workingDir)
}
