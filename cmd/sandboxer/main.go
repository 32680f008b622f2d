// Command sandboxer builds the shared object preloaded into the
// sudo-invoked bash on aegish's sudo execution path (spec.md §4.9). Build
// it with:
//
//	go build -buildmode=c-shared -o sandboxer.so ./cmd/sandboxer
//
// There are no exported C functions; the only contract this library has
// with the process that preloads it is its constructor, which Go's cgo
// runtime runs (via package init()) as soon as the dynamic linker loads
// the object — before the host binary's own main(). That ordering is what
// lets it install Landlock restrictions before bash's main ever gets a
// chance to run.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aegish-sh/aegish/internal/sandboxer"
)

func init() {
	if err := sandboxer.Apply(); err != nil {
		os.Stderr.WriteString("aegish-sandboxer: sandbox not applied: " + err.Error() + "\n")
		// _exit semantics, not a normal return: skip the host process's
		// own atexit/cleanup handlers rather than let it continue
		// unsandboxed (spec.md §4.9 step 5).
		unix.Exit(126)
	}
	setCanary()
}

// setCanary writes the canary variable directly into the process's real
// libc environ via cgo, not Go's os.Setenv: this library is loaded inside
// the target bash process's own address space, and bash reads its
// environment from libc's environ, not from any Go runtime state.
func setCanary() {
	name := C.CString(sandboxer.CanaryEnvVar)
	defer C.free(unsafe.Pointer(name))
	value := C.CString("1")
	defer C.free(unsafe.Pointer(value))
	C.setenv(name, value, 1)
}

// main is required by buildmode=c-shared but is never invoked; all work
// happens in init() before the preloading process's own main runs.
func main() {}
