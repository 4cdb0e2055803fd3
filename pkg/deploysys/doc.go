// Package deploysys implements a minimal deployment sequencer based on Starlark for the
// plan specification and mvdan.cc/sh for the shell runtime.
// Steps run strictly in order and a run stops at the first step that reports a
// non-zero exit status, mirroring the errexit contract of a "set -e" shell script.
package deploysys
