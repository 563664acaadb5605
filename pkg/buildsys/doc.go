// Package buildsys reads mk.star build scripts. The scripts are written in Starlark and declare an
// ordered list of steps through mk_from(). Each step regenerates a target from its inputs with
// shell commands which run on mvdan.cc/sh. Steps are gated by build.MkFrom: they only run if the
// target is missing or older than one of its inputs.
package buildsys
