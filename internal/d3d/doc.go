// Package d3d is a thin pure-Go binding over the Direct3D 11 and DXGI COM
// interfaces the overlay needs: device and swap chain access, textures,
// shader compilation, pipeline state and cross-process shared resources.
//
// All calls go through vtable indices with syscall.SyscallN; there is no cgo.
package d3d
