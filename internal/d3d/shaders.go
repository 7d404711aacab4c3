package d3d

import _ "embed"

// OverlayHLSL draws one full-screen triangle generated from SV_VertexID and
// samples the bound overlay texture. No vertex buffer or input layout.
//
//go:embed overlay.hlsl
var OverlayHLSL string

// Shader entry points and targets inside OverlayHLSL.
const (
	VertexEntry  = "vs_main"
	PixelEntry   = "ps_main"
	VertexTarget = "vs_5_0"
	PixelTarget  = "ps_5_0"
)
