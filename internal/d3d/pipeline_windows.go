//go:build windows

package d3d

import (
	"math"
	"sync"
	"unsafe"
)

// Pipeline holds the device-dependent state for drawing a textured
// full-screen triangle with alpha-over blending.
type Pipeline struct {
	vs      Object
	ps      Object
	blend   Object
	sampler Object
}

var (
	bytecodeOnce sync.Once
	vsBytecode   []byte
	psBytecode   []byte
	bytecodeErr  error
)

// overlayBytecode compiles the overlay shaders once per process.
func overlayBytecode() ([]byte, []byte, error) {
	bytecodeOnce.Do(func() {
		vsBytecode, bytecodeErr = Compile(OverlayHLSL, "overlay.hlsl", VertexEntry, VertexTarget)
		if bytecodeErr != nil {
			return
		}
		psBytecode, bytecodeErr = Compile(OverlayHLSL, "overlay.hlsl", PixelEntry, PixelTarget)
	})
	return vsBytecode, psBytecode, bytecodeErr
}

// CreatePipeline builds shaders, sampler and blend state on d.
//
// Color blends source-alpha over inverse-source-alpha. Alpha uses ONE/ZERO
// so the overlay's own alpha is written through unattenuated.
func (d *Device) CreatePipeline() (*Pipeline, error) {
	vsCode, psCode, err := overlayBytecode()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{}
	var ptr uintptr
	if err := comCall("CreateVertexShader", d.dev, devCreateVertexShader,
		uintptr(unsafe.Pointer(&vsCode[0])), uintptr(len(vsCode)), 0, uintptr(unsafe.Pointer(&ptr)),
	); err != nil {
		return nil, err
	}
	p.vs = Object{ptr: ptr}

	ptr = 0
	if err := comCall("CreatePixelShader", d.dev, devCreatePixelShader,
		uintptr(unsafe.Pointer(&psCode[0])), uintptr(len(psCode)), 0, uintptr(unsafe.Pointer(&ptr)),
	); err != nil {
		p.Release()
		return nil, err
	}
	p.ps = Object{ptr: ptr}

	sd := samplerDesc{
		Filter:         filterMinMagMipLinear,
		AddressU:       addressClamp,
		AddressV:       addressClamp,
		AddressW:       addressClamp,
		ComparisonFunc: comparisonNever,
		MaxLOD:         math.MaxFloat32,
	}
	ptr = 0
	if err := comCall("CreateSamplerState", d.dev, devCreateSamplerState,
		uintptr(unsafe.Pointer(&sd)), uintptr(unsafe.Pointer(&ptr)),
	); err != nil {
		p.Release()
		return nil, err
	}
	p.sampler = Object{ptr: ptr}

	var bd blendDesc
	bd.RenderTarget[0] = renderTargetBlendDesc{
		BlendEnable:           1,
		SrcBlend:              blendSrcAlpha,
		DestBlend:             blendInvSrcAlpha,
		BlendOp:               blendOpAdd,
		SrcBlendAlpha:         blendOne,
		DestBlendAlpha:        blendZero,
		BlendOpAlpha:          blendOpAdd,
		RenderTargetWriteMask: colorWriteAll,
	}
	ptr = 0
	if err := comCall("CreateBlendState", d.dev, devCreateBlendState,
		uintptr(unsafe.Pointer(&bd)), uintptr(unsafe.Pointer(&ptr)),
	); err != nil {
		p.Release()
		return nil, err
	}
	p.blend = Object{ptr: ptr}

	return p, nil
}

// Release drops every pipeline object.
func (p *Pipeline) Release() {
	if p == nil {
		return
	}
	p.blend.Release()
	p.sampler.Release()
	p.ps.Release()
	p.vs.Release()
}

// RenderTarget is a render target view over a swap chain back buffer.
type RenderTarget struct {
	Object
}

// CreateRenderTarget creates a view over back buffer 0 of sc.
func (d *Device) CreateRenderTarget(sc *SwapChain) (*RenderTarget, error) {
	buf, err := sc.backBuffer()
	if err != nil {
		return nil, err
	}
	defer comRelease(buf)

	var rtv uintptr
	if err := comCall("CreateRenderTargetView", d.dev, devCreateRenderTargetView,
		buf, 0, uintptr(unsafe.Pointer(&rtv)),
	); err != nil {
		return nil, err
	}
	return &RenderTarget{Object: Object{ptr: rtv}}, nil
}

// Draw binds the pipeline, target and texture and issues one 3-vertex draw.
func (d *Device) Draw(p *Pipeline, rt *RenderTarget, tex *Texture, vp Viewport) {
	rtv := rt.Ptr()
	comCallRaw(d.ctx, ctxOMSetRenderTargets, 1, uintptr(unsafe.Pointer(&rtv)), 0)
	comCallRaw(d.ctx, ctxRSSetViewports, 1, uintptr(unsafe.Pointer(&vp)))

	blendFactor := [4]float32{}
	comCallRaw(d.ctx, ctxOMSetBlendState, p.blend.Ptr(), uintptr(unsafe.Pointer(&blendFactor)), 0xFFFFFFFF)

	comCallRaw(d.ctx, ctxIASetInputLayout, 0)
	comCallRaw(d.ctx, ctxIASetPrimitiveTopology, topologyTriangleList)
	comCallRaw(d.ctx, ctxVSSetShader, p.vs.Ptr(), 0, 0)
	comCallRaw(d.ctx, ctxPSSetShader, p.ps.Ptr(), 0, 0)

	sampler := p.sampler.Ptr()
	comCallRaw(d.ctx, ctxPSSetSamplers, 0, 1, uintptr(unsafe.Pointer(&sampler)))
	srv := tex.SRV()
	comCallRaw(d.ctx, ctxPSSetShaderResources, 0, 1, uintptr(unsafe.Pointer(&srv)))

	comCallRaw(d.ctx, ctxDraw, 3, 0)

	// Unbind so the host never sees our view left in slot 0.
	srv = 0
	comCallRaw(d.ctx, ctxPSSetShaderResources, 0, 1, uintptr(unsafe.Pointer(&srv)))
}
