//go:build windows

package d3d

// Formats, usages and flags.
const (
	FormatR8G8B8A8UNorm = 28
	FormatB8G8R8A8UNorm = 87

	usageDefault = 0
	usageDynamic = 2

	bindShaderResource = 0x8
	bindRenderTarget   = 0x20

	cpuAccessWrite = 0x10000

	miscShared = 0x2

	mapWriteDiscard = 4

	topologyTriangleList = 4

	filterMinMagMipLinear = 0x15
	addressClamp          = 3
	comparisonNever       = 1

	blendZero        = 1
	blendOne         = 2
	blendSrcAlpha    = 5
	blendInvSrcAlpha = 6
	blendOpAdd       = 1
	colorWriteAll    = 0xF

	driverTypeHardware = 1
	featureLevel11_0   = 0xb000
	sdkVersion         = 7

	dxgiUsageRenderTargetOutput = 0x20
	swapEffectDiscard           = 0

	compileOptimizationLevel3 = 1 << 15
)

// ID3D11Device vtable indices.
const (
	devCreateTexture2D          = 5
	devCreateShaderResourceView = 7
	devCreateRenderTargetView   = 9
	devCreateVertexShader       = 12
	devCreatePixelShader        = 15
	devCreateBlendState         = 20
	devCreateSamplerState       = 23
	devOpenSharedResource       = 28
	devGetDeviceRemovedReason   = 39
	devGetImmediateContext      = 40
)

// ID3D11DeviceContext vtable indices.
const (
	ctxPSSetShaderResources   = 8
	ctxPSSetShader            = 9
	ctxPSSetSamplers          = 10
	ctxVSSetShader            = 11
	ctxDraw                   = 13
	ctxMap                    = 14
	ctxUnmap                  = 15
	ctxIASetInputLayout       = 17
	ctxIASetPrimitiveTopology = 24
	ctxOMSetRenderTargets     = 33
	ctxOMSetBlendState        = 35
	ctxRSSetViewports         = 44
	ctxCopyResource           = 47
	ctxUpdateSubresource      = 48
	ctxFlush                  = 111
)

// IDXGISwapChain, ID3D11Texture2D, IDXGIResource and ID3DBlob indices.
const (
	scGetDevice = 7
	// SwapChainPresent is the slot the overlay hooks.
	SwapChainPresent = 8
	scGetBuffer      = 9
	scGetDesc        = 12

	texGetDesc = 10

	resGetSharedHandle = 8

	blobGetBufferPointer = 3
	blobGetBufferSize    = 4
)

// texture2DDesc matches D3D11_TEXTURE2D_DESC (44 bytes).
type texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// subresourceData matches D3D11_SUBRESOURCE_DATA.
type subresourceData struct {
	SysMem           uintptr
	SysMemPitch      uint32
	SysMemSlicePitch uint32
}

// mappedSubresource matches D3D11_MAPPED_SUBRESOURCE.
type mappedSubresource struct {
	Data       uintptr
	RowPitch   uint32
	DepthPitch uint32
}

// renderTargetBlendDesc matches D3D11_RENDER_TARGET_BLEND_DESC (32 bytes).
type renderTargetBlendDesc struct {
	BlendEnable           int32
	SrcBlend              uint32
	DestBlend             uint32
	BlendOp               uint32
	SrcBlendAlpha         uint32
	DestBlendAlpha        uint32
	BlendOpAlpha          uint32
	RenderTargetWriteMask uint8
	_                     [3]byte
}

// blendDesc matches D3D11_BLEND_DESC.
type blendDesc struct {
	AlphaToCoverageEnable  int32
	IndependentBlendEnable int32
	RenderTarget           [8]renderTargetBlendDesc
}

// samplerDesc matches D3D11_SAMPLER_DESC.
type samplerDesc struct {
	Filter         uint32
	AddressU       uint32
	AddressV       uint32
	AddressW       uint32
	MipLODBias     float32
	MaxAnisotropy  uint32
	ComparisonFunc uint32
	BorderColor    [4]float32
	MinLOD         float32
	MaxLOD         float32
}

// Viewport matches D3D11_VIEWPORT.
type Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

type rational struct {
	Numerator   uint32
	Denominator uint32
}

// modeDesc matches DXGI_MODE_DESC.
type modeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      rational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

// swapChainDesc matches DXGI_SWAP_CHAIN_DESC.
type swapChainDesc struct {
	BufferDesc    modeDesc
	SampleCount   uint32
	SampleQuality uint32
	BufferUsage   uint32
	BufferCount   uint32
	OutputWindow  uintptr
	Windowed      int32
	SwapEffect    uint32
	Flags         uint32
}
