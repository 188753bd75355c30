// Package zarrkey implements component G: the Zarr-Key Facade that turns
// Zarr v3 store keys into either synthesized metadata documents or decoded,
// zero-padded pixel chunks, backed by the tifffile reader (component E) and
// the plane/IFD indexer (component F).
package zarrkey

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	jsoniter "github.com/json-iterator/go"

	"github.com/ome2zarr/bridge/dtype"
	"github.com/ome2zarr/bridge/internal/errs"
	"github.com/ome2zarr/bridge/multiscale"
	"github.com/ome2zarr/bridge/omexml"
	"github.com/ome2zarr/bridge/pyramid"
	"github.com/ome2zarr/bridge/tifffile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const docCacheSize = 64

// dimInfo is one emitted axis: either a fixed-size non-spatial axis (t, c,
// z, omitted entirely when its size is 1) or one of the two always-present
// spatial axes (y, x).
type dimInfo struct {
	name         string
	kind         multiscale.AxisKind
	unit         string
	size         int // meaningful for non-spatial axes only
	physicalSize *float64
}

// Facade answers Zarr v3 store reads for one opened, indexed OME-TIFF.
type Facade struct {
	file  *tifffile.TiffFile
	idx   *pyramid.Index
	dims  []dimInfo

	widths, heights []int // per level, widths[0]/heights[0] is level 0
	tileW, tileH    int
	elementType     dtype.ArrayDType
	bytesPerElement int

	display  *multiscale.DisplayHints
	name     string
	docCache *lru.Cache
}

// Build constructs a Facade over an already-opened file and an already-built
// pyramid index. display may be nil when no omero-style hints apply.
func Build(ctx context.Context, file *tifffile.TiffFile, idx *pyramid.Index, name string, display *multiscale.DisplayHints) (*Facade, error) {
	cache, err := lru.New(docCacheSize)
	if err != nil {
		return nil, errs.Wrap(errs.BadOffset, err, "allocate zarr document cache")
	}

	levels := idx.Levels()
	widths := make([]int, levels)
	heights := make([]int, levels)
	var level0Geom *tifffile.Geometry
	for level := 0; level < levels; level++ {
		ifd, err := idx.Resolve(ctx, multiscale.PlaneSelection{}, level)
		if err != nil {
			return nil, err
		}
		g, err := ifd.Geometry()
		if err != nil {
			return nil, err
		}
		widths[level], heights[level] = g.Width, g.Height
		if level == 0 {
			level0Geom = g
		}
	}

	elementType, err := dtype.TiffToArrayDtype(dtype.RasterSampleFormat(level0Geom.SampleFormat), level0Geom.BitsPerSample)
	if err != nil {
		return nil, err
	}
	bpe, err := dtype.BytesPerElement(elementType)
	if err != nil {
		return nil, err
	}

	return &Facade{
		file: file, idx: idx, dims: buildDims(idx.Pixels),
		widths: widths, heights: heights,
		tileW: level0Geom.TileWidth, tileH: level0Geom.TileLength,
		elementType: elementType, bytesPerElement: bpe,
		display: display, name: name, docCache: cache,
	}, nil
}

func buildDims(p omexml.OmePixels) []dimInfo {
	var dims []dimInfo
	if p.SizeT > 1 {
		dims = append(dims, dimInfo{name: "t", kind: multiscale.KindTime, size: p.SizeT})
	}
	if p.SizeC > 1 {
		dims = append(dims, dimInfo{name: "c", kind: multiscale.KindChannel, size: p.SizeC})
	}
	if p.SizeZ > 1 {
		dims = append(dims, dimInfo{name: "z", kind: multiscale.KindSpace, unit: p.PhysicalSizeZUnit, size: p.SizeZ, physicalSize: optionalFloat(p.PhysicalSizeZSet, p.PhysicalSizeZ)})
	}
	dims = append(dims, dimInfo{name: "y", kind: multiscale.KindSpace, unit: p.PhysicalSizeYUnit, physicalSize: optionalFloat(p.PhysicalSizeYSet, p.PhysicalSizeY)})
	dims = append(dims, dimInfo{name: "x", kind: multiscale.KindSpace, unit: p.PhysicalSizeXUnit, physicalSize: optionalFloat(p.PhysicalSizeXSet, p.PhysicalSizeX)})
	return dims
}

func optionalFloat(set bool, v float64) *float64 {
	if !set {
		return nil
	}
	return &v
}

// keyKind classifies a parsed store key.
type keyKind int

const (
	keyRoot keyKind = iota
	keyLevelMeta
	keyChunk
)

type parsedKey struct {
	kind    keyKind
	level   int
	indices []int
}

// parseStoreKey recognizes "zarr.json", "{level}/zarr.json", and
// "{level}/c/{i0}/.../{in-1}", with or without a leading slash. Anything
// else, including non-numeric levels or chunk indices, fails to parse.
func parseStoreKey(key string) (parsedKey, bool) {
	key = strings.TrimPrefix(key, "/")
	if key == "zarr.json" {
		return parsedKey{kind: keyRoot}, true
	}
	parts := strings.Split(key, "/")
	if len(parts) < 2 {
		return parsedKey{}, false
	}
	level, err := strconv.Atoi(parts[0])
	if err != nil || level < 0 {
		return parsedKey{}, false
	}
	if len(parts) == 2 && parts[1] == "zarr.json" {
		return parsedKey{kind: keyLevelMeta, level: level}, true
	}
	if len(parts) >= 3 && parts[1] == "c" {
		indices := make([]int, 0, len(parts)-2)
		for _, p := range parts[2:] {
			v, err := strconv.Atoi(p)
			if err != nil || v < 0 {
				return parsedKey{}, false
			}
			indices = append(indices, v)
		}
		return parsedKey{kind: keyChunk, level: level, indices: indices}, true
	}
	return parsedKey{}, false
}

// Get resolves key against the store. found is false when key is
// malformed or names a level that does not exist; in that case err is
// always nil, matching the "not found" contract a Zarr store implements.
func (f *Facade) Get(ctx context.Context, key string) (data []byte, found bool, err error) {
	pk, ok := parseStoreKey(key)
	if !ok {
		return nil, false, nil
	}
	switch pk.kind {
	case keyRoot:
		data, err := f.cachedDoc("zarr.json", f.rootDocument)
		return data, true, err
	case keyLevelMeta:
		if pk.level >= len(f.widths) {
			return nil, false, nil
		}
		data, err := f.cachedDoc(fmt.Sprintf("%d/zarr.json", pk.level), func() ([]byte, error) {
			return f.levelDocument(pk.level)
		})
		return data, true, err
	case keyChunk:
		if pk.level >= len(f.widths) || len(pk.indices) != len(f.dims) {
			return nil, false, nil
		}
		data, err := f.readChunk(ctx, pk.level, pk.indices)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	default:
		return nil, false, nil
	}
}

// Levels returns the number of pyramid levels this facade exposes.
func (f *Facade) Levels() int {
	return len(f.widths)
}

// ChunkKeys enumerates every chunk key a fully-materialized store would
// carry for level, in row-major index order.
func (f *Facade) ChunkKeys(level int) []string {
	shape := f.shapeAt(level)
	chunkShape := f.chunkShapeAt(level)
	counts := make([]int, len(shape))
	for i := range shape {
		counts[i] = (shape[i] + chunkShape[i] - 1) / chunkShape[i]
	}

	var keys []string
	idx := make([]int, len(shape))
	var build func(d int)
	build = func(d int) {
		if d == len(shape) {
			parts := make([]string, len(idx))
			for i, v := range idx {
				parts[i] = strconv.Itoa(v)
			}
			keys = append(keys, fmt.Sprintf("%d/c/%s", level, strings.Join(parts, "/")))
			return
		}
		for i := 0; i < counts[d]; i++ {
			idx[d] = i
			build(d + 1)
		}
	}
	build(0)
	return keys
}

func (f *Facade) cachedDoc(key string, build func() ([]byte, error)) ([]byte, error) {
	if v, ok := f.docCache.Get(key); ok {
		return v.([]byte), nil
	}
	data, err := build()
	if err != nil {
		return nil, err
	}
	f.docCache.Add(key, data)
	return data, nil
}

// readChunk maps a chunk's per-dimension indices onto a plane selection
// plus a pixel window, and decodes it with zero-padding for out-of-image
// regions.
func (f *Facade) readChunk(ctx context.Context, level int, indices []int) ([]byte, error) {
	sel := multiscale.PlaneSelection{}
	var xIdx, yIdx int
	for i, d := range f.dims {
		v := indices[i]
		switch {
		case d.name == "x":
			xIdx = v
		case d.name == "y":
			yIdx = v
		case d.kind == multiscale.KindChannel:
			sel.C = v
		case d.kind == multiscale.KindTime:
			sel.T = v
		default: // z
			sel.Z = v
		}
	}

	ifd, err := f.idx.Resolve(ctx, sel, level)
	if err != nil {
		return nil, err
	}
	geom, err := ifd.Geometry()
	if err != nil {
		return nil, err
	}

	chunkW := min(f.tileW, f.widths[level])
	chunkH := min(f.tileH, f.heights[level])
	left := xIdx * f.tileW
	top := yIdx * f.tileH
	win := tifffile.Window{Left: left, Top: top, Right: left + chunkW, Bottom: top + chunkH}
	return f.file.ReadWindow(ctx, geom, win)
}

// --- document shapes ---

type rootDocument struct {
	ZarrFormat int       `json:"zarr_format"`
	NodeType   string    `json:"node_type"`
	Attributes rootAttrs `json:"attributes"`
}

type rootAttrs struct {
	Ome omeAttrs `json:"ome"`
}

type omeAttrs struct {
	Version     string          `json:"version"`
	Multiscales []omeMultiscale `json:"multiscales"`
	Omero       *omeroAttrs     `json:"omero,omitempty"`
}

type axisDoc struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
}

type scaleDoc struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

type datasetDoc struct {
	Path                      string     `json:"path"`
	CoordinateTransformations []scaleDoc `json:"coordinateTransformations"`
}

type omeMultiscale struct {
	Name     string       `json:"name,omitempty"`
	Axes     []axisDoc    `json:"axes"`
	Datasets []datasetDoc `json:"datasets"`
}

type omeroAttrs struct {
	Channels []omeroChannel `json:"channels"`
}

type omeroChannel struct {
	Label  string     `json:"label,omitempty"`
	Color  string     `json:"color,omitempty"`
	Window *windowDoc `json:"window,omitempty"`
}

type windowDoc struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (f *Facade) rootDocument() ([]byte, error) {
	axes := make([]axisDoc, len(f.dims))
	for i, d := range f.dims {
		axes[i] = axisDoc{Name: d.name, Type: string(d.kind), Unit: d.unit}
	}
	datasets := make([]datasetDoc, len(f.widths))
	for level := range f.widths {
		datasets[level] = datasetDoc{
			Path:                      strconv.Itoa(level),
			CoordinateTransformations: []scaleDoc{{Type: "scale", Scale: f.scaleAt(level)}},
		}
	}
	doc := rootDocument{
		ZarrFormat: 3,
		NodeType:   "group",
		Attributes: rootAttrs{Ome: omeAttrs{
			Version:     "0.5",
			Multiscales: []omeMultiscale{{Name: f.name, Axes: axes, Datasets: datasets}},
			Omero:       f.omeroAttrs(),
		}},
	}
	return json.Marshal(doc)
}

// scaleAt computes the per-axis coordinate-transformation scale at level:
// the axis's physical size (default 1.0) times the level's downsample
// factor for x and y, 1.0 downsample for every other axis.
func (f *Facade) scaleAt(level int) []float64 {
	downX := float64(f.widths[0]) / float64(f.widths[level])
	downY := float64(f.heights[0]) / float64(f.heights[level])
	scale := make([]float64, len(f.dims))
	for i, d := range f.dims {
		phys := 1.0
		if d.physicalSize != nil {
			phys = *d.physicalSize
		}
		switch d.name {
		case "x":
			scale[i] = phys * downX
		case "y":
			scale[i] = phys * downY
		default:
			scale[i] = phys
		}
	}
	return scale
}

func (f *Facade) omeroAttrs() *omeroAttrs {
	if f.display == nil || len(f.display.Channels) == 0 {
		return nil
	}
	channels := make([]omeroChannel, len(f.display.Channels))
	for i, ch := range f.display.Channels {
		oc := omeroChannel{
			Label: ch.Label,
			Window: &windowDoc{Min: ch.Window.Min, Max: ch.Window.Max, Start: ch.Window.Start, End: ch.Window.End},
		}
		if ch.Color != nil {
			oc.Color = fmt.Sprintf("%08X", uint32(*ch.Color))
		}
		channels[i] = oc
	}
	return &omeroAttrs{Channels: channels}
}

type arrayDocument struct {
	ZarrFormat       int              `json:"zarr_format"`
	NodeType         string           `json:"node_type"`
	Shape            []int            `json:"shape"`
	DataType         string           `json:"data_type"`
	ChunkGrid        chunkGridDoc     `json:"chunk_grid"`
	ChunkKeyEncoding chunkKeyDoc      `json:"chunk_key_encoding"`
	FillValue        int              `json:"fill_value"`
	Codecs           []codecDoc       `json:"codecs"`
	DimensionNames   []string         `json:"dimension_names"`
}

type chunkGridDoc struct {
	Name          string             `json:"name"`
	Configuration chunkGridConfigDoc `json:"configuration"`
}

type chunkGridConfigDoc struct {
	ChunkShape []int `json:"chunk_shape"`
}

type chunkKeyDoc struct {
	Name          string            `json:"name"`
	Configuration chunkKeyConfigDoc `json:"configuration"`
}

type chunkKeyConfigDoc struct {
	Separator string `json:"separator"`
}

type codecDoc struct {
	Name          string         `json:"name"`
	Configuration codecConfigDoc `json:"configuration"`
}

type codecConfigDoc struct {
	Endian string `json:"endian"`
}

func (f *Facade) levelDocument(level int) ([]byte, error) {
	zarrType, err := dtype.ZarrDataType(f.elementType)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(f.dims))
	for i, d := range f.dims {
		names[i] = d.name
	}
	doc := arrayDocument{
		ZarrFormat:       3,
		NodeType:         "array",
		Shape:            f.shapeAt(level),
		DataType:         zarrType,
		ChunkGrid:        chunkGridDoc{Name: "regular", Configuration: chunkGridConfigDoc{ChunkShape: f.chunkShapeAt(level)}},
		ChunkKeyEncoding: chunkKeyDoc{Name: "default", Configuration: chunkKeyConfigDoc{Separator: "/"}},
		FillValue:        0,
		Codecs:           []codecDoc{{Name: "bytes", Configuration: codecConfigDoc{Endian: "little"}}},
		DimensionNames:   names,
	}
	return json.Marshal(doc)
}

func (f *Facade) shapeAt(level int) []int {
	shape := make([]int, len(f.dims))
	for i, d := range f.dims {
		switch d.name {
		case "x":
			shape[i] = f.widths[level]
		case "y":
			shape[i] = f.heights[level]
		default:
			shape[i] = d.size
		}
	}
	return shape
}

func (f *Facade) chunkShapeAt(level int) []int {
	shape := make([]int, len(f.dims))
	for i, d := range f.dims {
		switch d.name {
		case "x":
			shape[i] = min(f.tileW, f.widths[level])
		case "y":
			shape[i] = min(f.tileH, f.heights[level])
		default:
			shape[i] = 1
		}
	}
	return shape
}
