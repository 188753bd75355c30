package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ome2zarr/bridge/dtype"
	"github.com/ome2zarr/bridge/multiscale"
	"github.com/ome2zarr/bridge/omewrite"
	"github.com/ome2zarr/bridge/omexml"
	"github.com/ome2zarr/bridge/tifffile"
)

// NewToTiffCmd builds "to-tiff <in-dir> <out.ome.tiff>", the reverse
// direction of to-zarr: reads a Zarr v3 directory store's JSON documents
// and chunks and drives the write orchestrator to reassemble an OME-TIFF.
func NewToTiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "to-tiff <in-dir> <out.ome.tiff>",
		Short: "Reassemble a Zarr v3 directory store as an OME-TIFF",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToTiff(cmd.Context(), args[0], args[1])
		},
	}
}

type zarrAxisDoc struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit"`
}

type zarrDatasetDoc struct {
	Path string `json:"path"`
}

type zarrRootDoc struct {
	Attributes struct {
		Ome struct {
			Multiscales []struct {
				Name     string           `json:"name"`
				Axes     []zarrAxisDoc    `json:"axes"`
				Datasets []zarrDatasetDoc `json:"datasets"`
			} `json:"multiscales"`
		} `json:"ome"`
	} `json:"attributes"`
}

type zarrArrayDoc struct {
	Shape          []int  `json:"shape"`
	DataType       string `json:"data_type"`
	DimensionNames []string `json:"dimension_names"`
	ChunkGrid      struct {
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
}

func runToTiff(ctx context.Context, inDir, outPath string) error {
	rootBytes, err := os.ReadFile(filepath.Join(inDir, "zarr.json"))
	if err != nil {
		return fmt.Errorf("read root document: %w", err)
	}
	var root zarrRootDoc
	if err := json.Unmarshal(rootBytes, &root); err != nil {
		return fmt.Errorf("decode root document: %w", err)
	}
	if len(root.Attributes.Ome.Multiscales) == 0 {
		return fmt.Errorf("%s: root document has no multiscales entry", inDir)
	}
	ms := root.Attributes.Ome.Multiscales[0]
	if len(ms.Datasets) == 0 {
		return fmt.Errorf("%s: multiscale has no datasets", inDir)
	}

	axes := make([]multiscale.Axis, len(ms.Axes))
	for i, a := range ms.Axes {
		axes[i] = multiscale.Axis{Name: a.Name, Kind: multiscale.AxisKind(a.Type), Unit: a.Unit}
	}

	levels := make([]multiscale.MultiscaleImage, len(ms.Datasets))
	var elementType dtype.ArrayDType
	for i, dataset := range ms.Datasets {
		arrayBytes, err := os.ReadFile(filepath.Join(inDir, filepath.FromSlash(dataset.Path), "zarr.json"))
		if err != nil {
			return fmt.Errorf("read level %s document: %w", dataset.Path, err)
		}
		var arr zarrArrayDoc
		if err := json.Unmarshal(arrayBytes, &arr); err != nil {
			return fmt.Errorf("decode level %s document: %w", dataset.Path, err)
		}
		dt, err := dtype.ArrayDtypeFromZarr(arr.DataType)
		if err != nil {
			return err
		}
		elementType = dt

		level := i
		levels[i] = multiscale.MultiscaleImage{
			DimensionNames: arr.DimensionNames,
			Shape:          arr.Shape,
			Dtype:          dt,
			Reader:         chunkPlaneReader(inDir, level, arr),
		}
	}

	name := ms.Name
	if name == "" {
		name = strippedBase(outPath)
	}
	full := &multiscale.Multiscale{Name: name, Axes: axes, Levels: levels}

	buf, err := omewrite.Write(ctx, full, omexml.XYCZT, name, omewrite.Options{Format: tifffile.FormatAuto})
	if err != nil {
		return fmt.Errorf("write OME-TIFF: %w", err)
	}
	if err := os.WriteFile(outPath, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	slog.Info("wrote ome-tiff", "out", outPath, "levels", len(levels), "element_type", elementType.String())
	return nil
}

// chunkPlaneReader returns a PlaneReader that reassembles one (c, z, t)
// plane of level from its constituent chunk files, cropping each chunk's
// constant, zero-padded size back down to the array's true edge extent.
func chunkPlaneReader(inDir string, level int, arr zarrArrayDoc) multiscale.PlaneReader {
	dims := arr.DimensionNames
	shape := arr.Shape
	chunkShape := arr.ChunkGrid.Configuration.ChunkShape

	xPos, yPos := -1, -1
	for i, d := range dims {
		switch d {
		case "x":
			xPos = i
		case "y":
			yPos = i
		}
	}

	return func(ctx context.Context, reqLevel, c, z, t int) ([]byte, error) {
		dt, err := dtype.ArrayDtypeFromZarr(arr.DataType)
		if err != nil {
			return nil, err
		}
		bpe, err := dtype.BytesPerElement(dt)
		if err != nil {
			return nil, err
		}

		width, height := shape[xPos], shape[yPos]
		chunkW, chunkH := chunkShape[xPos], chunkShape[yPos]
		numChunksX := (width + chunkW - 1) / chunkW
		numChunksY := (height + chunkH - 1) / chunkH

		out := make([]byte, width*height*bpe)
		indices := make([]int, len(dims))
		for i, d := range dims {
			switch d {
			case "c":
				indices[i] = c
			case "z":
				indices[i] = z
			case "t":
				indices[i] = t
			}
		}

		for cy := 0; cy < numChunksY; cy++ {
			for cx := 0; cx < numChunksX; cx++ {
				indices[xPos] = cx
				indices[yPos] = cy
				chunk, err := readChunkFile(inDir, level, indices, chunkW*chunkH*bpe)
				if err != nil {
					return nil, err
				}

				left, top := cx*chunkW, cy*chunkH
				visibleW := min(chunkW, width-left)
				visibleH := min(chunkH, height-top)
				for r := 0; r < visibleH; r++ {
					srcOff := r * chunkW * bpe
					dstOff := (top+r)*width*bpe + left*bpe
					copy(out[dstOff:dstOff+visibleW*bpe], chunk[srcOff:srcOff+visibleW*bpe])
				}
			}
		}
		return out, nil
	}
}

func readChunkFile(inDir string, level int, indices []int, wantLen int) ([]byte, error) {
	parts := make([]string, len(indices))
	for i, v := range indices {
		parts[i] = strconv.Itoa(v)
	}
	path := filepath.Join(inDir, strconv.Itoa(level), "c", filepath.FromSlash(strings.Join(parts, "/")))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]byte, wantLen), nil
		}
		return nil, fmt.Errorf("read chunk %s: %w", path, err)
	}
	return data, nil
}
