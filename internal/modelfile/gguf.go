package modelfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"
)

var ggufMagic = []byte("GGUF")

// HasGGUFMagic reports whether the file starts with the GGUF magic bytes.
func HasGGUFMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	buf := make([]byte, len(ggufMagic))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false, nil
	}
	return bytes.Equal(buf, ggufMagic), nil
}

// GGUFInfo summarises a parsed GGUF model.
type GGUFInfo struct {
	Architecture  string
	FileType      string
	Parameters    string
	Size          string
	ContextLength int
}

// GGUF wraps a parsed file for metadata and memory estimation.
type GGUF struct {
	file *parser.GGUFFile
}

// OpenGGUF parses the header and tensor infos of a GGUF file.
func OpenGGUF(path string) (*GGUF, error) {
	gf, err := parser.ParseGGUFFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing gguf(%s): %w", path, err)
	}
	return &GGUF{file: gf}, nil
}

// Info returns the model metadata.
func (g *GGUF) Info() GGUFInfo {
	md := g.file.Metadata()
	return GGUFInfo{
		Architecture:  strings.TrimSpace(md.Architecture),
		FileType:      strings.TrimSpace(md.FileType.String()),
		Parameters:    strings.TrimSpace(md.Parameters.String()),
		Size:          strings.TrimSpace(md.Size.String()),
		ContextLength: int(g.file.Architecture().MaximumContextLength),
	}
}

// Estimate returns the RAM and VRAM needed to run the model with llama.cpp
// at the given context size and offloaded layer count.
func (g *GGUF) Estimate(contextSize int, offloadLayers uint64) (ram, vram uint64) {
	est := g.file.EstimateLLaMACppRun(
		parser.WithLLaMACppContextSize(int32(contextSize)),
		parser.WithLLaMACppLogicalBatchSize(2048),
		parser.WithLLaMACppOffloadLayers(offloadLayers),
	)
	if len(est.Devices) == 0 {
		return 0, 0
	}
	ram = uint64(est.Devices[0].Weight.Sum() + est.Devices[0].KVCache.Sum() + est.Devices[0].Computation.Sum())
	if len(est.Devices) > 1 {
		vram = uint64(est.Devices[1].Weight.Sum() + est.Devices[1].KVCache.Sum() + est.Devices[1].Computation.Sum())
	}
	return ram, vram
}
