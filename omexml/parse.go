package omexml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ome2zarr/bridge/internal/errs"
)

// IsOmeXML recognizes whether text begins (after optional whitespace) with
// either an XML processing instruction or an OME element, optionally
// namespace-prefixed.
func IsOmeXML(text []byte) bool {
	s := bytes.TrimLeft(text, " \t\r\n\xef\xbb\xbf")
	if bytes.HasPrefix(s, []byte("\xef\xbb\xbf")) {
		s = s[3:]
	}
	if bytes.HasPrefix(s, []byte("<?xml")) {
		return true
	}
	if len(s) == 0 || s[0] != '<' {
		return false
	}
	s = s[1:]
	// Skip an optional "prefix:" namespace qualifier.
	if i := bytes.IndexByte(s, ':'); i >= 0 && i < bytes.IndexAny(s, " \t\r\n/>") {
		s = s[i+1:]
	}
	return bytes.HasPrefix(s, []byte("OME"))
}

// Parse extracts Image/Pixels/Channel/TiffData from OME-XML text using a
// tolerant streaming scan: unrecognized elements are ignored rather than
// rejected. Fails InvalidXml on malformed markup and
// InvalidDimensionOrder on an out-of-set DimensionOrder value.
func Parse(text []byte) (*Document, error) {
	if !IsOmeXML(text) {
		return nil, errs.New(errs.InvalidXml, "input does not begin with an XML declaration or OME element")
	}

	dec := xml.NewDecoder(bytes.NewReader(text))

	doc := &Document{}

	var path []string
	var currentImage *OmeImage
	var pixelsCaptured bool
	var capturingPixels bool
	var currentTD *TiffDataEntry
	var capturingUUID bool
	var uuidBuf strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.InvalidXml, err, "tokenizing OME-XML")
		}

		switch e := tok.(type) {
		case xml.StartElement:
			path = append(path, e.Name.Local)
			switch {
			case len(path) == 1 && path[0] == "OME":
				if uuid, ok := attr(e, "UUID"); ok {
					doc.RootUUID = uuid
				}
			case len(path) == 2 && path[0] == "OME" && path[1] == "Image":
				currentImage = &OmeImage{}
				if id, ok := attr(e, "ID"); ok {
					currentImage.ID = id
				}
				if name, ok := attr(e, "Name"); ok {
					currentImage.Name = name
				}
				pixelsCaptured = false
			case len(path) == 3 && path[1] == "Image" && path[2] == "Pixels" && currentImage != nil:
				if !pixelsCaptured {
					pixels, perr := parsePixelsAttrs(e)
					if perr != nil {
						return nil, perr
					}
					currentImage.Pixels = pixels
					pixelsCaptured = true
					capturingPixels = true
				} else {
					capturingPixels = false
				}
			case len(path) == 4 && path[2] == "Pixels" && path[3] == "Channel" && capturingPixels:
				ch := parseChannelAttrs(e, len(currentImage.Pixels.Channels))
				currentImage.Pixels.Channels = append(currentImage.Pixels.Channels, ch)
			case len(path) == 4 && path[2] == "Pixels" && path[3] == "TiffData" && capturingPixels:
				td := parseTiffDataAttrs(e)
				currentTD = &td
			case len(path) == 5 && path[3] == "TiffData" && path[4] == "UUID" && currentTD != nil:
				if fn, ok := attr(e, "FileName"); ok {
					currentTD.FileName = fn
				}
				capturingUUID = true
				uuidBuf.Reset()
			}

		case xml.CharData:
			if capturingUUID {
				uuidBuf.Write(e)
			}

		case xml.EndElement:
			if len(path) == 0 {
				break
			}
			last := path[len(path)-1]
			switch {
			case last == "UUID" && capturingUUID && currentTD != nil:
				currentTD.UUID = strings.TrimSpace(uuidBuf.String())
				capturingUUID = false
			case last == "TiffData" && len(path) == 4 && currentTD != nil:
				currentImage.Pixels.TiffData = append(currentImage.Pixels.TiffData, *currentTD)
				currentTD = nil
			case last == "Pixels" && len(path) == 3:
				capturingPixels = false
				if currentImage != nil && len(currentImage.Pixels.Channels) == 0 {
					currentImage.Pixels.Channels = synthesizeChannels(currentImage.Pixels.SizeC)
				}
			case last == "Image" && len(path) == 2:
				if pixelsCaptured {
					doc.Images = append(doc.Images, *currentImage)
				}
				currentImage = nil
				pixelsCaptured = false
			}
			path = path[:len(path)-1]
		}
	}

	return doc, nil
}

func attr(e xml.StartElement, name string) (string, bool) {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func attrInt(e xml.StartElement, name string, def int) (int, error) {
	v, ok := attr(e, name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errs.Wrap(errs.InvalidXml, err, "attribute %s=%q is not an integer", name, v)
	}
	return n, nil
}

func attrFloat(e xml.StartElement, name string) (float64, bool, error) {
	v, ok := attr(e, name)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false, errs.Wrap(errs.InvalidXml, err, "attribute %s=%q is not a float", name, v)
	}
	return f, true, nil
}

func parsePixelsAttrs(e xml.StartElement) (OmePixels, error) {
	var p OmePixels

	sizeX, ok := attr(e, "SizeX")
	if !ok {
		return p, errs.New(errs.InvalidXml, "Pixels element missing required SizeX")
	}
	sizeY, ok := attr(e, "SizeY")
	if !ok {
		return p, errs.New(errs.InvalidXml, "Pixels element missing required SizeY")
	}
	var err error
	if p.SizeX, err = strconv.Atoi(strings.TrimSpace(sizeX)); err != nil {
		return p, errs.Wrap(errs.InvalidXml, err, "SizeX=%q is not an integer", sizeX)
	}
	if p.SizeY, err = strconv.Atoi(strings.TrimSpace(sizeY)); err != nil {
		return p, errs.Wrap(errs.InvalidXml, err, "SizeY=%q is not an integer", sizeY)
	}
	if p.SizeZ, err = attrInt(e, "SizeZ", 1); err != nil {
		return p, err
	}
	if p.SizeC, err = attrInt(e, "SizeC", 1); err != nil {
		return p, err
	}
	if p.SizeT, err = attrInt(e, "SizeT", 1); err != nil {
		return p, err
	}

	order, ok := attr(e, "DimensionOrder")
	if !ok {
		order = string(XYZCT)
	}
	p.DimensionOrder = DimensionOrder(order)
	if !p.DimensionOrder.Valid() {
		return p, errs.New(errs.InvalidDimensionOrder, "unsupported DimensionOrder %q", order)
	}

	p.Type, ok = attr(e, "Type")
	if !ok {
		p.Type = "uint16"
	}

	if v, ok, ferr := attrFloat(e, "PhysicalSizeX"); ferr != nil {
		return p, ferr
	} else if ok {
		p.PhysicalSizeX, p.PhysicalSizeXSet = v, true
	}
	if v, ok, ferr := attrFloat(e, "PhysicalSizeY"); ferr != nil {
		return p, ferr
	} else if ok {
		p.PhysicalSizeY, p.PhysicalSizeYSet = v, true
	}
	if v, ok, ferr := attrFloat(e, "PhysicalSizeZ"); ferr != nil {
		return p, ferr
	} else if ok {
		p.PhysicalSizeZ, p.PhysicalSizeZSet = v, true
	}

	p.PhysicalSizeXUnit = unitOrDefault(e, "PhysicalSizeXUnit")
	p.PhysicalSizeYUnit = unitOrDefault(e, "PhysicalSizeYUnit")
	p.PhysicalSizeZUnit = unitOrDefault(e, "PhysicalSizeZUnit")

	if v, ok := attr(e, "BigEndian"); ok {
		p.BigEndian = v == "true"
	}
	if v, ok := attr(e, "Interleaved"); ok {
		p.Interleaved = v == "true"
	}

	return p, nil
}

func unitOrDefault(e xml.StartElement, name string) string {
	if v, ok := attr(e, name); ok {
		return v
	}
	return "µm"
}

func parseChannelAttrs(e xml.StartElement, index int) OmeChannel {
	var ch OmeChannel
	ch.ID, _ = attr(e, "ID")
	if ch.ID == "" {
		ch.ID = fmt.Sprintf("Channel:0:%d", index)
	}
	ch.Name, _ = attr(e, "Name")
	ch.SamplesPerPixel = 1
	if v, ok := attr(e, "SamplesPerPixel"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			ch.SamplesPerPixel = n
		}
	}
	if v, ok := attr(e, "Color"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c := int32(n)
			ch.Color = &c
		}
	}
	return ch
}

func parseTiffDataAttrs(e xml.StartElement) TiffDataEntry {
	var td TiffDataEntry
	td.FirstC, _ = attrInt(e, "FirstC", 0)
	td.FirstZ, _ = attrInt(e, "FirstZ", 0)
	td.FirstT, _ = attrInt(e, "FirstT", 0)
	td.IFD, _ = attrInt(e, "IFD", 0)
	td.PlaneCount, _ = attrInt(e, "PlaneCount", 1)
	return td
}

func synthesizeChannels(sizeC int) []OmeChannel {
	if sizeC < 1 {
		sizeC = 1
	}
	out := make([]OmeChannel, sizeC)
	for i := range out {
		out[i] = OmeChannel{ID: fmt.Sprintf("Channel:0:%d", i), SamplesPerPixel: 1}
	}
	return out
}
