package ingest

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Subset decoder for R's XDR serialization format (versions 2 and 3),
// covering the shapes produced by save()/saveRDS() on data frames of
// atomic vectors and factors. Anything else fails with a per-format
// error that the ingestor folds into text.

// SEXP type codes used by the decoder.
const (
	rSymSxp  = 1
	rListSxp = 2
	rCharSxp = 9
	rLglSxp  = 10
	rIntSxp  = 13
	rRealSxp = 14
	rStrSxp  = 16
	rVecSxp  = 19
	rExpSxp  = 20
	rRawSxp  = 24
	rNilSxp  = 254
	rRefSxp  = 255
)

type rSymbol string

type rPair struct {
	tag   string
	value rObject
}

type rObject struct {
	value any // nil, rSymbol, string, []string, []float64, []int32, []rObject, []rPair, []byte
	attrs map[string]rObject
}

// renderRData decompresses and decodes an R data file and renders every
// data frame it contains. An .rds stream holds one unnamed object; an
// .rdata workspace holds a named pairlist.
func renderRData(data []byte, isRDS bool) (string, error) {
	payload, err := maybeGunzip(data)
	if err != nil {
		return "", fmt.Errorf("invalid R data file: %w", err)
	}

	r := &rdataReader{data: payload}
	if !isRDS {
		header := r.bytes(5)
		if r.err != nil {
			return "", fmt.Errorf("invalid R data file: %w", r.err)
		}
		if string(header) != "RDX2\n" && string(header) != "RDX3\n" {
			return "", fmt.Errorf("invalid R data file: missing RDX signature")
		}
	}
	if err := r.streamHeader(); err != nil {
		return "", fmt.Errorf("invalid R data file: %w", err)
	}

	root := r.object()
	if r.err != nil {
		return "", fmt.Errorf("invalid R data file: %w", r.err)
	}

	var frames []rPair
	if isRDS {
		frames = []rPair{{tag: "(unnamed)", value: root}}
	} else if pairs, ok := root.value.([]rPair); ok {
		frames = pairs
	} else {
		return "", fmt.Errorf("invalid R data file: workspace is not a pairlist")
	}

	var out strings.Builder
	found := 0
	for _, pair := range frames {
		if !isDataFrame(pair.value) {
			continue
		}
		rendered, err := renderDataFrame(pair.value)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&out, "Dataframe: %s\n%s\n", pair.tag, rendered)
		found++
	}
	if found == 0 {
		return "", fmt.Errorf("no data frames found in R file")
	}
	return out.String(), nil
}

func maybeGunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func isDataFrame(obj rObject) bool {
	class, ok := obj.attrs["class"].value.([]string)
	if !ok {
		return false
	}
	for _, c := range class {
		if c == "data.frame" {
			return true
		}
	}
	return false
}

func renderDataFrame(obj rObject) (string, error) {
	columns, ok := obj.value.([]rObject)
	if !ok {
		return "", fmt.Errorf("data frame has no columns")
	}
	names, _ := obj.attrs["names"].value.([]string)
	if len(names) != len(columns) {
		return "", fmt.Errorf("data frame has %d columns but %d names", len(columns), len(names))
	}

	rendered := make([][]string, len(columns))
	rows := 0
	for i, col := range columns {
		cells, err := columnCells(col)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", names[i], err)
		}
		rendered[i] = cells
		if len(cells) > rows {
			rows = len(cells)
		}
	}

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(names, "\t"))
	for row := 0; row < rows; row++ {
		cells := make([]string, len(rendered))
		for i, col := range rendered {
			if row < len(col) {
				cells[i] = col[row]
			} else {
				cells[i] = "NA"
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// columnCells renders one column's values. Factors are resolved through
// their levels attribute.
func columnCells(col rObject) ([]string, error) {
	if levels, ok := col.attrs["levels"].value.([]string); ok {
		codes, ok := col.value.([]int32)
		if !ok {
			return nil, fmt.Errorf("factor column without integer codes")
		}
		cells := make([]string, len(codes))
		for i, code := range codes {
			if code < 1 || int(code) > len(levels) {
				cells[i] = "NA"
			} else {
				cells[i] = levels[code-1]
			}
		}
		return cells, nil
	}

	switch v := col.value.(type) {
	case []float64:
		cells := make([]string, len(v))
		for i, f := range v {
			if math.IsNaN(f) {
				cells[i] = "NA"
			} else {
				cells[i] = strconv.FormatFloat(f, 'g', -1, 64)
			}
		}
		return cells, nil
	case []int32:
		cells := make([]string, len(v))
		for i, n := range v {
			if n == math.MinInt32 { // R's integer NA
				cells[i] = "NA"
			} else {
				cells[i] = strconv.FormatInt(int64(n), 10)
			}
		}
		return cells, nil
	case []string:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", v)
	}
}

// rdataReader walks the XDR byte stream with sticky error handling.
type rdataReader struct {
	data []byte
	pos  int
	refs []rObject
	err  error
}

func (r *rdataReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("stream truncated at byte %d", r.pos)
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *rdataReader) int32() int32 {
	b := r.bytes(4)
	if r.err != nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *rdataReader) float64() float64 {
	b := r.bytes(8)
	if r.err != nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// streamHeader consumes the serialization format marker and versions.
func (r *rdataReader) streamHeader() error {
	format := r.bytes(2)
	if r.err != nil {
		return r.err
	}
	if string(format) != "X\n" {
		return fmt.Errorf("unsupported serialization format %q", string(format))
	}
	version := r.int32()
	r.int32() // writer version
	r.int32() // minimal reader version
	if version >= 3 {
		n := r.int32() // native encoding name
		r.bytes(int(n))
	}
	if r.err != nil {
		return r.err
	}
	if version != 2 && version != 3 {
		return fmt.Errorf("unsupported serialization version %d", version)
	}
	return nil
}

func (r *rdataReader) object() rObject {
	if r.err != nil {
		return rObject{}
	}

	flags := r.int32()
	sexpType := flags & 0xFF
	hasAttr := flags&0x200 != 0
	hasTag := flags&0x400 != 0

	switch sexpType {
	case rNilSxp:
		return rObject{}

	case rRefSxp:
		index := flags >> 8
		if index == 0 {
			index = r.int32()
		}
		if index < 1 || int(index) > len(r.refs) {
			r.err = fmt.Errorf("reference %d out of range", index)
			return rObject{}
		}
		return r.refs[index-1]

	case rSymSxp:
		name := r.object()
		text, _ := name.value.(string)
		obj := rObject{value: rSymbol(text)}
		r.refs = append(r.refs, obj)
		return obj

	case rCharSxp:
		n := r.int32()
		if n == -1 { // NA_character_
			return rObject{value: ""}
		}
		return rObject{value: string(r.bytes(int(n)))}

	case rListSxp:
		var pairs []rPair
		if hasAttr {
			r.object() // pairlist attributes, unused
		}
		var tag string
		if hasTag {
			if sym, ok := r.object().value.(rSymbol); ok {
				tag = string(sym)
			}
		}
		car := r.object()
		cdr := r.object()
		pairs = append(pairs, rPair{tag: tag, value: car})
		if rest, ok := cdr.value.([]rPair); ok {
			pairs = append(pairs, rest...)
		}
		return rObject{value: pairs}

	case rLglSxp, rIntSxp:
		n := r.int32()
		values := make([]int32, 0, n)
		for i := int32(0); i < n && r.err == nil; i++ {
			values = append(values, r.int32())
		}
		return r.withAttrs(rObject{value: values}, hasAttr)

	case rRealSxp:
		n := r.int32()
		values := make([]float64, 0, n)
		for i := int32(0); i < n && r.err == nil; i++ {
			values = append(values, r.float64())
		}
		return r.withAttrs(rObject{value: values}, hasAttr)

	case rStrSxp:
		n := r.int32()
		values := make([]string, 0, n)
		for i := int32(0); i < n && r.err == nil; i++ {
			text, _ := r.object().value.(string)
			values = append(values, text)
		}
		return r.withAttrs(rObject{value: values}, hasAttr)

	case rVecSxp, rExpSxp:
		n := r.int32()
		values := make([]rObject, 0, n)
		for i := int32(0); i < n && r.err == nil; i++ {
			values = append(values, r.object())
		}
		return r.withAttrs(rObject{value: values}, hasAttr)

	case rRawSxp:
		n := r.int32()
		return r.withAttrs(rObject{value: r.bytes(int(n))}, hasAttr)

	default:
		r.err = fmt.Errorf("unsupported R object type %d", sexpType)
		return rObject{}
	}
}

// withAttrs reads the trailing attribute pairlist of a vector object.
func (r *rdataReader) withAttrs(obj rObject, hasAttr bool) rObject {
	if !hasAttr || r.err != nil {
		return obj
	}
	attrs := r.object()
	pairs, ok := attrs.value.([]rPair)
	if !ok {
		return obj
	}
	obj.attrs = make(map[string]rObject, len(pairs))
	for _, p := range pairs {
		obj.attrs[p.tag] = p.value
	}
	return obj
}
