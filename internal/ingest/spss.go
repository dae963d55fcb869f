package ingest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"text/tabwriter"
)

// SPSS .sav record type codes.
const (
	savRecordVariable    = 2
	savRecordValueLabels = 3
	savRecordVarIndexes  = 4
	savRecordDocuments   = 6
	savRecordExtension   = 7
	savRecordTerminator  = 999
)

type savVariable struct {
	name  string
	width int32 // 0 = numeric, >0 = string width
}

// renderSPSS decodes the dictionary of an SPSS system file and renders a
// variable summary. Case data stays undecoded; the dictionary carries
// everything the conversation needs to talk about the dataset.
func renderSPSS(data []byte) (string, error) {
	r := &savReader{data: data}

	magic := r.bytes(4)
	if r.err != nil {
		return "", fmt.Errorf("invalid SPSS file: %w", r.err)
	}
	if string(magic) != "$FL2" && string(magic) != "$FL3" {
		return "", fmt.Errorf("invalid SPSS file: missing $FL2 signature")
	}

	r.skip(60) // product name

	// The layout code doubles as the endianness probe.
	layoutBytes := r.bytes(4)
	if r.err != nil {
		return "", fmt.Errorf("invalid SPSS file: %w", r.err)
	}
	r.order = binary.LittleEndian
	if layout := int32(r.order.Uint32(layoutBytes)); layout != 2 && layout != 3 {
		r.order = binary.BigEndian
		if layout := int32(r.order.Uint32(layoutBytes)); layout != 2 && layout != 3 {
			return "", fmt.Errorf("invalid SPSS file: unrecognized layout code")
		}
	}

	r.skip(4) // nominal case size
	r.skip(4) // compression
	r.skip(4) // weight index
	caseCount := r.int32()
	r.skip(8)  // compression bias
	r.skip(17) // creation date and time
	r.skip(64) // file label
	r.skip(3)  // padding

	var variables []savVariable
	for r.err == nil {
		switch recType := r.int32(); recType {
		case savRecordVariable:
			if v, ok := r.variableRecord(); ok {
				variables = append(variables, v)
			}
		case savRecordValueLabels:
			r.skipValueLabels()
		case savRecordVarIndexes:
			count := r.int32()
			r.skip(int(count) * 4)
		case savRecordDocuments:
			lines := r.int32()
			r.skip(int(lines) * 80)
		case savRecordExtension:
			r.skip(4) // subtype
			size := r.int32()
			count := r.int32()
			r.skip(int(size) * int(count))
		case savRecordTerminator:
			r.skip(4)
			return formatSPSS(variables, caseCount)
		default:
			r.err = fmt.Errorf("unrecognized record type %d", recType)
		}
	}
	return "", fmt.Errorf("invalid SPSS file: %w", r.err)
}

func formatSPSS(variables []savVariable, caseCount int32) (string, error) {
	if len(variables) == 0 {
		return "", fmt.Errorf("invalid SPSS file: no variables in dictionary")
	}

	var buf bytes.Buffer
	cases := "unknown"
	if caseCount >= 0 {
		cases = fmt.Sprintf("%d", caseCount)
	}
	fmt.Fprintf(&buf, "SPSS dataset: %d variables, %s cases\n", len(variables), cases)

	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "variable\ttype")
	for _, v := range variables {
		kind := "numeric"
		if v.width > 0 {
			kind = fmt.Sprintf("string(%d)", v.width)
		}
		fmt.Fprintf(tw, "%s\t%s\n", v.name, kind)
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// savReader is a cursor over the file with sticky error handling, in the
// style of a binary scanner: the first failure wins and every later read
// becomes a no-op.
type savReader struct {
	data  []byte
	pos   int
	order binary.ByteOrder
	err   error
}

func (r *savReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("file truncated at byte %d", r.pos)
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *savReader) skip(n int) {
	r.bytes(n)
}

func (r *savReader) int32() int32 {
	b := r.bytes(4)
	if r.err != nil {
		return 0
	}
	return int32(r.order.Uint32(b))
}

// variableRecord decodes one type-2 record. Continuation records for
// long strings (width -1) are consumed but not reported as variables.
func (r *savReader) variableRecord() (savVariable, bool) {
	width := r.int32()
	hasLabel := r.int32()
	missing := r.int32()
	r.skip(8) // print and write formats
	nameBytes := r.bytes(8)

	if hasLabel == 1 {
		labelLen := r.int32()
		// Labels are stored padded to a multiple of 4 bytes.
		r.skip((int(labelLen) + 3) / 4 * 4)
	}
	if missing != 0 {
		n := int(missing)
		if n < 0 {
			n = -n
		}
		r.skip(n * 8)
	}

	if r.err != nil || width < 0 {
		return savVariable{}, false
	}
	name := strings.TrimRight(string(nameBytes), " \x00")
	if name == "" {
		return savVariable{}, false
	}
	return savVariable{name: name, width: width}, true
}

func (r *savReader) skipValueLabels() {
	count := r.int32()
	for i := int32(0); i < count && r.err == nil; i++ {
		r.skip(8) // value
		lenByte := r.bytes(1)
		if r.err != nil {
			return
		}
		labelLen := int(lenByte[0])
		// Value plus length byte plus label is padded to 8 bytes.
		r.skip((labelLen+1+7)/8*8 - 1)
	}
}
