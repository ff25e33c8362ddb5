// Package trace defines the per-run execution record the harness produces
// and the row-by-row comparison the differential oracle is built on.
package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// FileName is the canonical trace file name inside a run directory.
const FileName = "trace.csv"

// Errno is a failed operation's error, numeric plus symbolic. The zero
// value means no error.
type Errno struct {
	Name string
	Code int
}

func (e Errno) IsZero() bool { return e.Code == 0 && e.Name == "" }

func (e Errno) String() string {
	if e.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s(%d)", e.Name, e.Code)
}

// parseErrno parses the "NAME(code)" form produced by String.
func parseErrno(s string) (Errno, error) {
	if s == "" {
		return Errno{}, nil
	}
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return Errno{}, fmt.Errorf("malformed errno %q", s)
	}
	code, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil {
		return Errno{}, fmt.Errorf("malformed errno %q: %w", s, err)
	}
	return Errno{Name: s[:open], Code: code}, nil
}

// Row records one executed operation. Ret is the raw return value of the
// underlying call; negative means failure and Errno says why. Extra
// carries a content hash for successful READs and is empty otherwise.
type Row struct {
	Index   int
	Command string
	Ret     int64
	Errno   Errno
	Extra   string
}

// Failed reports whether the operation failed on the target.
func (r Row) Failed() bool { return r.Ret < 0 }

// Trace is the ordered execution record of one workload on one target.
type Trace struct {
	Rows []Row
}

var header = []string{"Index", "Command", "ReturnCode", "Errno", "Extra"}

// Encode writes the trace as CSV with a header row.
func (t Trace) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range t.Rows {
		rec := []string{
			strconv.Itoa(r.Index),
			r.Command,
			strconv.FormatInt(r.Ret, 10),
			r.Errno.String(),
			r.Extra,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Parse reads a trace written by Encode.
func Parse(r io.Reader) (Trace, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	records, err := cr.ReadAll()
	if err != nil {
		return Trace{}, fmt.Errorf("parse trace: %w", err)
	}
	if len(records) == 0 {
		return Trace{}, fmt.Errorf("parse trace: missing header")
	}
	var t Trace
	for i, rec := range records[1:] {
		idx, err := strconv.Atoi(rec[0])
		if err != nil {
			return Trace{}, fmt.Errorf("trace row %d: bad index %q", i, rec[0])
		}
		ret, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return Trace{}, fmt.Errorf("trace row %d: bad return code %q", i, rec[2])
		}
		errno, err := parseErrno(rec[3])
		if err != nil {
			return Trace{}, fmt.Errorf("trace row %d: %w", i, err)
		}
		t.Rows = append(t.Rows, Row{
			Index:   idx,
			Command: rec[1],
			Ret:     ret,
			Errno:   errno,
			Extra:   rec[4],
		})
	}
	return t, nil
}

// Save writes the trace to path.
func (t Trace) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save trace: %w", err)
	}
	defer f.Close()
	if err := t.Encode(f); err != nil {
		return fmt.Errorf("save trace %s: %w", path, err)
	}
	return f.Close()
}

// Load reads a trace file from path.
func Load(path string) (Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return Trace{}, fmt.Errorf("load trace: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// HasErrors reports whether any operation failed. A divergence where both
// traces carry errors usually points at the workload model, not the
// targets, and is reported separately.
func (t Trace) HasErrors() bool {
	for _, r := range t.Rows {
		if r.Failed() {
			return true
		}
	}
	return false
}

// Mismatch describes the first row where two traces disagree.
type Mismatch struct {
	Index     int
	First     Row
	Second    Row
	Truncated bool
}

// Diff compares two traces of the same workload row by row. Rows agree
// when they fall in the same success/failure class, failures carry the
// same errno code, and successful READs returned identical content
// hashes. It returns nil when the traces agree in full.
func Diff(a, b Trace) *Mismatch {
	n := min(len(a.Rows), len(b.Rows))
	for i := 0; i < n; i++ {
		ra, rb := a.Rows[i], b.Rows[i]
		if ra.Failed() != rb.Failed() {
			return &Mismatch{Index: i, First: ra, Second: rb}
		}
		if ra.Failed() && ra.Errno.Code != rb.Errno.Code {
			return &Mismatch{Index: i, First: ra, Second: rb}
		}
		if !ra.Failed() && ra.Extra != rb.Extra {
			return &Mismatch{Index: i, First: ra, Second: rb}
		}
	}
	if len(a.Rows) != len(b.Rows) {
		var ra, rb Row
		if n < len(a.Rows) {
			ra = a.Rows[n]
		}
		if n < len(b.Rows) {
			rb = b.Rows[n]
		}
		return &Mismatch{Index: n, First: ra, Second: rb, Truncated: true}
	}
	return nil
}
