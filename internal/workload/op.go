package workload

import "fmt"

// Kind identifies one of the ten filesystem operations the fuzzer can issue.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindMkDir
	KindRemove
	KindHardlink
	KindRename
	KindOpen
	KindClose
	KindWrite
	KindRead
	KindFSync
)

var kindNames = [...]string{
	KindCreate:   "CREATE",
	KindMkDir:    "MKDIR",
	KindRemove:   "REMOVE",
	KindHardlink: "HARDLINK",
	KindRename:   "RENAME",
	KindOpen:     "OPEN",
	KindClose:    "CLOSE",
	KindWrite:    "WRITE",
	KindRead:     "READ",
	KindFSync:    "FSYNC",
}

// Kinds lists every operation kind in declaration order.
var Kinds = []Kind{KindCreate, KindMkDir, KindRemove, KindHardlink, KindRename, KindOpen, KindClose, KindWrite, KindRead, KindFSync}

func (k Kind) String() string {
	if int(k) > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// ParseKind maps an operation name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so kinds serialize by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(data []byte) error {
	parsed, err := ParseKind(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Fd is a symbolic descriptor reference. It names the n-th descriptor
// allocated while replaying the workload from the start, never a raw OS
// file descriptor. Mutations that add or drop an OPEN renumber these
// references during replay.
type Fd int

// Op is one operation in a workload. Which fields are meaningful depends
// on Kind: path operations use Path (and NewPath for HARDLINK/RENAME),
// descriptor operations use Fd, and WRITE/READ carry Size (WRITE also
// SrcOffset, the offset into the deterministic source buffer).
type Op struct {
	Kind      Kind   `json:"kind" msgpack:"kind"`
	Path      string `json:"path,omitempty" msgpack:"path,omitempty"`
	NewPath   string `json:"new_path,omitempty" msgpack:"new_path,omitempty"`
	Fd        Fd     `json:"fd" msgpack:"fd"`
	Size      uint64 `json:"size,omitempty" msgpack:"size,omitempty"`
	SrcOffset uint64 `json:"src_offset,omitempty" msgpack:"src_offset,omitempty"`
}

// UsesFd reports whether the operation references a descriptor.
func (o Op) UsesFd() bool {
	switch o.Kind {
	case KindClose, KindWrite, KindRead, KindFSync:
		return true
	default:
		return false
	}
}

func (o Op) String() string {
	switch o.Kind {
	case KindCreate, KindMkDir, KindRemove:
		return fmt.Sprintf("%s %s", o.Kind, o.Path)
	case KindHardlink, KindRename:
		return fmt.Sprintf("%s %s -> %s", o.Kind, o.Path, o.NewPath)
	case KindOpen:
		return fmt.Sprintf("OPEN %s -> fd%d", o.Path, o.Fd)
	case KindClose, KindFSync:
		return fmt.Sprintf("%s fd%d", o.Kind, o.Fd)
	case KindWrite:
		return fmt.Sprintf("WRITE fd%d src=%d size=%d", o.Fd, o.SrcOffset, o.Size)
	case KindRead:
		return fmt.Sprintf("READ fd%d size=%d", o.Fd, o.Size)
	}
	return "UNKNOWN"
}
