package workload

import (
	"fmt"
	"strings"
)

// EncodeC renders the workload as a standalone C program that replays the
// same system calls against a directory given as argv[1]. Reports ship the
// program so a bug can be reproduced without the fuzzer.
func (w Workload) EncodeC() string {
	var b strings.Builder
	b.WriteString(`#include <fcntl.h>
#include <stdint.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#include <sys/stat.h>
#include <sys/types.h>
#include <unistd.h>

static char path_buf[4096];
static char path_buf2[4096];
static char data_buf[1 << 20];

static const char *at(const char *base, const char *rel) {
	snprintf(path_buf, sizeof(path_buf), "%s%s", base, rel);
	return path_buf;
}

static const char *at2(const char *base, const char *rel) {
	snprintf(path_buf2, sizeof(path_buf2), "%s%s", base, rel);
	return path_buf2;
}

int main(int argc, char **argv) {
	if (argc != 2) {
		fprintf(stderr, "usage: %s <dir>\n", argv[0]);
		return 2;
	}
	const char *base = argv[1];
	for (size_t i = 0; i < sizeof(data_buf); i++)
		data_buf[i] = (char)(i % 256);
	int ret;
	(void)ret;
`)
	for i, op := range w.Ops {
		fmt.Fprintf(&b, "\t/* %d: %s */\n", i, op)
		switch op.Kind {
		case KindCreate:
			fmt.Fprintf(&b, "\tret = close(open(at(base, %q), O_CREAT | O_EXCL | O_WRONLY, 0644));\n", op.Path)
		case KindMkDir:
			fmt.Fprintf(&b, "\tret = mkdir(at(base, %q), 0755);\n", op.Path)
		case KindRemove:
			fmt.Fprintf(&b, "\tret = remove(at(base, %q));\n", op.Path)
		case KindHardlink:
			fmt.Fprintf(&b, "\tret = link(at(base, %q), at2(base, %q));\n", op.Path, op.NewPath)
		case KindRename:
			fmt.Fprintf(&b, "\tret = rename(at(base, %q), at2(base, %q));\n", op.Path, op.NewPath)
		case KindOpen:
			fmt.Fprintf(&b, "\tint fd%d = open(at(base, %q), O_RDWR);\n", op.Fd, op.Path)
		case KindClose:
			fmt.Fprintf(&b, "\tret = close(fd%d);\n", op.Fd)
		case KindWrite:
			fmt.Fprintf(&b, "\tret = write(fd%d, data_buf + %d, %d);\n", op.Fd, op.SrcOffset, op.Size)
		case KindRead:
			fmt.Fprintf(&b, "\t{ char *rb = malloc(%d); ret = read(fd%d, rb, %d); free(rb); }\n", op.Size, op.Fd, op.Size)
		case KindFSync:
			fmt.Fprintf(&b, "\tret = fsync(fd%d);\n", op.Fd)
		}
	}
	b.WriteString("\treturn 0;\n}\n")
	return b.String()
}
