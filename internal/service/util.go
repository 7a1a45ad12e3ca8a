package service

import (
	"bytes"
	"io"
	"path"
	"strings"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// safeName 去掉目录与空白，空文件名用 file 代替
func safeName(name string) string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return strings.ReplaceAll(name, " ", "_")
}
