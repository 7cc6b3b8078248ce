package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirSaver 把导出文件写到目录中
type DirSaver struct {
	Dir string
}

func NewDirSaver(dir string) *DirSaver {
	return &DirSaver{Dir: dir}
}

func (s *DirSaver) Save(ctx context.Context, data []byte, name, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, os.ModePerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.WriteFile(filepath.Join(s.Dir, filepath.Base(name)), data, 0o644)
}

// Path 文件保存后的完整路径
func (s *DirSaver) Path(name string) string {
	return filepath.Join(s.Dir, filepath.Base(name))
}
