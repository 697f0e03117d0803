// Package migrations 内嵌各数据库方言的 goose 迁移脚本。
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// FS 返回指定数据库类型的迁移目录及对应的 goose 方言
func FS(dbType string) (fs.FS, string, error) {
	switch strings.ToLower(dbType) {
	case "postgres", "postgresql":
		sub, err := fs.Sub(files, "postgres")
		return sub, "postgres", err
	case "mysql":
		sub, err := fs.Sub(files, "mysql")
		return sub, "mysql", err
	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", dbType)
	}
}
