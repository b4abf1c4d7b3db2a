// Package migrations 内嵌数据库结构迁移脚本，由 goose 执行。
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql mysql/*.sql
var scripts embed.FS

// goose 的 BaseFS 和方言是包级全局状态
var gooseMu sync.Mutex

// Dialect 返回数据库类型对应的 goose 方言
func Dialect(dbType string) (string, error) {
	switch dbType {
	case "postgres":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", dbType)
	}
}

// Files 返回指定数据库类型的迁移脚本
func Files(dbType string) (fs.FS, error) {
	dialect, err := Dialect(dbType)
	if err != nil {
		return nil, err
	}
	return fs.Sub(scripts, dialect)
}

// Up 执行全部未应用的迁移
func Up(ctx context.Context, db *sql.DB, dbType string) error {
	return run(dbType, func() error {
		return goose.UpContext(ctx, db, ".")
	})
}

// Down 回滚最近一次迁移
func Down(ctx context.Context, db *sql.DB, dbType string) error {
	return run(dbType, func() error {
		return goose.DownContext(ctx, db, ".")
	})
}

// Status 打印迁移状态
func Status(ctx context.Context, db *sql.DB, dbType string) error {
	return run(dbType, func() error {
		return goose.StatusContext(ctx, db, ".")
	})
}

// Version 返回当前数据库版本
func Version(ctx context.Context, db *sql.DB, dbType string) (int64, error) {
	var version int64
	err := run(dbType, func() error {
		var err error
		version, err = goose.GetDBVersionContext(ctx, db)
		return err
	})
	return version, err
}

func run(dbType string, fn func() error) error {
	files, err := Files(dbType)
	if err != nil {
		return err
	}
	dialect, _ := Dialect(dbType)

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(files)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("goose %s: %w", dialect, err)
	}
	return nil
}
