package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听配置文件，文件变化时重新加载并回调 onChange
//
// 监听的是文件所在目录，编辑器先写临时文件再改名的保存方式也能触发。
// 重新加载失败时 onChange 收到错误，旧配置继续有效。Watch 阻塞直到 ctx 结束。
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			slog.Debug("config changed", "path", abs, "op", ev.Op.String())
			onChange(Load(abs))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			onChange(nil, fmt.Errorf("watch %s: %w", abs, err))
		}
	}
}
