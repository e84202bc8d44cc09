package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher 配置文件监控器
// 监控配置文件变化并将重新加载后的配置推送给订阅者。
// 仅可调参数（熔断阈值、限流窗口、对账间隔等）会热生效，
// 交易所凭证和协调存储地址的变更需要重启。
type ConfigWatcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	mu          sync.RWMutex
	isWatching  bool
	lastModTime time.Time
	updateChan  chan *Config
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	configDir := filepath.Dir(configPath)
	if configDir == "" || configDir == "." {
		configDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("获取当前目录失败: %w", err)
		}
		configPath = filepath.Join(configDir, filepath.Base(configPath))
	}

	var lastModTime time.Time
	if info, err := os.Stat(configPath); err == nil {
		lastModTime = info.ModTime()
	}

	return &ConfigWatcher{
		configPath:  configPath,
		watcher:     watcher,
		lastModTime: lastModTime,
		updateChan:  make(chan *Config, 1),
	}, nil
}

// Updates 返回配置更新通道
func (cw *ConfigWatcher) Updates() <-chan *Config {
	return cw.updateChan
}

// Start 启动监控
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.isWatching {
		cw.mu.Unlock()
		return nil
	}
	cw.isWatching = true
	cw.mu.Unlock()

	// 监控配置文件所在目录（编辑器保存通常是 rename + create）
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	go cw.loop(ctx)
	return nil
}

// loop 监控循环
func (cw *ConfigWatcher) loop(ctx context.Context) {
	// 去抖：编辑器保存会触发多个事件
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			cw.watcher.Close()
			return

		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(cw.configPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, cw.reload)

		case _, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload 重新加载配置并推送
func (cw *ConfigWatcher) reload() {
	info, err := os.Stat(cw.configPath)
	if err != nil {
		return
	}

	cw.mu.Lock()
	if !info.ModTime().After(cw.lastModTime) {
		cw.mu.Unlock()
		return
	}
	cw.lastModTime = info.ModTime()
	cw.mu.Unlock()

	cfg, err := Load(cw.configPath)
	if err != nil {
		// 配置文件写了一半或内容非法，保持旧配置继续运行
		return
	}

	select {
	case cw.updateChan <- cfg:
	default:
		// 上一次更新还未被消费，丢弃旧的
		<-cw.updateChan
		cw.updateChan <- cfg
	}
}
