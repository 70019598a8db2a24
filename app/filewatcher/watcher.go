package filewatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"smartmeet/app/config"
	"smartmeet/app/logger"
	"smartmeet/app/model"
	"smartmeet/app/service"

	"github.com/fsnotify/fsnotify"
	"gorm.io/gorm"
)

// 支持的上传文件扩展名与内容类型的映射
var extContentTypes = map[string]string{
	".mp3":  model.ContentTypeAudio,
	".m4a":  model.ContentTypeAudio,
	".wav":  model.ContentTypeAudio,
	".mp4":  model.ContentTypeVideo,
	".mov":  model.ContentTypeVideo,
	".pdf":  model.ContentTypeDocument,
	".docx": model.ContentTypeDocument,
	".txt":  model.ContentTypeText,
	".md":   model.ContentTypeText,
}

// settleDelay 等待文件写入稳定的时间
const settleDelay = 2 * time.Second

// InboxWatcher 监控本地收件目录，新放入的录音文件自动建档并进入处理流水线。
// 文件名约定为 {userID}_{标题}.{扩展名}，不符合约定的文件跳过。
type InboxWatcher struct {
	db        *gorm.DB
	ingestSvc *service.IngestService
	cfg       config.WatcherConfig
	log       *logger.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer // 等待写入稳定的文件
}

// NewInboxWatcher 创建收件目录监控器，未启用时返回 nil
func NewInboxWatcher(db *gorm.DB, ingestSvc *service.IngestService, cfg config.WatcherConfig, log *logger.Logger) (*InboxWatcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if err := os.MkdirAll(cfg.InboxDir, 0755); err != nil {
		return nil, fmt.Errorf("创建收件目录失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &InboxWatcher{
		db:        db,
		ingestSvc: ingestSvc,
		cfg:       cfg,
		log:       log,
		watcher:   watcher,
		stopCh:    make(chan struct{}),
		pending:   make(map[string]*time.Timer),
	}, nil
}

// Start 启动监控
func (w *InboxWatcher) Start() error {
	if w == nil {
		return nil
	}

	if err := w.watcher.Add(w.cfg.InboxDir); err != nil {
		return fmt.Errorf("监控收件目录失败: %w", err)
	}

	w.wg.Add(1)
	go w.run()

	w.log.Infof("收件目录监控已启动: %s", w.cfg.InboxDir)
	return nil
}

// Stop 停止监控
func (w *InboxWatcher) Stop() error {
	if w == nil {
		return nil
	}

	close(w.stopCh)
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.mu.Unlock()

	w.log.Info("收件目录监控已停止")
	return err
}

// run 事件循环
func (w *InboxWatcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.scheduleIngest(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("文件监控错误: %v", err)
		}
	}
}

// scheduleIngest 延迟建档，同一文件的连续写入事件只触发一次
func (w *InboxWatcher) scheduleIngest(path string) {
	if _, ok := extContentTypes[strings.ToLower(filepath.Ext(path))]; !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingestFile(path)
	})
}

// ingestFile 为收件文件建档并送入流水线
func (w *InboxWatcher) ingestFile(path string) {
	name := filepath.Base(path)
	contentType := extContentTypes[strings.ToLower(filepath.Ext(name))]

	// 解析文件名中的用户ID前缀
	parts := strings.SplitN(strings.TrimSuffix(name, filepath.Ext(name)), "_", 2)
	if len(parts) != 2 {
		w.log.Warnf("收件文件名不符合 {userID}_{标题} 约定，跳过: %s", name)
		return
	}
	userID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		w.log.Warnf("收件文件名中的用户ID无效，跳过: %s", name)
		return
	}

	meeting := &model.Meeting{
		UserID:      uint(userID),
		Title:       parts[1],
		StorageKey:  "inbox/" + name,
		ContentType: contentType,
	}
	if err := w.db.Create(meeting).Error; err != nil {
		w.log.Errorf("收件文件建档失败: %s, 错误: %v", name, err)
		return
	}

	if err := w.ingestSvc.EnqueueMeeting(meeting.ID); err != nil {
		w.log.Errorf("收件文件入队失败: MeetingID=%d, 错误: %v", meeting.ID, err)
		return
	}

	w.log.Infof("收件文件已进入处理流水线: %s, MeetingID=%d", name, meeting.ID)
}
