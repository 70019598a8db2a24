package service

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ViewCache 用户会议列表视图的进程内缓存。
// 处理完成或失败后必须失效对应用户的缓存，避免面板展示过期状态。
type ViewCache struct {
	cache *gocache.Cache
}

// NewViewCache 创建视图缓存
func NewViewCache() *ViewCache {
	return &ViewCache{
		cache: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

func meetingListKey(userID uint) string {
	return fmt.Sprintf("meetings:user:%d", userID)
}

// GetMeetingList 读取缓存的会议列表视图
func (c *ViewCache) GetMeetingList(userID uint) (interface{}, bool) {
	return c.cache.Get(meetingListKey(userID))
}

// SetMeetingList 写入会议列表视图
func (c *ViewCache) SetMeetingList(userID uint, view interface{}) {
	c.cache.Set(meetingListKey(userID), view, gocache.DefaultExpiration)
}

// InvalidateUser 使某个用户的所有视图缓存失效
func (c *ViewCache) InvalidateUser(userID uint) {
	c.cache.Delete(meetingListKey(userID))
}
