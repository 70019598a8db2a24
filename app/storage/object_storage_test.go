package storage

import (
	"strings"
	"testing"
	"time"

	"smartmeet/app/config"
	"smartmeet/app/logger"
)

func newTestStorage() *ObjectStorage {
	cfg := config.StorageConfig{
		BaseURL:       "http://storage.internal",
		SigningSecret: "test-secret",
		SignedURLTTL:  15 * time.Minute,
		Timeout:       5 * time.Second,
	}
	return NewObjectStorage(cfg, logger.New(config.LogConfig{Level: "error", Output: "stdout"}))
}

func TestSignedURLRoundTrip(t *testing.T) {
	s := newTestStorage()

	url, err := s.SignedURL("recordings/2026/standup.m4a", 10*time.Minute)
	if err != nil {
		t.Fatalf("签发链接失败: %v", err)
	}
	if !strings.HasPrefix(url, "http://storage.internal/objects/recordings/2026/standup.m4a?token=") {
		t.Fatalf("链接格式错误: %s", url)
	}

	token := url[strings.Index(url, "token=")+len("token="):]
	key, err := s.ParseSignedToken(token)
	if err != nil {
		t.Fatalf("校验令牌失败: %v", err)
	}
	if key != "recordings/2026/standup.m4a" {
		t.Errorf("令牌中的文件键不一致: %s", key)
	}
}

func TestSignedTokenRejectsWrongSecret(t *testing.T) {
	s := newTestStorage()
	url, _ := s.SignedURL("a.m4a", time.Minute)
	token := url[strings.Index(url, "token=")+len("token="):]

	other := NewObjectStorage(config.StorageConfig{
		BaseURL:       "http://storage.internal",
		SigningSecret: "different-secret",
	}, logger.New(config.LogConfig{Level: "error", Output: "stdout"}))

	if _, err := other.ParseSignedToken(token); err == nil {
		t.Error("不同密钥签发的令牌应校验失败")
	}
}

func TestSignedTokenExpiry(t *testing.T) {
	s := newTestStorage()
	url, _ := s.SignedURL("a.m4a", -time.Minute)
	token := url[strings.Index(url, "token=")+len("token="):]

	if _, err := s.ParseSignedToken(token); err == nil {
		t.Error("已过期的令牌应校验失败")
	}
}
