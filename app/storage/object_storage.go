package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartmeet/app/config"
	"smartmeet/app/logger"

	"github.com/golang-jwt/jwt/v5"
	"resty.dev/v3"
)

// ObjectClaims 签名下载链接的 JWT 声明
type ObjectClaims struct {
	Key string `json:"key"` // 对象存储中的文件键
	jwt.RegisteredClaims
}

// ObjectStorage 对象存储网关客户端：按键下载与签发签名链接
type ObjectStorage struct {
	http *resty.Client
	cfg  config.StorageConfig
	log  *logger.Logger
}

// NewObjectStorage 创建对象存储客户端
func NewObjectStorage(cfg config.StorageConfig, log *logger.Logger) *ObjectStorage {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)

	return &ObjectStorage{
		http: client,
		cfg:  cfg,
		log:  log,
	}
}

// SignedURL 签发带过期时间的下载链接，供网关校验
func (s *ObjectStorage) SignedURL(key string, ttl time.Duration) (string, error) {
	claims := ObjectClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "smartmeet-pipeline",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.SigningSecret))
	if err != nil {
		return "", fmt.Errorf("签发下载链接失败: %w", err)
	}

	return fmt.Sprintf("%s/objects/%s?token=%s", s.cfg.BaseURL, key, signed), nil
}

// ParseSignedToken 校验签名令牌并返回其指向的文件键
func (s *ObjectStorage) ParseSignedToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ObjectClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.SigningSecret), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*ObjectClaims)
	if !ok || !token.Valid {
		return "", errors.New("签名令牌无效")
	}
	return claims.Key, nil
}

// Download 按键下载源文件
func (s *ObjectStorage) Download(ctx context.Context, key string) ([]byte, error) {
	url, err := s.SignedURL(key, s.cfg.SignedURLTTL)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.R().
		SetContext(ctx).
		Get(url)

	if err != nil {
		return nil, fmt.Errorf("下载源文件失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("下载源文件失败，状态码: %d, key: %s", resp.StatusCode(), key)
	}

	return resp.Bytes(), nil
}
