package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/zoharbabin/video-exploratorium/internal/kaltura"
	"github.com/zoharbabin/video-exploratorium/internal/logger"
	"github.com/zoharbabin/video-exploratorium/internal/transcript"
)

// kalturaAPI 字幕相关的 Kaltura 接口（便于测试注入 mock）
type kalturaAPI interface {
	ListCaptions(ctx context.Context, ks, entryID string) ([]kaltura.CaptionAsset, error)
	FetchTranscript(ctx context.Context, ks, captionAssetID string) ([]transcript.Entry, error)
}

// TranscriptModel 带内存缓存的字幕读取，缓存键包含会话的摘要，不同会话互不共享
type TranscriptModel struct {
	client kalturaAPI
	cache  *cache.Cache
	ttl    time.Duration
}

// NewTranscriptModel ttl 为 0 时不缓存。过期条目由 Purge 清理。
func NewTranscriptModel(client kalturaAPI, ttl time.Duration) *TranscriptModel {
	return &TranscriptModel{
		client: client,
		cache:  cache.New(ttl, 0),
		ttl:    ttl,
	}
}

// Captions 返回视频的英文字幕，最新的在前
func (m *TranscriptModel) Captions(ctx context.Context, token, videoID string) ([]kaltura.CaptionAsset, error) {
	key := cacheKey("captions", token, videoID)
	if v, ok := m.lookup(key); ok {
		return v.([]kaltura.CaptionAsset), nil
	}

	captions, err := m.client.ListCaptions(ctx, token, videoID)
	if err != nil {
		return nil, err
	}
	if len(captions) > 0 {
		m.store(key, captions)
	}
	return captions, nil
}

// Transcript 返回字幕的全部条目
func (m *TranscriptModel) Transcript(ctx context.Context, token, captionAssetID string) ([]transcript.Entry, error) {
	key := cacheKey("transcript", token, captionAssetID)
	if v, ok := m.lookup(key); ok {
		return v.([]transcript.Entry), nil
	}

	entries, err := m.client.FetchTranscript(ctx, token, captionAssetID)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		m.store(key, entries)
	}
	return entries, nil
}

// Purge 删除过期条目，返回删除的数量
func (m *TranscriptModel) Purge() int {
	before := m.cache.ItemCount()
	m.cache.DeleteExpired()
	removed := before - m.cache.ItemCount()
	if removed > 0 {
		logger.Debugf("[TranscriptModel] 清理过期缓存 %d 条", removed)
	}
	return removed
}

// Len 缓存条目数（可能包含尚未清理的过期条目）
func (m *TranscriptModel) Len() int {
	return m.cache.ItemCount()
}

func (m *TranscriptModel) lookup(key string) (any, bool) {
	if m.ttl <= 0 {
		return nil, false
	}
	return m.cache.Get(key)
}

func (m *TranscriptModel) store(key string, v any) {
	if m.ttl <= 0 {
		return
	}
	m.cache.Set(key, v, m.ttl)
}

func cacheKey(kind, token, id string) string {
	sum := sha256.Sum256([]byte(token))
	return kind + "|" + hex.EncodeToString(sum[:8]) + "|" + id
}
