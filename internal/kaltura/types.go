package kaltura

import "github.com/zoharbabin/video-exploratorium/internal/transcript"

// Session session.get 返回的会话信息
type Session struct {
	PartnerID  int64
	UserID     string
	Expiry     int64
	Privileges string
}

// CaptionAsset 字幕资源
type CaptionAsset struct {
	ID        string `json:"id"`
	EntryID   string `json:"entry_id"`
	Label     string `json:"label"`
	Language  string `json:"language"`
	CreatedAt int64  `json:"created_at"`
}

// VideoInfo 搜索结果中的视频元数据
type VideoInfo struct {
	EntryID      string `json:"entry_id"`
	Name         string `json:"entry_name"`
	Description  string `json:"entry_description"`
	MediaType    int    `json:"entry_media_type"`
	MediaDate    int64  `json:"entry_media_date"`
	MsDuration   int64  `json:"entry_ms_duration"`
	LastPlayedAt int64  `json:"entry_last_played_at"`
	Application  string `json:"entry_application"`
	CreatorID    string `json:"entry_creator_id"`
	Tags         string `json:"entry_tags"`
	ReferenceID  string `json:"entry_reference_id"`
}

// SearchQuery 视频搜索条件
type SearchQuery struct {
	CategoryIDs string
	FreeText    string
	PageSize    int
}

type transcriptDocument struct {
	Objects []transcript.Entry `json:"objects"`
}
