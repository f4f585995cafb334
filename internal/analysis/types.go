package analysis

import (
	"github.com/zoharbabin/video-exploratorium/internal/llm"
	"github.com/zoharbabin/video-exploratorium/internal/transcript"
)

// FailureKind 局部失败的类别
type FailureKind string

const (
	FailureTranscript     FailureKind = "transcript"
	FailureChunkAnalysis  FailureKind = "chunk_analysis"
	FailureNoChunkResults FailureKind = "no_chunk_results"
	FailureReduction      FailureKind = "reduction"
	FailureCrossVideo     FailureKind = "cross_video"
)

// Failure 一次不影响整体请求的局部失败，Err 仅用于服务端日志
type Failure struct {
	Kind       FailureKind `json:"kind"`
	VideoID    string      `json:"video_id,omitempty"`
	ChunkIndex int         `json:"chunk_index,omitempty"`
	Message    string      `json:"message"`
	Err        error       `json:"-"`
}

// ChunkProgress chunk_progress 阶段的数据
type ChunkProgress struct {
	VideoID      string            `json:"video_id"`
	ChunkSummary *llm.VideoSummary `json:"chunk_summary"`
	ChunkIndex   int               `json:"chunk_index"`
	TotalChunks  int               `json:"total_chunks"`
	TotalVideos  int               `json:"total_videos"`
}

// Report completed 阶段的数据
type Report struct {
	IndividualResults  []llm.VideoSummary           `json:"individual_results"`
	Transcripts        map[string][]transcript.Line `json:"transcripts"`
	CrossVideoInsights *llm.CrossVideoInsights      `json:"cross_video_insights,omitempty"`
	Failures           []Failure                    `json:"failures,omitempty"`
}
