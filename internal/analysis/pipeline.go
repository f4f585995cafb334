package analysis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zoharbabin/video-exploratorium/internal/kaltura"
	"github.com/zoharbabin/video-exploratorium/internal/llm"
	"github.com/zoharbabin/video-exploratorium/internal/logger"
	"github.com/zoharbabin/video-exploratorium/internal/progress"
	"github.com/zoharbabin/video-exploratorium/internal/transcript"
)

// ErrNoResults 所有选中的视频都没有产出结果
var ErrNoResults = errors.New("no analysis results found")

// TranscriptSource 获取字幕（便于测试注入 mock）
type TranscriptSource interface {
	Captions(ctx context.Context, token, videoID string) ([]kaltura.CaptionAsset, error)
	Transcript(ctx context.Context, token, captionAssetID string) ([]transcript.Entry, error)
}

// Analyst 结构化分析能力（便于测试注入 mock）
type Analyst interface {
	AnalyzeChunk(ctx context.Context, videoID string, segment transcript.Segment) (*llm.VideoSummary, error)
	CombineChunks(ctx context.Context, videoID string, chunks []llm.VideoSummary) (*llm.VideoSummary, error)
	CrossVideoInsights(ctx context.Context, summaries []string) (*llm.CrossVideoInsights, error)
}

// Emitter 进度事件出口
type Emitter interface {
	Emit(stage progress.Stage, data any)
}

type Pipeline struct {
	source      TranscriptSource
	analyst     Analyst
	segmenter   *transcript.Segmenter
	concurrency int
}

func NewPipeline(source TranscriptSource, analyst Analyst, segmenter *transcript.Segmenter, concurrency int) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		source:      source,
		analyst:     analyst,
		segmenter:   segmenter,
		concurrency: concurrency,
	}
}

// run 单次请求的状态
type run struct {
	token       string
	totalVideos int
	emitter     Emitter
	report      *Report

	mu sync.Mutex
}

func (r *run) fail(f Failure) {
	r.mu.Lock()
	r.report.Failures = append(r.report.Failures, f)
	r.mu.Unlock()
}

// AnalyzeVideos 依次分析每个视频，再生成跨视频分析，成功时推送 completed。
// 单个片段、视频或跨视频分析失败只记录在 Report.Failures 中；
// 所有视频都失败时返回 ErrNoResults，ctx 取消时返回 ctx.Err()。
func (p *Pipeline) AnalyzeVideos(ctx context.Context, token string, videoIDs []string, emitter Emitter) (*Report, error) {
	r := &run{
		token:       token,
		totalVideos: len(videoIDs),
		emitter:     emitter,
		report: &Report{
			IndividualResults: []llm.VideoSummary{},
			Transcripts:       make(map[string][]transcript.Line),
		},
	}

	logger.Infof("[Analysis] 开始分析 %d 个视频", len(videoIDs))
	for _, videoID := range videoIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		summary, err := p.analyzeVideo(ctx, r, videoID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		r.report.IndividualResults = append(r.report.IndividualResults, *summary)
	}

	if len(r.report.IndividualResults) == 0 {
		logger.Errorf("[Analysis] 没有任何分析结果, 失败 %d 项", len(r.report.Failures))
		return r.report, ErrNoResults
	}

	if len(videoIDs) > 1 {
		if err := p.crossVideo(ctx, r); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
		}
	}

	logger.Infof("[Analysis] 分析完成, 成功 %d 个视频, 失败 %d 项", len(r.report.IndividualResults), len(r.report.Failures))
	emitter.Emit(progress.StageCompleted, r.report)
	return r.report, nil
}

// analyzeVideo 处理单个视频：字幕 -> 切分 -> 片段分析 -> 合并
func (p *Pipeline) analyzeVideo(ctx context.Context, r *run, videoID string) (*llm.VideoSummary, error) {
	logger.Infof("[Analysis] 处理视频 %s", videoID)

	segments, err := p.segments(ctx, r, videoID)
	if err != nil {
		r.fail(Failure{Kind: FailureTranscript, VideoID: videoID, Message: "transcript unavailable", Err: err})
		logger.Errorf("[Analysis] 获取视频 %s 的字幕失败, %v", videoID, err)
		return nil, err
	}

	summaries := p.analyzeChunks(ctx, r, videoID, segments)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		r.fail(Failure{Kind: FailureNoChunkResults, VideoID: videoID, Message: "no chunk analysis results"})
		logger.Errorf("[Analysis] 视频 %s 没有任何片段分析结果", videoID)
		return nil, errors.New("no chunk results")
	}

	summary, err := p.reduce(ctx, r, videoID, summaries)
	if err != nil {
		r.fail(Failure{Kind: FailureReduction, VideoID: videoID, Message: "combining chunk analyses failed", Err: err})
		logger.Errorf("[Analysis] 合并视频 %s 的片段分析失败, %v", videoID, err)
		return nil, err
	}
	return summary, nil
}

// segments 取最新的英文字幕并切分，同时记录完整字幕供后续问答使用
func (p *Pipeline) segments(ctx context.Context, r *run, videoID string) ([]transcript.Segment, error) {
	captions, err := p.source.Captions(ctx, r.token, videoID)
	if err != nil {
		return nil, err
	}
	if len(captions) == 0 {
		return nil, fmt.Errorf("视频 %s 没有英文字幕", videoID)
	}

	caption := captions[0]
	logger.Infof("[Analysis] 视频 %s 使用字幕 %s", videoID, caption.ID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := p.source.Transcript(ctx, r.token, caption.ID)
	if err != nil {
		return nil, err
	}

	segments := p.segmenter.Split(entries)
	if len(segments) == 0 {
		return nil, fmt.Errorf("字幕 %s 没有内容", caption.ID)
	}
	r.report.Transcripts[videoID] = transcript.Sentences(entries)

	logger.Debugf("[Analysis] 视频 %s 切分为 %d 个片段", videoID, len(segments))
	return segments, nil
}

// analyzeChunks 分析所有片段，单个片段失败不影响其他片段，结果按片段顺序返回
func (p *Pipeline) analyzeChunks(ctx context.Context, r *run, videoID string, segments []transcript.Segment) []llm.VideoSummary {
	total := len(segments)
	results := make([]*llm.VideoSummary, total)

	r.mu.Lock()
	start := len(r.report.Failures)
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, segment := range segments {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			summary, err := p.analyst.AnalyzeChunk(ctx, videoID, segment)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Errorf("[Analysis] 视频 %s 片段 %d/%d 分析失败, %v", videoID, i+1, total, err)
				r.fail(Failure{
					Kind:       FailureChunkAnalysis,
					VideoID:    videoID,
					ChunkIndex: i + 1,
					Message:    "chunk analysis failed",
					Err:        err,
				})
				return nil
			}

			logger.Infof("[Analysis] 视频 %s 片段 %d/%d 分析完成", videoID, i+1, total)
			results[i] = summary
			r.emitter.Emit(progress.StageChunkProgress, ChunkProgress{
				VideoID:      videoID,
				ChunkSummary: summary,
				ChunkIndex:   i + 1,
				TotalChunks:  total,
				TotalVideos:  r.totalVideos,
			})
			return nil
		})
	}
	_ = g.Wait()

	// 并发时失败的记录顺序不确定
	r.mu.Lock()
	slices.SortFunc(r.report.Failures[start:], func(a, b Failure) int {
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})
	r.mu.Unlock()

	summaries := make([]llm.VideoSummary, 0, total)
	for _, summary := range results {
		if summary != nil {
			summaries = append(summaries, *summary)
		}
	}
	return summaries
}

// reduce 单个片段直接作为视频结果，多个片段交给模型合并
func (p *Pipeline) reduce(ctx context.Context, r *run, videoID string, chunks []llm.VideoSummary) (*llm.VideoSummary, error) {
	var summary *llm.VideoSummary
	if len(chunks) == 1 {
		logger.Infof("[Analysis] 视频 %s 只有一个片段，跳过合并", videoID)
		summary = &chunks[0]
	} else {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Infof("[Analysis] 合并视频 %s 的 %d 个片段分析", videoID, len(chunks))
		combined, err := p.analyst.CombineChunks(ctx, videoID, chunks)
		if err != nil {
			return nil, err
		}
		summary = combined
	}

	r.emitter.Emit(progress.StageCombinedSummary, summary)
	return summary, nil
}

// crossVideo 生成跨视频分析，失败时不写入结果
func (p *Pipeline) crossVideo(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullSummaries := make([]string, len(r.report.IndividualResults))
	for i, result := range r.report.IndividualResults {
		fullSummaries[i] = result.FullSummary
	}

	logger.Infof("[Analysis] 生成 %d 个视频的跨视频分析", len(fullSummaries))
	insights, err := p.analyst.CrossVideoInsights(ctx, fullSummaries)
	if err != nil {
		logger.Errorf("[Analysis] 跨视频分析失败, %v", err)
		r.fail(Failure{Kind: FailureCrossVideo, Message: "cross-video insights failed", Err: err})
		return err
	}

	r.report.CrossVideoInsights = insights
	r.emitter.Emit(progress.StageCrossVideoInsights, insights)
	return nil
}
