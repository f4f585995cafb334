package svc

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/zoharbabin/video-exploratorium/internal/analysis"
	"github.com/zoharbabin/video-exploratorium/internal/config"
	"github.com/zoharbabin/video-exploratorium/internal/kaltura"
	"github.com/zoharbabin/video-exploratorium/internal/llm"
	"github.com/zoharbabin/video-exploratorium/internal/logger"
	"github.com/zoharbabin/video-exploratorium/internal/model"
	"github.com/zoharbabin/video-exploratorium/internal/router"
	"github.com/zoharbabin/video-exploratorium/internal/scheduler"
	"github.com/zoharbabin/video-exploratorium/internal/transcript"
	"github.com/zoharbabin/video-exploratorium/internal/wsserver"
)

type ServiceContext struct {
	Config          *config.Config
	TransportProxy  *http.Transport
	KalturaClient   *kaltura.Client
	LLMClient       *llm.Client
	Segmenter       *transcript.Segmenter
	TranscriptModel *model.TranscriptModel
	Pipeline        *analysis.Pipeline
	Registry        *wsserver.Registry
	Router          *router.Router
	Server          *wsserver.Server
	Housekeeper     *scheduler.Housekeeper
}

func NewServiceContext(c *config.Config) (*ServiceContext, error) {
	// 创建SOCKS5代理
	var transportProxy *http.Transport
	if c.Sock5Proxy.Enable {
		socks5Proxy := fmt.Sprintf("%s:%d", c.Sock5Proxy.Host, c.Sock5Proxy.Port)
		dialer, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("创建SOCKS5代理失败, %w", err)
		}

		transportProxy = &http.Transport{
			Dial:            dialer.Dial,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
		logger.Infof("[Svc] 出站请求使用SOCKS5代理 %s", socks5Proxy)
	}

	// Kaltura 客户端
	kalturaHTTP := &http.Client{Timeout: time.Duration(c.Kaltura.TimeoutSeconds) * time.Second}
	if transportProxy != nil {
		kalturaHTTP.Transport = transportProxy
	}
	retrier := kaltura.NewRetrier(c.Kaltura.MaxRetries, c.Kaltura.RetryDelay(), c.Kaltura.Backoff, c.Kaltura.NonRetryable)
	kalturaClient := kaltura.NewClient(c.Kaltura.ServiceURL, kalturaHTTP, retrier)

	// LLM 客户端，超时由 LLM.TimeoutSeconds 在调用时控制
	var llmHTTP *http.Client
	if transportProxy != nil {
		llmHTTP = &http.Client{Transport: transportProxy}
	}
	llmClient := llm.NewClient(&c.LLM, llmHTTP)

	segmenter := transcript.NewSegmenter(c.Segmenter.MaxChars, c.Segmenter.Overlap)
	transcriptModel := model.NewTranscriptModel(kalturaClient, time.Duration(c.Cache.TranscriptTTL)*time.Second)
	pipeline := analysis.NewPipeline(transcriptModel, llmClient, segmenter, c.Analysis.ChunkConcurrency)

	registry := wsserver.NewRegistry(c.Server.WriteTimeout())
	r := router.New(router.Dependencies{
		Sender:    registry,
		Sessions:  kalturaClient,
		Videos:    kalturaClient,
		Analyzer:  pipeline,
		Assistant: llmClient,
		PageSize:  c.Kaltura.SearchPageSize,
	})
	server := wsserver.NewServer(c.Server, registry, r)
	housekeeper := scheduler.NewHousekeeper(transcriptModel, r.InFlight, registry.Len, &c.Housekeeping)

	return &ServiceContext{
		Config:          c,
		TransportProxy:  transportProxy,
		KalturaClient:   kalturaClient,
		LLMClient:       llmClient,
		Segmenter:       segmenter,
		TranscriptModel: transcriptModel,
		Pipeline:        pipeline,
		Registry:        registry,
		Router:          r,
		Server:          server,
		Housekeeper:     housekeeper,
	}, nil
}

// Close 关闭服务器与所有连接
func (svcCtx *ServiceContext) Close() {
	if err := svcCtx.Server.Close(); err != nil {
		logger.Errorf("[Svc] 关闭服务器失败, %v", err)
	}
}
