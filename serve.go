package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoharbabin/video-exploratorium/internal/config"
	"github.com/zoharbabin/video-exploratorium/internal/logger"
	"github.com/zoharbabin/video-exploratorium/internal/svc"
)

func newServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configFile)
		},
	}
}

func serve(configFile string) error {
	// 读取配置文件
	c, err := config.LoadFromFile(configFile)
	if err != nil {
		return fmt.Errorf("读取配置文件失败, %w", err)
	}
	if err := logger.Setup(c.Log.Level, c.Log.Dir, c.Log.File); err != nil {
		return err
	}

	// 创建服务上下文
	svcCtx, err := svc.NewServiceContext(c)
	if err != nil {
		return err
	}

	if err := svcCtx.Housekeeper.Start(); err != nil {
		return fmt.Errorf("[Housekeeper] 启动失败: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svcCtx.Server.ListenAndServe()
	}()

	// 等待程序退出
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-ch:
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("[Server] 服务异常退出: %w", err)
		}
	}

	// 优雅关闭
	logger.Infof("正在关闭服务...")
	svcCtx.Housekeeper.Stop()
	svcCtx.Close()
	logger.Infof("服务已停止")
	return runErr
}
