package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/bytebrain/docchat/internal/config"
	"github.com/bytebrain/docchat/internal/feedback"
	"github.com/bytebrain/docchat/internal/observability/logging"
	"github.com/bytebrain/docchat/internal/session"
	"github.com/bytebrain/docchat/internal/transport"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.InitWithWriter(logging.DefaultConfig(), os.Stderr)
		log.Fatal().Err(err).Msg("配置加载失败")
	}

	host := flag.String("host", cfg.Client.WebsocketHost, "聊天服务主机名，留空使用 localhost")
	port := flag.String("port", cfg.Client.WebsocketPort, "聊天服务端口，80 表示使用 wss/https")
	endpoint := flag.String("endpoint", cfg.Client.WebsocketEndpoint, "WebSocket 路径，例如 /chat 或 /dummy_chat")
	streamTimeout := flag.Duration("timeout", cfg.Client.StreamTimeout, "单个回答无新 token 的最长等待时间")
	flag.Parse()

	// 日志写到 stderr，stdout 只输出对话内容。
	logging.InitWithWriter(cfg.Log, os.Stderr)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using system environment variables")
	}

	ep := transport.Endpoint{Host: *host, Port: *port, Path: *endpoint}
	opts := transport.DefaultOptions()
	opts.HandshakeTimeout = cfg.Client.HandshakeTimeout

	ctrl := session.New(transport.NewDialer(ep, opts), session.Options{
		Welcome:       cfg.Client.WelcomeMessages,
		StreamTimeout: *streamTimeout,
	})
	defer ctrl.Close()

	r := newRenderer(os.Stdout)
	ctrl.OnChange(r.onChange)
	r.onChange(ctrl.Snapshot(), ctrl.State())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "connected to %s, /good or /bad rates the last answer, /quit exits\n", ep.WebsocketURL())
	if err := repl(ctx, ctrl, feedback.NewClient(ep, nil), bufio.NewScanner(os.Stdin)); err != nil {
		log.Fatal().Err(err).Msg("chat client stopped")
	}
}

func repl(ctx context.Context, ctrl *session.Controller, fb *feedback.Client, in *bufio.Scanner) error {
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return in.Err()
		}

		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/good", "/bad":
			if err := rateLast(ctx, ctrl, fb, line == "/good"); err != nil {
				fmt.Fprintf(os.Stderr, "feedback failed: %v\n", err)
			} else {
				fmt.Println("thanks for your feedback")
			}
			continue
		}

		if err := ctrl.Submit(ctx, line); err != nil {
			if errors.Is(err, session.ErrClosed) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			continue
		}
		if err := ctrl.Wait(ctx); err != nil {
			return nil
		}
	}
}

func rateLast(ctx context.Context, ctrl *session.Controller, fb *feedback.Client, useful bool) error {
	snap := ctrl.Snapshot()
	if len(snap) < 3 {
		return errors.New("nothing to rate yet")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return fb.Rate(ctx, snap, len(snap)-1, useful)
}
