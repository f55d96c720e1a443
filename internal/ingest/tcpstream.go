package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"parkguard/internal/config"
	"parkguard/internal/model"
)

func StartTCPStream(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go serveTCPStream(ctx, ln, parser, out, logger)
}

func serveTCPStream(ctx context.Context, ln net.Listener, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("tcp stream accept error", "err", err)
			}
			continue
		}
		go handleTCPStreamConn(ctx, conn, parser, out, logger)
	}
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	// a frame with many objects can be long
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		handleLine(ctx, parser, out, logger, scanner.Bytes(), "tcp_stream")
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
