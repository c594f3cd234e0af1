// Copyright 2019 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/someonegg/msgchat"
	"github.com/someonegg/msgchat/msgclient"
)

const clientPrefix = "CLIENT - "

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a server and chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		lc := cfg.ListenConfig()
		if lc.Host == "" {
			lc.Host = "127.0.0.1"
		}
		addr := lc.Address()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		c, err := msgclient.Dial(dialCtx, addr, msgclient.Options{
			Transport:        lc.Transport,
			Path:             lc.Path,
			Framing:          lc.Framing,
			MaxMessageLength: lc.MaxMessageLength,
			Sentinel:         cfg.Protocol.Sentinel,
			WriteTimeout:     cfg.Protocol.WriteTimeout,
			Logger:           log,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("connect %s: %w", addr, err)
		}

		console := newConsole(os.Stdout, clientPrefix)
		console.OnMessage("Now connected to " + addr)
		console.OnTypingEnabledChanged(true)

		h := msgclient.AsyncHandler(msgclient.HandlerFunc(func(ctx context.Context, m msgchat.Message) {
			console.OnMessage(string(m))
		}), time.Second, 64)
		c.Start(ctx, h)

		lines := readLines(os.Stdin)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer c.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-c.StopD():
					return nil
				case line, ok := <-lines:
					if !ok {
						return c.Bye()
					}
					if line == "" {
						continue
					}
					send := c.Send
					if clientPrefix+line == cfg.Protocol.Sentinel {
						send = func(string) error { return c.Bye() }
					}
					if err := send(clientPrefix + line); err != nil {
						log.Warn("send failed", zap.Error(err))
						console.warn(msgchat.NoticeNotSent)
						continue
					}
					console.OnMessage(clientPrefix + line)
				}
			}
		})

		err = g.Wait()
		<-c.StopD()
		console.OnTypingEnabledChanged(false)
		console.println("Disconnected.")
		if err != nil {
			return err
		}
		return c.Error()
	},
}
