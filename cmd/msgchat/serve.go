// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/someonegg/msgchat"
	"github.com/someonegg/msgchat/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Wait for peers and chat with them, one at a time",
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

		var dump io.Writer
		if cfg.Debug.Dump != "" {
			f, err := os.OpenFile(cfg.Debug.Dump, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("open dump: %w", err)
			}
			defer f.Close()
			dump = f
		}

		lc := cfg.ListenConfig()
		console := newConsole(os.Stdout, cfg.Protocol.Prefix)
		srv := msgchat.NewServer(msgchat.Options{
			Host:             lc.Host,
			Transport:        lc.Transport,
			Path:             lc.Path,
			Framing:          lc.Framing,
			MaxMessageLength: lc.MaxMessageLength,
			Prefix:           cfg.Protocol.Prefix,
			Sentinel:         cfg.Protocol.Sentinel,
			InputQueueSize:   cfg.Protocol.InputQueue,
			WriteTimeout:     writeTimeout(cfg),
			LookupHost:       cfg.Listen.ResolveHosts,
			Dump:             dump,
			Collaborator:     console,
			Logger:           log,
		})
		defer srv.Close()

		if err := srv.Start(lc.Port, lc.Backlog); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lines := readLines(os.Stdin)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer stop()
			return srv.Serve(ctx)
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if line == "" {
						continue
					}
					err := srv.Submit(ctx, line)
					if errors.Is(err, msgchat.ErrTypingDisabled) {
						console.warn("Not connected, nobody to send to.")
					} else if err != nil && ctx.Err() == nil {
						log.Warn("submit failed", zap.Error(err))
					}
				}
			}
		})

		err = g.Wait()
		console.println("Server stopped.")
		return err
	},
}

// writeTimeout maps the configured timeout, where zero means no bound.
func writeTimeout(cfg *config.Config) time.Duration {
	if cfg.Protocol.WriteTimeout == 0 {
		return -1
	}
	return cfg.Protocol.WriteTimeout
}

// readLines feeds stdin lines to a channel, it is closed at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- strings.TrimRight(scanner.Text(), "\r")
		}
	}()
	return lines
}

// console is the terminal collaborator.
type console struct {
	out    io.Writer
	prefix string

	locker sync.Mutex
	typing bool

	local  *color.Color
	remote *color.Color
	notice *color.Color
	alert  *color.Color
}

func newConsole(out io.Writer, prefix string) *console {
	if prefix == "" {
		prefix = msgchat.DefaultPrefix
	}
	return &console{
		out:    out,
		prefix: prefix,
		local:  color.New(color.FgCyan),
		remote: color.New(color.FgGreen, color.Bold),
		notice: color.New(color.Faint),
		alert:  color.New(color.FgRed),
	}
}

func (c *console) OnMessage(text string) {
	c.locker.Lock()
	defer c.locker.Unlock()

	switch {
	case strings.HasPrefix(text, "ERROR"):
		c.alert.Fprintln(c.out, text)
	case strings.HasPrefix(text, c.prefix):
		c.local.Fprintln(c.out, text)
	case isNotice(text):
		c.notice.Fprintln(c.out, text)
	default:
		c.remote.Fprintln(c.out, text)
	}
	c.prompt()
}

func (c *console) OnTypingEnabledChanged(enabled bool) {
	c.locker.Lock()
	defer c.locker.Unlock()

	c.typing = enabled
	if enabled {
		c.notice.Fprintln(c.out, "Type a message and press enter.")
	}
	c.prompt()
}

func (c *console) warn(text string) {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.alert.Fprintln(c.out, text)
}

func (c *console) println(text string) {
	c.locker.Lock()
	defer c.locker.Unlock()
	fmt.Fprintln(c.out, text)
}

func (c *console) prompt() {
	if c.typing {
		fmt.Fprint(c.out, "> ")
	}
}

func isNotice(text string) bool {
	switch text {
	case msgchat.NoticeWaiting, msgchat.NoticeStreamsReady, msgchat.NoticeReady,
		msgchat.NoticeEnded, msgchat.NoticeMalformed, msgchat.NoticeClosing:
		return true
	}
	return strings.HasPrefix(text, msgchat.NoticeConnected)
}
