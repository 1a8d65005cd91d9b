// Copyright (c) 2024 The readypoll Authors
// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

// pollerdemo is a flag-driven demo binary exercising readypoll end to end:
// it opens a Poller, registers a TCP listener and every accepted
// connection with it, and echoes back whatever it reads, in the same
// flag-driven style as the teacher's main.go.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"readypoll"
	"readypoll/config"
	"readypoll/metrics"
	"readypoll/pkg/logging"
	"readypoll/web"
)

var (
	configPath      = flag.String("p", "conf", "Config file path")
	basicConfigFile = flag.String("c", "pollerdemo.yaml", "Basic config filename")
	version         = flag.Bool("v", false, "Show version")
	help            = flag.Bool("h", false, "Show usage info")
)

var (
	CommitSHA string
	Tag       string
	BuildTime string
)

func init() {
	if len(Tag) < 1 {
		Tag = "unknown"
	}
	if len(CommitSHA) < 1 {
		CommitSHA = "unknown"
	}
	if len(BuildTime) < 1 {
		BuildTime = "unknown"
	}
}

const banner string = `
________________________ ______   __________________.____    .____
\______   \_   _____/   Y   \   \ /   /\______   \__  |    |   |    |
 |       _/|    __)_\        /\   Y   /  |     ___/  |  |   |   |    |
 |    |   \|        \/   \   \     /   |    |    |  |  |   |   |    |___
 |____|_  /_______  /\____|__ /\___/    |____|    |__|  |___|   |_______ \
        \/        \/         \/                                        \/
`

func parseCli() {
	flag.Parse()
	if *version {
		fmt.Printf("version: %s\ncommit: %s\ntime: %s\n", Tag, CommitSHA, BuildTime)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

// registry implements web.Registry for a single named demo Poller.
type registry struct {
	mu     sync.Mutex
	name   string
	poller *readypoll.Poller
}

func (r *registry) Pollers() map[string]web.PollerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]web.PollerInfo{
		r.name: {Registrations: r.poller.DumpRegistrations()},
	}
}

func main() {
	parseCli()

	cfgPath := path.Join(*configPath, *basicConfigFile)
	watcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		fmt.Printf("parse config file err: %v\n", err)
		return
	}
	cfg := watcher.Current()

	if err = logging.InitializeLogger(
		logging.WithPath(cfg.LogPath),
		logging.WithExpireDay(cfg.LogExpireDay),
		logging.WithLogLevel(cfg.LogLevel),
	); err != nil {
		fmt.Printf("failed to initialize logger, err: %s\n", err)
		return
	}

	fmt.Print(banner)
	fmt.Printf("pollerdemo version: %s\n", Tag)
	fmt.Printf("pollerdemo started with addr: %s, pid: %d\n", cfg.ListenAddr, syscall.Getpid())
	logging.Infof("pollerdemo started with addr: %s, pid: %d, version: %s", cfg.ListenAddr, syscall.Getpid(), Tag)

	poller, err := readypoll.New()
	if err != nil {
		logging.Errorf("failed to open poller, err: %s", err)
		return
	}
	defer poller.Close()

	reg := &registry{name: cfg.ListenAddr, poller: poller}

	if cfg.WebPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.WebPort)
		gin.SetMode(gin.ReleaseMode)
		ginSrv := gin.New()
		web.Init(ginSrv, reg)
		go func() {
			if err := ginSrv.Run(addr); err != nil {
				logging.Errorf("failed to start http server, err: %s", err)
			}
		}()
	}

	watcher.OnChange(func(next *config.Config) {
		logging.Infof("pollerdemo config reloaded, new poll timeout: %dms", next.PollTimeoutMS)
	})

	if err := runEchoServer(poller, cfg); err != nil {
		logging.Errorf("pollerdemo run failed: %s", err)
	}

	logging.Infof("pollerdemo shutdown, pid: %d, addr: %s", syscall.Getpid(), cfg.ListenAddr)
}

const listenerToken readypoll.Token = 0

func runEchoServer(poller *readypoll.Poller, cfg *config.Config) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	rawLn, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err
	}
	ln, err := readypoll.NewTCPListener(rawLn)
	if err != nil {
		return err
	}
	if err := poller.Register(ln, listenerToken, readypoll.Readable, readypoll.Level); err != nil {
		return err
	}

	conns := make(map[readypoll.Token]*echoConn)
	var nextToken uint64 = 1

	buf := readypoll.NewEventBuffer(cfg.EventBufSize)
	timeout := time.Duration(cfg.PollTimeoutMS) * time.Millisecond
	for {
		start := time.Now()
		n, err := poller.Poll(buf, &timeout)
		if err != nil {
			return err
		}
		metrics.ObservePoll(cfg.ListenAddr, float64(time.Since(start).Milliseconds()), n)
		metrics.SetRegistrations(cfg.ListenAddr, len(poller.DumpRegistrations()))

		for i := 0; i < n; i++ {
			ev := buf.Get(i)
			if ev.Token() == listenerToken {
				// Level-triggered: a single Accept per event is enough,
				// since the listener stays readable (and Poll keeps
				// reporting it) for as long as connections remain queued.
				acceptOne(poller, ln, conns, &nextToken)
				continue
			}
			c, ok := conns[ev.Token()]
			if !ok {
				continue
			}
			if ev.IsReadable() {
				if !c.onReadable() {
					closeConn(poller, conns, ev.Token())
				}
			}
			if ev.IsReadClosed() || ev.IsError() {
				closeConn(poller, conns, ev.Token())
			}
		}
	}
}

func acceptOne(poller *readypoll.Poller, ln *readypoll.TCPListener, conns map[readypoll.Token]*echoConn, nextToken *uint64) {
	raw, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	stream, err := readypoll.NewTCPStream(raw)
	if err != nil {
		_ = raw.Close()
		return
	}
	*nextToken++
	tok := readypoll.Token(*nextToken)
	if err := poller.Register(stream, tok, readypoll.Readable, readypoll.Level); err != nil {
		_ = raw.Close()
		return
	}
	conns[tok] = &echoConn{stream: stream, raw: raw}
}

func closeConn(poller *readypoll.Poller, conns map[readypoll.Token]*echoConn, tok readypoll.Token) {
	c, ok := conns[tok]
	if !ok {
		return
	}
	_ = poller.Deregister(c.stream)
	_ = c.raw.Close()
	delete(conns, tok)
}

type echoConn struct {
	stream *readypoll.TCPStream
	raw    *net.TCPConn
}

// onReadable reads whatever is available and echoes it back; it returns
// false once the peer has closed or a genuine error occurred. Connections
// are registered level-triggered, so a single Read per event suffices:
// Poll keeps reporting the connection while unread data remains, and
// net.TCPConn.Read does not block here because the readiness event
// already reported data (or end of stream) as present.
func (c *echoConn) onReadable() bool {
	buf := make([]byte, 4096)
	n, err := c.raw.Read(buf)
	if n > 0 {
		if _, werr := c.raw.Write(buf[:n]); werr != nil {
			return false
		}
	}
	return err == nil
}
