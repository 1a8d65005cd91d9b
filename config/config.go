// Copyright (c) 2024 The readypoll Authors
// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and hot-reloads the demo binary's configuration,
// grounded on the teacher's config.LoadConfig/validate (yaml.v3 + pkg/errors
// wrapping) extended with an fsnotify watch in the same style the teacher's
// authip package uses for its own allowlist file.
package config

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"readypoll/pkg/logging"
)

type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	WebPort       int    `yaml:"web_port"`
	LogPath       string `yaml:"log_path"`
	LogLevel      string `yaml:"log_level"`
	LogExpireDay  int    `yaml:"log_expire_day"`
	EventBufSize  int    `yaml:"event_buf_size"`
	PollTimeoutMS int    `yaml:"poll_timeout_ms"`
}

func Load(fileName string) (*Config, error) {
	file, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file from %s", fileName)
	}
	var cfg Config
	if err = yaml.Unmarshal(file, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", fileName)
	}
	if err = cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "config validate failed")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, ok := logging.LevelMapperRev[c.LogLevel]; !ok {
		return errors.Errorf("unknown log level %s", c.LogLevel)
	}
	if c.EventBufSize <= 0 {
		c.EventBufSize = 256
	}
	if c.PollTimeoutMS <= 0 {
		c.PollTimeoutMS = 1000
	}
	return nil
}

// Watcher hot-reloads Config from fileName whenever it changes on disk, the
// same fsnotify-driven pattern the teacher's authip allowlist watcher uses,
// generalized from an IP list to the full yaml Config.
type Watcher struct {
	fileName string
	watcher  *fsnotify.Watcher
	current  atomic.Pointer[Config]

	mu       sync.Mutex
	onChange []func(*Config)
}

func NewWatcher(fileName string) (*Watcher, error) {
	cfg, err := Load(fileName)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(fileName); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{fileName: fileName, watcher: fw}
	w.current.Store(cfg)
	go w.run()
	return w, nil
}

// OnChange registers fn to be called (from the watcher's own goroutine)
// every time the config file is successfully reloaded.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

func (w *Watcher) Current() *Config {
	return w.current.Load()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.fileName)
			if err != nil {
				logging.Errorf("config: reload %s failed: %v", w.fileName, err)
				continue
			}
			w.current.Store(cfg)
			w.mu.Lock()
			callbacks := append([]func(*Config){}, w.onChange...)
			w.mu.Unlock()
			for _, fn := range callbacks {
				fn(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Errorf("config: watch %s error: %v", w.fileName, err)
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
