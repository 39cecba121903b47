// Copyright (c) 2024 chunkserver contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package config loads the flat key/value configuration recognized by the
// core (spec §6) into one struct, validated once at load time rather than
// re-validated at every use site.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvVar documents one recognized environment variable, mirroring the
// teacher's EnvironmentVariable catalogue (name + default + description).
type EnvVar struct {
	Name         string
	DefaultValue string
	Description  string
}

func getEnv(v EnvVar) string {
	if val := os.Getenv(v.Name); val != "" {
		return val
	}
	return v.DefaultValue
}

var (
	varWorkersMax               = EnvVar{"WORKERS_MAX", "250", "ceiling on worker goroutines per pool"}
	varWorkersHLoadHimark       = EnvVar{"WORKERS_HLOAD_HIMARK", "", "busy-worker high watermark (default 3*max/4)"}
	varWorkersHLoadLomark       = EnvVar{"WORKERS_HLOAD_LOMARK", "", "busy-worker low watermark (default max/2)"}
	varWorkersMaxIdle           = EnvVar{"WORKERS_MAX_IDLE", "40", "target idle worker count per pool"}
	varChunksPerRegisterPacket  = EnvVar{"CHUNKS_PER_REGISTER_PACKET", "1000", "chunks streamed per registration frame"}
	varAuthCode                 = EnvVar{"AUTH_CODE", "", "shared secret for master authentication challenge"}
	varMasterHost                = EnvVar{"MASTER_HOST", "mfsmaster", "master coordinator hostname"}
	varMasterPort                = EnvVar{"MASTER_PORT", "9420", "master coordinator port"}
	varBindHost                  = EnvVar{"BIND_HOST", "", "local address to bind outbound master connection"}
	varMasterTimeout             = EnvVar{"MASTER_TIMEOUT", "10", "master connection idle read timeout, seconds (0 or >=10)"}
	varMasterReconnectionDelay   = EnvVar{"MASTER_RECONNECTION_DELAY", "5", "seconds between reconnect attempts"}
	varLabels                    = EnvVar{"LABELS", "", "subset of A-Z labels advertised to the master"}
	varCanUseMmap                = EnvVar{"CAN_USE_MMAP", "false", "use anonymous mmap for large temporary buffers"}
	varClientBindHost            = EnvVar{"CLIENT_BIND_HOST", "", "local address the client-facing listener binds"}
	varClientPort                = EnvVar{"CLIENT_PORT", "9422", "port clients and replication peers connect to"}
	varDataDir                   = EnvVar{"DATA_DIR", ".", "directory holding chunkserverid.mfs"}
	varLogLevel                  = EnvVar{"LOG_LEVEL", "info", "panic|error|warning|info|debug"}
	varLogFile                   = EnvVar{"LOG_FILE", "", "log file path; empty logs to stderr"}
)

// Config is the single validated struct the rest of the core is built
// against; nothing reads os.Getenv outside of Load.
type Config struct {
	WorkersMax              int
	WorkersHimark           int
	WorkersLomark           int
	WorkersMaxIdle          int
	ChunksPerRegisterPacket int
	AuthCode                string

	MasterHost              string
	MasterPort              string
	BindHost                string
	MasterTimeout           time.Duration
	MasterReconnectionDelay time.Duration

	Labels     uint32
	CanUseMmap bool

	ClientBindHost string
	ClientPort     string

	DataDir string

	LogLevel string
	LogFile  string
}

// Load reads and validates every recognized key, applying spec §6's
// clamping rules (e.g. MASTER_TIMEOUT clamps to 0 or >=10, CHUNKS_PER_REGISTER_PACKET
// clamps to [100,10000]).
func Load() (*Config, error) {
	c := &Config{}

	workersMax, err := strconv.Atoi(getEnv(varWorkersMax))
	if err != nil || workersMax <= 0 {
		return nil, fmt.Errorf("invalid %s", varWorkersMax.Name)
	}
	c.WorkersMax = workersMax

	if raw := getEnv(varWorkersHLoadHimark); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s", varWorkersHLoadHimark.Name)
		}
		c.WorkersHimark = v
	} else {
		c.WorkersHimark = (3 * workersMax) / 4
	}
	if raw := getEnv(varWorkersHLoadLomark); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s", varWorkersHLoadLomark.Name)
		}
		c.WorkersLomark = v
	} else {
		c.WorkersLomark = workersMax / 2
	}

	maxIdle, err := strconv.Atoi(getEnv(varWorkersMaxIdle))
	if err != nil || maxIdle < 0 {
		return nil, fmt.Errorf("invalid %s", varWorkersMaxIdle.Name)
	}
	c.WorkersMaxIdle = maxIdle

	perPacket, err := strconv.Atoi(getEnv(varChunksPerRegisterPacket))
	if err != nil {
		return nil, fmt.Errorf("invalid %s", varChunksPerRegisterPacket.Name)
	}
	switch {
	case perPacket < 100:
		perPacket = 100
	case perPacket > 10000:
		perPacket = 10000
	}
	c.ChunksPerRegisterPacket = perPacket

	c.AuthCode = getEnv(varAuthCode)
	c.MasterHost = getEnv(varMasterHost)
	c.MasterPort = getEnv(varMasterPort)
	c.BindHost = getEnv(varBindHost)

	timeoutSec, err := strconv.Atoi(getEnv(varMasterTimeout))
	if err != nil {
		return nil, fmt.Errorf("invalid %s", varMasterTimeout.Name)
	}
	if timeoutSec != 0 && timeoutSec < 10 {
		timeoutSec = 10
	}
	c.MasterTimeout = time.Duration(timeoutSec) * time.Second

	delaySec, err := strconv.Atoi(getEnv(varMasterReconnectionDelay))
	if err != nil || delaySec <= 0 {
		return nil, fmt.Errorf("invalid %s", varMasterReconnectionDelay.Name)
	}
	c.MasterReconnectionDelay = time.Duration(delaySec) * time.Second

	c.Labels = parseLabels(getEnv(varLabels))

	canMmap, err := strconv.ParseBool(getEnv(varCanUseMmap))
	if err != nil {
		return nil, fmt.Errorf("invalid %s", varCanUseMmap.Name)
	}
	c.CanUseMmap = canMmap

	c.ClientBindHost = getEnv(varClientBindHost)
	c.ClientPort = getEnv(varClientPort)

	c.DataDir = getEnv(varDataDir)
	c.LogLevel = strings.ToLower(getEnv(varLogLevel))
	c.LogFile = getEnv(varLogFile)

	return c, nil
}

// parseLabels turns a subset of A-Z into the labelmask:u32 sent in the
// Labels frame (spec §6), one bit per letter present, matching the original
// chunkserver's label encoding (mfschunkserver masterconn.c).
func parseLabels(s string) uint32 {
	var mask uint32
	for _, r := range strings.ToUpper(s) {
		if r >= 'A' && r <= 'Z' {
			mask |= 1 << uint(r-'A')
		}
	}
	return mask
}
