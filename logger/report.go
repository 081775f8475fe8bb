package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type streamStat struct {
	messages int64
	bytes    int64
}

var (
	warnsTotal  int64
	errorsTotal int64
	inboundMsgs int64
	outboundMsg int64
	streams     sync.Map // map[string]*streamStat
)

func recordWarn(component string) {
	if strings.Contains(component, "conn") || strings.Contains(component, "mux") {
		atomic.AddInt64(&warnsTotal, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "conn") || strings.Contains(component, "mux") {
		atomic.AddInt64(&errorsTotal, 1)
	}
}

// IncrementInbound records one message received from a venue stream.
func IncrementInbound(venue string, size int) {
	atomic.AddInt64(&inboundMsgs, 1)
	recordStream(venue+"_in", size)
}

// IncrementOutbound records one message written to a venue stream.
func IncrementOutbound(venue string, size int) {
	atomic.AddInt64(&outboundMsg, 1)
	recordStream(venue+"_out", size)
}

func recordStream(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	ss := v.(*streamStat)
	atomic.AddInt64(&ss.messages, 1)
	atomic.AddInt64(&ss.bytes, int64(size))
}

// StartReport begins periodic logging of system and stream statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)

	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		name := k.(string)
		ss := v.(*streamStat)
		streamData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&ss.messages),
			"bytes":    atomic.LoadInt64(&ss.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	log.WithComponent("report").WithFields(Fields{
		"warns":          atomic.LoadInt64(&warnsTotal),
		"errors":         atomic.LoadInt64(&errorsTotal),
		"inbound_msgs":   atomic.LoadInt64(&inboundMsgs),
		"outbound_msgs":  atomic.LoadInt64(&outboundMsg),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"streams":        streamData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}).Info("runtime report")
}
