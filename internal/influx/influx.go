// Package influx records cluster telemetry into InfluxDB. When the server
// cannot be reached at startup, points are written as gzip-compressed line
// protocol to a backup file instead.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/notnil/dashsim/cluster"
)

// Measurement is the point name used for cluster samples.
const Measurement = "vehicle"

// Config holds recorder settings.
type Config struct {
	URL        string
	Token      string
	Org        string
	Bucket     string
	Session    string
	EveryTicks int // sample one simulation tick in N
	BackupPath string
}

// Recorder is a cluster.Observer that samples snapshots into InfluxDB.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	client influxdb2.Client
	writer influxdb2_api.WriteAPI

	backupFile *os.File
	backup     *gzip.Writer
	backupErrs int
}

// Connect pings the server and prepares a write API, or falls back to the
// backup file when the ping fails.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Recorder, error) {
	if cfg.EveryTicks <= 0 {
		cfg.EveryTicks = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{cfg: cfg, logger: logger}

	r.client = influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	running, err := r.client.Ping(pctx)
	cancel()

	if err == nil && !running {
		err = errors.New("server not ready")
	}
	if err != nil {
		r.client.Close()
		r.client = nil
		if cfg.BackupPath == "" {
			return nil, fmt.Errorf("influx unreachable at %s: %w", cfg.URL, err)
		}
		f, ferr := os.OpenFile(cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return nil, fmt.Errorf("creating influx backup file: %w", ferr)
		}
		r.backupFile = f
		r.backup = gzip.NewWriter(f)
		logger.Warn("influx unreachable, writing to backup file", "url", cfg.URL, "backupPath", cfg.BackupPath, "error", err)
		return r, nil
	}

	r.writer = r.client.WriteAPI(cfg.Org, cfg.Bucket)
	go func(errs <-chan error) {
		for werr := range errs {
			logger.Error("influx write failed", "bucket", cfg.Bucket, "error", werr)
		}
	}(r.writer.Errors())

	logger.Info("influx recorder connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return r, nil
}

// Online reports whether points go to the server rather than the backup.
func (r *Recorder) Online() bool { return r.writer != nil }

// Point converts a snapshot into a line-protocol point.
func Point(session string, snap cluster.Snapshot, ts time.Time) *influxdb2_write.Point {
	s := snap.State
	return influxdb2_write.NewPoint(Measurement,
		map[string]string{"session": session},
		map[string]interface{}{
			"speed":     s.Speed,
			"rpm":       s.RPM,
			"fuel":      s.Fuel,
			"temp":      s.Temp,
			"throttle":  snap.Inputs.Throttle,
			"brake":     snap.Inputs.Brake,
			"gear":      s.Gear.String(),
			"engine_on": s.EngineOn,
			"odometer":  s.Odometer,
			"tick":      int64(snap.Tick),
		},
		ts,
	)
}

// Observe implements cluster.Observer. It never blocks on the network.
func (r *Recorder) Observe(snap cluster.Snapshot) {
	if snap.Tick%uint64(r.cfg.EveryTicks) != 0 {
		return
	}
	r.write(Point(r.cfg.Session, snap, time.Now()))
}

func (r *Recorder) write(p *influxdb2_write.Point) {
	if r.writer != nil {
		r.writer.WritePoint(p)
		return
	}
	line := strings.TrimRight(influxdb2_write.PointToLineProtocol(p, time.Nanosecond), "\n") + "\n"
	if _, err := r.backup.Write([]byte(line)); err != nil {
		r.backupErrs++
		if r.backupErrs == 1 {
			r.logger.Error("influx backup write failed", "error", err)
		}
	}
}

// Close flushes pending points and releases the client or backup file.
func (r *Recorder) Close() error {
	if r.writer != nil {
		r.writer.Flush()
		r.client.Close()
		return nil
	}
	return errors.Join(r.backup.Close(), r.backupFile.Close())
}
