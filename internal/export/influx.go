package export

import (
	"context"
	"sync"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const (
	measurementWaterLevel = "water_level"
	measurementPumpState  = "pump_state"
	measurementAlarm      = "system_alarm"
)

// pointWriter is the subset of api.WriteAPI the exporter uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Writer mirrors accepted telemetry into InfluxDB. Writes are batched and
// asynchronous; a failed batch is logged and dropped.
type Writer struct {
	client influxdb2.Client
	api    pointWriter
	logger *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

func NewWriter(cfg config.InfluxConfig, logger *zap.Logger) *Writer {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	w := newWriter(writeAPI, logger)
	w.client = client

	w.wg.Add(1)
	go w.drainErrors(writeAPI)

	return w
}

func newWriter(pw pointWriter, logger *zap.Logger) *Writer {
	return &Writer{
		api:    pw,
		logger: logger.Named("influx"),
		done:   make(chan struct{}),
	}
}

func (w *Writer) drainErrors(writeAPI api.WriteAPI) {
	defer w.wg.Done()

	errs := writeAPI.Errors()
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("InfluxDB write failed", zap.Error(err))
		}
	}
}

// Health reports whether the server is reachable.
func (w *Writer) Health(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	_, err := w.client.Health(ctx)
	return err
}

func (w *Writer) WaterLevelUpdated(u types.WaterLevelUpdate) {
	p := influxdb2.NewPointWithMeasurement(measurementWaterLevel).
		AddField("level_percent", u.LevelPercent).
		SetTime(u.MeasuredAt)
	for i, on := range u.Sensors {
		p.AddField(sensorField(i), on)
	}
	w.api.WritePoint(p)
}

func (w *Writer) PumpStateUpdated(u types.PumpStateUpdate) {
	p := influxdb2.NewPointWithMeasurement(measurementPumpState).
		AddField("running", u.Running).
		AddField("last_run_seconds", u.LastRunSeconds).
		SetTime(u.ReportedAt)
	if u.LastRequestID != nil {
		p.AddTag("request_id", *u.LastRequestID)
	}
	w.api.WritePoint(p)
}

func (w *Writer) AlarmRaised(u types.SystemAlarmUpdate) {
	p := influxdb2.NewPointWithMeasurement(measurementAlarm).
		AddTag("type", u.Type).
		AddTag("severity", u.Severity).
		AddField("message", u.Message).
		SetTime(u.RaisedAt)
	w.api.WritePoint(p)
}

// Close flushes pending points and releases the client.
func (w *Writer) Close() {
	w.api.Flush()
	close(w.done)
	w.wg.Wait()

	if w.client != nil {
		w.client.Close()
	}
	w.logger.Info("InfluxDB writer closed")
}

func sensorField(i int) string {
	return "sensor_" + string(rune('1'+i))
}
