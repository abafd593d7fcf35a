package database

import (
	"context"
	"regexp"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/lucaslui/hems/mqtt-forwarder/internal/config"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/model"
)

const measurement = "ble_reading"

// InfluxDB writes every forwarded reading as a point so the local history
// survives even when the ingestion endpoint drops it.
type InfluxDB struct {
	Client   influxdb2.Client
	WriteAPI api.WriteAPIBlocking
}

func NewInfluxDB(cfg *config.Config) *InfluxDB {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &InfluxDB{
		Client:   client,
		WriteAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
	}
}

func (db *InfluxDB) Close() {
	if db != nil && db.Client != nil {
		db.Client.Close()
	}
}

func (db *InfluxDB) Name() string { return "influx" }

// Send implements forward.Sink.
func (db *InfluxDB) Send(ctx context.Context, r model.Reading) error {
	return db.WriteAPI.WritePoint(ctx, buildPoint(r))
}

func buildPoint(r model.Reading) *write.Point {
	tags := map[string]string{
		"device":  r.Key(),
		"gateway": r.GatewayID,
	}

	fields := make(map[string]interface{})
	if r.Temperature != nil {
		fields["temperature"] = *r.Temperature
	}
	if r.Battery != nil {
		fields["battery"] = *r.Battery
	}
	for k, v := range r.Extra {
		if fv, ok := normalizeFieldValue(v); ok {
			fields[sanitizeFieldKey(k)] = fv
		}
	}

	ts := r.ReceivedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return write.NewPoint(measurement, tags, fields, ts)
}

func normalizeFieldValue(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		return x, true
	case string:
		return x, true
	default:
		return nil, false
	}
}

var fieldKeyRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func sanitizeFieldKey(k string) string {
	k = strings.TrimSpace(k)
	k = fieldKeyRe.ReplaceAllString(k, "_")
	k = strings.Trim(k, "_")
	if k == "" {
		return "field"
	}
	return k
}
