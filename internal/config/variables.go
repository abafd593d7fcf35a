package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	AllowlistNone  = "none"
	AllowlistREST  = "rest"
	AllowlistRedis = "redis"
)

type Config struct {
	// MQTT
	MQTTHost     string
	MQTTPort     int
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string
	MQTTClientID string
	MQTTQoS      byte

	// MQTTCleanSession is set when the client id is random, so restarts do
	// not leave persistent sessions behind on the broker.
	MQTTCleanSession bool

	// Ingestion endpoint
	IngestURL   string
	IngestToken string

	LogLevel string

	// Throttle
	AllowedDevices  []string
	ForwardInterval time.Duration
	MinTempDelta    float64

	// Allowlist
	AllowlistSource     string
	AllowlistURL        string
	AllowlistToken      string
	AllowlistRefresh    time.Duration
	AllowlistFailClosed bool

	// Redis
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	RedisAllowlistKey      string
	RedisInvalidateChannel string

	// Dispatcher
	ForwardWorkers   int
	ForwardQueueSize int

	// Kafka mirror (optional)
	KafkaBrokers           []string
	KafkaTopic             string
	KafkaDLQTopic          string
	KafkaTopicPartitions   int
	KafkaDLQPartitions     int
	KafkaReplicationFactor int
	KafkaCompression       string

	// InfluxDB mirror (optional)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	MetricsAddr string
}

// MQTTBrokerURL builds the paho broker address. A host that already carries
// a scheme (ssl://, ws://) is kept as is.
func (c *Config) MQTTBrokerURL() string {
	if strings.Contains(c.MQTTHost, "://") {
		return fmt.Sprintf("%s:%d", c.MQTTHost, c.MQTTPort)
	}
	return fmt.Sprintf("tcp://%s:%d", c.MQTTHost, c.MQTTPort)
}

func (c *Config) KafkaEnabled() bool  { return len(c.KafkaBrokers) > 0 }
func (c *Config) InfluxEnabled() bool { return c.InfluxURL != "" }

func (c *Config) String() string {
	return fmt.Sprintf(`
MQTT:
  BrokerURL:     %s
  ClientID:      %s
  Username:      %s
  Password:      %s
  Topic:         %s
  QoS:           %d

Ingest:
  URL:           %s
  Token:         %s

Throttle:
  Interval:      %s
  MinTempDelta:  %g
  Bootstrap:     %d devices

Allowlist:
  Source:        %s
  URL:           %s
  Refresh:       %s
  FailClosed:    %v
  Redis:         %s db=%d key=%s channel=%s

Dispatcher:
  Workers:       %d
  QueueSize:     %d

Kafka:
  Brokers:           %v
  Topic:             %s
  DLQTopic:          %s
  Partitions:        %d
  DLQPartitions:     %d
  ReplicationFactor: %d
  Compression:       %s

Influx:
  URL:           %s
  Org:           %s
  Bucket:        %s

Metrics:         %s
`, c.MQTTBrokerURL(), c.MQTTClientID, c.MQTTUsername, redact(c.MQTTPassword), c.MQTTTopic, c.MQTTQoS,
		c.IngestURL, redact(c.IngestToken),
		c.ForwardInterval, c.MinTempDelta, len(c.AllowedDevices),
		c.AllowlistSource, c.AllowlistURL, c.AllowlistRefresh, c.AllowlistFailClosed,
		c.RedisAddr, c.RedisDB, c.RedisAllowlistKey, c.RedisInvalidateChannel,
		c.ForwardWorkers, c.ForwardQueueSize,
		c.KafkaBrokers, c.KafkaTopic, c.KafkaDLQTopic, c.KafkaTopicPartitions, c.KafkaDLQPartitions,
		c.KafkaReplicationFactor, c.KafkaCompression,
		c.InfluxURL, c.InfluxOrg, c.InfluxBucket,
		c.MetricsAddr)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// LoadDotEnv preloads variables from path. A missing file is fine and
// variables already set in the environment win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

type errList []string

func (e *errList) addf(format string, a ...any) {
	*e = append(*e, fmt.Sprintf(format, a...))
}
func (e *errList) add(msg string) { *e = append(*e, msg) }
func (e *errList) has() bool      { return len(*e) > 0 }

func getRequired(key string, errs *errList) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		errs.addf("missing %s", key)
	}
	return v
}
func getRequiredInt(key string, errs *errList) int {
	v := getRequired(key, errs)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		errs.addf("invalid %s (expected int): %q", key, v)
		return 0
	}
	return n
}
func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
func getInt(key string, def int, errs *errList) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		errs.addf("invalid %s (expected int): %q", key, v)
		return def
	}
	return n
}
func getFloat(key string, def float64, errs *errList) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		errs.addf("invalid %s (expected number): %q", key, v)
		return def
	}
	return f
}
func getBool(key string, def bool, errs *errList) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		errs.addf("invalid %s (expected bool): %q", key, v)
		return def
	}
	return b
}
func getSeconds(key string, def int, errs *errList) time.Duration {
	n := getInt(key, def, errs)
	if n < 0 {
		errs.addf("%s must be >= 0", key)
		n = def
	}
	return time.Duration(n) * time.Second
}
func getQoS(key string, def int, errs *errList) byte {
	n := getInt(key, def, errs)
	if n < 0 || n > 2 {
		errs.addf("invalid %s (0..2): %d", key, n)
		if n < 0 {
			n = 0
		}
		if n > 2 {
			n = 2
		}
	}
	return byte(n)
}
func ensureOneOf(key, val string, allowed []string, errs *errList) {
	ok := false
	for _, a := range allowed {
		if val == a {
			ok = true
			break
		}
	}
	if !ok {
		errs.addf("invalid %s (allowed: %s): %q", key, strings.Join(allowed, ", "), val)
	}
}
func parseList(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type mqttCfg struct {
	host     string
	port     int
	username string
	password string
	topic    string
	clientID string
	qos      byte
	clean    bool
}

func loadMQTT(errs *errList) mqttCfg {
	clientID, clean := getString("MQTT_CLIENT_ID", ""), false
	if clientID == "" {
		clientID, clean = defaultClientID(os.Hostname)
	}
	return mqttCfg{
		host:     getRequired("MQTT_HOST", errs),
		port:     getRequiredInt("MQTT_PORT", errs),
		username: getRequired("MQTT_USERNAME", errs),
		password: getRequired("MQTT_PASSWORD", errs),
		topic:    getString("MQTT_TOPIC", "GwData/+"),
		clientID: clientID,
		qos:      getQoS("MQTT_QOS", 1, errs),
		clean:    clean,
	}
}

// defaultClientID derives a client id that survives restarts from the
// hostname. Without one it falls back to a random id and asks for a clean
// session.
func defaultClientID(hostname func() (string, error)) (string, bool) {
	if h, err := hostname(); err == nil {
		if h = strings.TrimSpace(h); h != "" {
			return "mqtt-forwarder-" + h, false
		}
	}
	return "mqtt-forwarder-" + uuid.NewString()[:8], true
}

type pipelineCfg struct {
	ingestURL   string
	ingestToken string
	logLevel    string
	bootstrap   []string
	interval    time.Duration
	delta       float64
	workers     int
	queueSize   int
}

func loadPipeline(errs *errList) pipelineCfg {
	return pipelineCfg{
		ingestURL:   getRequired("INGEST_URL", errs),
		ingestToken: getRequired("INGEST_TOKEN", errs),
		logLevel:    strings.ToLower(getString("LOG_LEVEL", "info")),
		bootstrap:   parseList(os.Getenv("ALLOWED_DEVICES")),
		interval:    getSeconds("FORWARD_INTERVAL_SECONDS", 60, errs),
		delta:       getFloat("MIN_TEMP_DELTA", 0.3, errs),
		workers:     getInt("FORWARD_WORKERS", 4, errs),
		queueSize:   getInt("FORWARD_QUEUE_SIZE", 1000, errs),
	}
}

type allowlistCfg struct {
	source        string
	url           string
	token         string
	refresh       time.Duration
	failClosed    bool
	redisAddr     string
	redisPassword string
	redisDB       int
	redisKey      string
	redisChannel  string
}

func loadAllowlist(errs *errList) allowlistCfg {
	url := getString("ALLOWLIST_URL", "")
	def := AllowlistNone
	if url != "" {
		def = AllowlistREST
	}
	src := strings.ToLower(getString("ALLOWLIST_SOURCE", def))
	ensureOneOf("ALLOWLIST_SOURCE", src, []string{AllowlistREST, AllowlistRedis, AllowlistNone}, errs)

	return allowlistCfg{
		source:        src,
		url:           url,
		token:         getString("ALLOWLIST_TOKEN", ""),
		refresh:       getSeconds("ALLOWLIST_REFRESH_SECONDS", 60, errs),
		failClosed:    getBool("ALLOWLIST_FAIL_CLOSED", false, errs),
		redisAddr:     getString("REDIS_ADDR", ""),
		redisPassword: os.Getenv("REDIS_PASSWORD"),
		redisDB:       getInt("REDIS_DB", 0, errs),
		redisKey:      getString("REDIS_ALLOWLIST_KEY", "devices:allowlist"),
		redisChannel:  getString("REDIS_INVALIDATE_CHANNEL", "devices:invalidate"),
	}
}

type kafkaCfg struct {
	brokers           []string
	topic             string
	dlqTopic          string
	partitions        int
	dlqPartitions     int
	replicationFactor int
	compression       string
}

func loadKafka(errs *errList) kafkaCfg {
	comp := strings.ToLower(getString("KAFKA_COMPRESSION", "snappy"))
	ensureOneOf("KAFKA_COMPRESSION", comp, []string{"none", "gzip", "snappy", "lz4", "zstd"}, errs)

	return kafkaCfg{
		brokers:           parseList(os.Getenv("KAFKA_BROKERS")),
		topic:             getString("KAFKA_TOPIC", "ble-readings"),
		dlqTopic:          getString("KAFKA_DLQ_TOPIC", "ble-readings-dlq"),
		partitions:        getInt("KAFKA_TOPIC_PARTITIONS", 3, errs),
		dlqPartitions:     getInt("KAFKA_DLQ_PARTITIONS", 1, errs),
		replicationFactor: getInt("KAFKA_REPLICATION_FACTOR", 1, errs),
		compression:       comp,
	}
}

type influxCfg struct {
	url, token, org, bucket string
}

func loadInflux() influxCfg {
	return influxCfg{
		url:    getString("INFLUX_URL", ""),
		token:  getString("INFLUX_TOKEN", ""),
		org:    getString("INFLUX_ORG", ""),
		bucket: getString("INFLUX_BUCKET", ""),
	}
}

func validateSanity(m mqttCfg, p pipelineCfg, a allowlistCfg, k kafkaCfg, i influxCfg, errs *errList) {
	if m.port != 0 && (m.port < 1 || m.port > 65535) {
		errs.addf("invalid MQTT_PORT (1..65535): %d", m.port)
	}
	if p.delta < 0 {
		errs.add("MIN_TEMP_DELTA must be >= 0")
	}
	if p.workers <= 0 {
		errs.add("FORWARD_WORKERS must be > 0")
	}
	if p.queueSize <= 0 {
		errs.add("FORWARD_QUEUE_SIZE must be > 0")
	}
	if a.refresh <= 0 {
		errs.add("ALLOWLIST_REFRESH_SECONDS must be > 0")
	}
	if a.source == AllowlistREST && a.url == "" {
		errs.add("ALLOWLIST_SOURCE=rest requires ALLOWLIST_URL")
	}
	if a.source == AllowlistRedis && a.redisAddr == "" {
		errs.add("ALLOWLIST_SOURCE=redis requires REDIS_ADDR")
	}
	if len(k.brokers) > 0 {
		if k.partitions <= 0 {
			errs.add("KAFKA_TOPIC_PARTITIONS must be > 0")
		}
		if k.dlqPartitions <= 0 {
			errs.add("KAFKA_DLQ_PARTITIONS must be > 0")
		}
		if k.replicationFactor <= 0 {
			errs.add("KAFKA_REPLICATION_FACTOR must be > 0")
		}
		if k.replicationFactor > len(k.brokers) {
			errs.add("KAFKA_REPLICATION_FACTOR cannot exceed the number of brokers in KAFKA_BROKERS")
		}
	}
	set := 0
	for _, v := range []string{i.url, i.token, i.org, i.bucket} {
		if v != "" {
			set++
		}
	}
	if set > 0 && set < 4 {
		errs.add("INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG and INFLUX_BUCKET must be set together")
	}
}

// LoadConfig reads the environment and reports every missing or invalid
// variable at once.
func LoadConfig() (*Config, error) {
	var errs errList

	m := loadMQTT(&errs)
	p := loadPipeline(&errs)
	a := loadAllowlist(&errs)
	k := loadKafka(&errs)
	i := loadInflux()

	validateSanity(m, p, a, k, i, &errs)

	if errs.has() {
		return nil, fmt.Errorf("missing/invalid environment variables: %s", strings.Join(errs, "; "))
	}

	return &Config{
		MQTTHost:     m.host,
		MQTTPort:     m.port,
		MQTTUsername: m.username,
		MQTTPassword: m.password,
		MQTTTopic:    m.topic,
		MQTTClientID: m.clientID,
		MQTTQoS:      m.qos,

		MQTTCleanSession: m.clean,

		IngestURL:   p.ingestURL,
		IngestToken: p.ingestToken,
		LogLevel:    p.logLevel,

		AllowedDevices:  p.bootstrap,
		ForwardInterval: p.interval,
		MinTempDelta:    p.delta,

		AllowlistSource:     a.source,
		AllowlistURL:        a.url,
		AllowlistToken:      a.token,
		AllowlistRefresh:    a.refresh,
		AllowlistFailClosed: a.failClosed,

		RedisAddr:              a.redisAddr,
		RedisPassword:          a.redisPassword,
		RedisDB:                a.redisDB,
		RedisAllowlistKey:      a.redisKey,
		RedisInvalidateChannel: a.redisChannel,

		ForwardWorkers:   p.workers,
		ForwardQueueSize: p.queueSize,

		KafkaBrokers:           k.brokers,
		KafkaTopic:             k.topic,
		KafkaDLQTopic:          k.dlqTopic,
		KafkaTopicPartitions:   k.partitions,
		KafkaDLQPartitions:     k.dlqPartitions,
		KafkaReplicationFactor: k.replicationFactor,
		KafkaCompression:       k.compression,

		InfluxURL:    i.url,
		InfluxToken:  i.token,
		InfluxOrg:    i.org,
		InfluxBucket: i.bucket,

		MetricsAddr: getString("METRICS_ADDR", ""),
	}, nil
}
