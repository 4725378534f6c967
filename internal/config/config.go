package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Serial   SerialConfig  `mapstructure:"serial"`
	Station  StationConfig `mapstructure:"station"`
	Bus      BusConfig     `mapstructure:"bus"`
	MQTT     MQTTConfig    `mapstructure:"mqtt"`

	ChargeControlConfig ChargeControlConfig `mapstructure:"charge_control"`
	MonitorConfig       MonitorConfig       `mapstructure:"monitor"`
	Port                uint                `mapstructure:"port"`
	HttpLog             bool                `mapstructure:"http_log"`
}

// SerialConfig describes the RS-485 adapter. When TCPAddress is set the
// bridge talks RTU over a TCP-attached adapter instead of a local device.
type SerialConfig struct {
	Device     string
	BaudRate   uint   `mapstructure:"baud_rate"`
	DataBits   uint   `mapstructure:"data_bits"`
	StopBits   uint   `mapstructure:"stop_bits"`
	Parity     string `mapstructure:"parity"`
	TCPAddress string `mapstructure:"tcp_address"`
}

type StationConfig struct {
	Address uint `mapstructure:"address"`
}

type BusConfig struct {
	ResponseTimeoutMillis uint32 `mapstructure:"response_timeout_millis"`
	MaxRetries            uint   `mapstructure:"max_retries"`
	RetryDelayMillis      uint32 `mapstructure:"retry_delay_millis"`
}

type ChargeControlConfig struct {
	MinPowerWatts           uint32 `mapstructure:"min_power_watts"`
	MaxPowerWatts           uint32 `mapstructure:"max_power_watts"`
	HeartbeatIntervalMillis uint32 `mapstructure:"heartbeat_interval_millis"`
}

type MonitorConfig struct {
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
