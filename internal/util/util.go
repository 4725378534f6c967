package util

import (
	"wallbus/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Device:   "/dev/null",
			BaudRate: 19200,
			DataBits: 8,
			StopBits: 1,
			Parity:   "E",
		},
		Station: config.StationConfig{
			Address: 0x32,
		},
		Bus: config.BusConfig{
			ResponseTimeoutMillis: 500,
			MaxRetries:            3,
			RetryDelayMillis:      10,
		},
		MQTT: config.MQTTConfig{
			Enable: true,
			Host:   "localhost",
			Port:   1883,
		},
		ChargeControlConfig: config.ChargeControlConfig{
			MinPowerWatts:           1400,
			MaxPowerWatts:           11000,
			HeartbeatIntervalMillis: 10000,
		},
		MonitorConfig: config.MonitorConfig{
			PollIntervalMillis: 5000,
		},
		Port: 8080,
	}
}
