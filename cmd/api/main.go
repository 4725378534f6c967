package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "wallbus/internal/adapter/actor"
	"wallbus/internal/config"
	"wallbus/internal/core/actor"
	"wallbus/internal/core/domain"
	"wallbus/internal/server"
	"wallbus/internal/util/actorutil"
	"wallbus/pkg/evse"
	"wallbus/pkg/modbusrtu"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// serialSilence is the inter-byte gap treated as end of frame by the RTU
// receiver. Generous enough for USB RS-485 adapters that buffer in 16ms
// chunks.
const serialSilence = 20 * time.Millisecond

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// init station actor provider (opens the serial link)
	stationProv, err := stationActorProvider(cfg, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, stationProv, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	// periodic heartbeat keeps the station's charging release armed
	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	sched, err := startHeartbeat(schedCtx, cfg, ctx, pid, logger)
	if err != nil {
		panic(err)
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	sched.Stop()
	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => WALLBUS_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("WALLBUS_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("wallbus")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if cfg.MQTT.Enable {
		// check and fix base topic
		baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic

		// check and fix homeassistant discovery topic
		hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
		if err != nil {
			return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.HADiscoveryTopic = hadBaseTopic
	}

	// check bounds
	if cfg.Serial.Device == "" && cfg.Serial.TCPAddress == "" {
		return nil, errors.New("config param serial.device or serial.tcp_address is required")
	}
	if cfg.Station.Address == 0 || cfg.Station.Address > 247 {
		return nil, errors.New("config param station.address must be in 1..247")
	}
	if cfg.ChargeControlConfig.MinPowerWatts >= cfg.ChargeControlConfig.MaxPowerWatts {
		return nil, errors.New("config param charge_control.min_power_watts must be < charge_control.max_power_watts")
	}
	if cfg.ChargeControlConfig.HeartbeatIntervalMillis < 1000 {
		return nil, errors.New("config param charge_control.heartbeat_interval_millis should be >= 1000")
	}
	if cfg.MonitorConfig.PollIntervalMillis < 1000 {
		return nil, errors.New("config param monitor.poll_interval_millis should be >= 1000")
	}
	if cfg.Bus.ResponseTimeoutMillis < 50 {
		return nil, errors.New("config param bus.response_timeout_millis should be >= 50")
	}

	return &cfg, nil
}

func stationActorProvider(cfg *config.Config, logger *zap.Logger) (actor.StationActorProvider, error) {

	var link modbusrtu.Link
	var err error
	if cfg.Serial.TCPAddress != "" {
		link, err = modbusrtu.DialTCPLink(cfg.Serial.TCPAddress, serialSilence)
	} else {
		link, err = modbusrtu.OpenSerialLink(modbusrtu.SerialConfig{
			Device:   cfg.Serial.Device,
			BaudRate: int(cfg.Serial.BaudRate),
			DataBits: int(cfg.Serial.DataBits),
			StopBits: int(cfg.Serial.StopBits),
			Parity:   cfg.Serial.Parity,
			Silence:  serialSilence,
		})
	}
	if err != nil {
		return nil, err
	}

	transport := modbusrtu.NewStreamTransport(link, int(cfg.Serial.BaudRate),
		time.Duration(cfg.Bus.ResponseTimeoutMillis)*time.Millisecond, logger)
	master := modbusrtu.NewMaster(transport, modbusrtu.MasterConfig{
		StationAddress: byte(cfg.Station.Address),
		MaxRetries:     int(cfg.Bus.MaxRetries),
		RetryDelay:     time.Duration(cfg.Bus.RetryDelayMillis) * time.Millisecond,
	}, logger)

	regs, err := evse.NewMap(evse.WallboxRegisters())
	if err != nil {
		return nil, err
	}
	session, err := evse.NewSession(master, regs, evse.PowerLimits{
		MinWatts: float64(cfg.ChargeControlConfig.MinPowerWatts),
		MaxWatts: float64(cfg.ChargeControlConfig.MaxPowerWatts),
	}, logger)
	if err != nil {
		return nil, err
	}

	return func() *adactor.StationActor {
		return adactor.NewStationActor(session, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

// startHeartbeat schedules the periodic heartbeat write. The station drops
// the charging release on its own if the pattern stops arriving, so a
// failed tick is logged but never fatal.
func startHeartbeat(ctx context.Context, cfg *config.Config, rootCtx *pactor.RootContext, master *pactor.PID, logger *zap.Logger) (quartz.Scheduler, error) {
	sched, err := quartz.NewStdScheduler()
	if err != nil {
		return nil, err
	}
	sched.Start(ctx)

	interval := time.Duration(cfg.ChargeControlConfig.HeartbeatIntervalMillis) * time.Millisecond
	hbJob := job.NewFunctionJob(func(jobCtx context.Context) (bool, error) {
		res, err := rootCtx.RequestFuture(master, domain.HeartbeatRequest{}, interval).Result()
		if err != nil {
			logger.Warn("heartbeat tick failed", zap.Error(err))
			return false, err
		}
		if response, ok := res.(domain.HeartbeatResponse); ok && response.HasResponseError() {
			logger.Warn("heartbeat rejected", zap.Error(response.GetResponseError()))
			return false, response.GetResponseError()
		}
		return true, nil
	})
	detail := quartz.NewJobDetail(hbJob, quartz.NewJobKey("heartbeat"))
	if err := sched.ScheduleJob(detail, quartz.NewSimpleTrigger(interval)); err != nil {
		return nil, err
	}
	return sched, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("serial.baud_rate", 19200)
	viper.SetDefault("serial.data_bits", 8)
	viper.SetDefault("serial.stop_bits", 1)
	viper.SetDefault("serial.parity", "E")
	viper.SetDefault("station.address", 50)
	viper.SetDefault("bus.response_timeout_millis", 500)
	viper.SetDefault("bus.max_retries", 3)
	viper.SetDefault("bus.retry_delay_millis", 20)
	viper.SetDefault("mqtt.enable", true)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "wallbus")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("charge_control.min_power_watts", 1400)
	viper.SetDefault("charge_control.max_power_watts", 11000)
	viper.SetDefault("charge_control.heartbeat_interval_millis", 10000)
	viper.SetDefault("monitor.poll_interval_millis", 5000)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
