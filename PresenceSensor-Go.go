package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	adhoc "PresenceSensor/Adhoc"
	"PresenceSensor/api"
	"PresenceSensor/camera"
	"PresenceSensor/engine"
	backend "PresenceSensor/gRPC"
	"PresenceSensor/logger"
	"PresenceSensor/monitor"
	"PresenceSensor/output"
	"PresenceSensor/pipeline"
	"PresenceSensor/poll"

	"go.uber.org/zap"

	iface "PresenceSensor/interface"
)

func GetOutboundIP() (string, error) {
	// no packet is sent, dialing UDP only resolves the outbound route
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

func banner(path string, config configStruct) []string {
	lines := []string{
		strings.Repeat("#", 64),
		fmt.Sprintf(" Config      : %s", path),
		fmt.Sprintf(" Variant     : %s", config.Variant),
		fmt.Sprintf(" Camera      : %s @ %d MHz", config.Camera.Source, pipeline.CameraFreq/1000/1000),
	}
	if config.Variant == pipeline.VariantCNN {
		lines = append(lines,
			fmt.Sprintf(" Capture     : %dx%d rgb565", pipeline.AcquireWidth, pipeline.AcquireHeight),
			fmt.Sprintf(" Model input : %dx%d (%s backend)", pipeline.ModelWidth, pipeline.ModelHeight, config.Backend.UseBackend),
			fmt.Sprintf(" Confidence  : %.2f", pipeline.Confidence))
	} else {
		lines = append(lines,
			fmt.Sprintf(" Capture     : %dx%d grayscale", pipeline.HeuristicWidth, pipeline.HeuristicHeight),
			fmt.Sprintf(" Margin      : %d", pipeline.Margin))
	}
	lines = append(lines,
		fmt.Sprintf(" Console baud: %d", pipeline.BaudRate),
		fmt.Sprintf(" gRPC  Port  : %d", config.RPCPort),
		fmt.Sprintf(" API   Port  : %d", config.APIPort),
		fmt.Sprintf(" Metrics Port: %d", config.MetricsPort),
		strings.Repeat("#", 64),
	)
	return lines
}

func buildVariant(config configStruct) (pipeline.Variant, func(), error) {
	if config.Variant == pipeline.VariantHeuristic {
		return pipeline.NewHeuristic(pipeline.HeuristicWidth, pipeline.HeuristicHeight), func() {}, nil
	}
	accel, release, err := engine.OpenAccelerator(config.Backend, pipeline.Registers(), pipeline.ModelWidth, pipeline.ModelHeight)
	if err != nil {
		return nil, nil, iface.NewConfigError("cnn", err)
	}
	cnn := pipeline.NewCNN(accel)
	cnn.Poller = poll.WithTimeout(config.timeout)
	return cnn, release, nil
}

func buildOutputs(config configStruct, clientID string) (output.Multi, func(), error) {
	var outs output.Multi
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	if config.Outputs.LED != "" {
		led := output.NewLED(config.Outputs.LED)
		if err := led.Open(); err != nil {
			return nil, cleanup, err
		}
		outs = append(outs, led)
	}
	if config.Outputs.GPIO != "" {
		g, err := output.OpenGPIO(config.Outputs.GPIO)
		if err != nil {
			return nil, cleanup, err
		}
		outs = append(outs, g)
	}
	if config.Outputs.MQTT.Broker != "" {
		id := config.Outputs.MQTT.ClientID
		if id == "" {
			id = "presence-" + clientID
		}
		m, client, err := output.DialMQTT(config.Outputs.MQTT.Broker, id, config.Outputs.MQTT.Topic)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { client.Disconnect(250) })
		outs = append(outs, m)
	}
	if config.Outputs.Log || len(outs) == 0 {
		outs = append(outs, output.NewLog(logger.Log()))
	}
	return outs, cleanup, nil
}

// run returns the process exit code. Every deferred release runs before main exits.
func run() int {
	path, err := configPath()
	if err != nil {
		fmt.Println("Failed to resolve config:", err)
		return 1
	}
	config, err := loadConfig(path)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		return 1
	}
	if err := logger.Init(config.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		return 1
	}
	defer logger.Sync()

	for _, line := range banner(path, config) {
		fmt.Println(line)
	}
	fmt.Println("")

	variant, release, err := buildVariant(config)
	if err != nil {
		logger.Log().Error("fatal", zap.Error(err))
		return 1
	}
	defer release()

	cam := camera.NewSensor(config.Camera.Source)
	defer cam.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session := pipeline.NewSession(cam, variant, nil)
	logger.With(logger.Sensor(session.ID, config.Variant)...)
	outs, closeOutputs, err := buildOutputs(config, session.ID)
	defer closeOutputs()
	if err != nil {
		logger.Log().Error("fatal", zap.Error(err))
		return 1
	}
	session.Output = outs
	session.SettleDelay = config.settle
	session.Poller = poll.WithTimeout(config.timeout)
	if config.Camera.Polled {
		session.Mode = iface.TransferPolled
	}

	metrics := monitor.NewMetrics()
	hub := api.NewHub()
	session.Recorder = metrics
	session.Observers = append(session.Observers, hub)

	if err := session.Setup(ctx); err != nil {
		return 1
	}

	var wg sync.WaitGroup
	if config.MetricsPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.StartMon(ctx, config.MetricsPort, metrics)
		}()
	}
	if config.APIPort > 0 {
		srv := api.NewServer(session, hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, config.APIPort); err != nil {
				logger.Log().Error("status api stopped", zap.Error(err))
			}
		}()
	}
	if config.RPCPort > 0 {
		rpc := backend.NewServer(session, cancel)
		if err := rpc.StartGRPCServer(config.RPCPort); err != nil {
			logger.Log().Error("fatal", zap.Error(iface.NewConfigError("gRPC", err)))
			return 1
		}
		rpc.SetServing(true)
		defer rpc.GracefulStop()
		defer rpc.SetServing(false)
	}
	if config.UseRegServer {
		ip, err := GetOutboundIP()
		if err != nil {
			logger.Log().Warn("Failed to get outbound IP", zap.Error(err))
		}
		var reg adhoc.RegServerConfig
		reg.SetAddress(config.RegServerHost, config.RegServerPort)
		hb := adhoc.NewHeartbeat(reg, ip, config.APIPort, config.Variant, session.Presence)
		hb.Id = session.ID
		wg.Add(1)
		go hb.SendAliveMessage(ctx, &wg)
	} else {
		logger.Log().Info("UseRegServer is set to false, skipping registration")
	}

	code := 0
	err = session.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log().Error("control loop stopped", zap.Error(err))
		code = 1
	}
	cancel()
	wg.Wait()
	logger.Log().Info("Safely exited")
	return code
}

func main() {
	os.Exit(run())
}
