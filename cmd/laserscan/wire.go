package main

import (
	"github.com/banshee-data/laserscan/internal/camera"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/laser"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/slicestore"
	"github.com/banshee-data/laserscan/internal/turntable"
)

func cameraOpener(cfg *config.SessionConfig, log monitoring.Logger) camera.Opener {
	cc := cfg.Camera
	if cc.GetSource() == config.CameraSourceReplay {
		return camera.OpenReplay(camera.ReplayConfig{Dir: cc.GetReplayDir(), Logger: log})
	}
	return camera.Open(camera.HTTPConfig{
		URL:     cc.SnapshotURL(cfg.GetCameraIndex()),
		Timeout: cc.GetTimeout(),
		Logger:  log,
	})
}

func laserOpener(lc *config.LaserConfig, log monitoring.Logger) laser.Opener {
	if lc.GetDriver() != config.LaserDriverSerial {
		return laser.OpenManual(log)
	}
	return laser.OpenRelay(laser.RelayConfig{
		Path: lc.GetPort(),
		Options: laser.PortOptions{
			BaudRate: lc.GetBaudRate(),
			DataBits: lc.GetDataBits(),
			StopBits: lc.GetStopBits(),
			Parity:   lc.GetParity(),
		},
		OnCommand:  lc.GetOnCommand(),
		OffCommand: lc.GetOffCommand(),
		Logger:     log,
	})
}

func newTurntable(cfg *config.SessionConfig, baseURL string, log monitoring.Logger) *turntable.Client {
	if baseURL == "" {
		baseURL = cfg.GetTurntableBaseURL()
	}
	return turntable.NewClient(turntable.Config{
		BaseURL: baseURL,
		Timeout: cfg.Sync.GetHTTPTimeout(),
		Logger:  log,
	})
}

func newStore(cfg *config.SessionConfig, log monitoring.Logger) *slicestore.Store {
	return slicestore.New(slicestore.Config{
		Root:        cfg.GetOutputDir(),
		Format:      cfg.GetSliceFormat(),
		JPEGQuality: cfg.Camera.GetJPEGQuality(),
		Logger:      log,
	})
}
