// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/inertial_computer/internal/association"
	"github.com/relabs-tech/inertial_computer/internal/calibration"
	"github.com/relabs-tech/inertial_computer/internal/camera"
	"github.com/relabs-tech/inertial_computer/internal/config"
	imu_raw "github.com/relabs-tech/inertial_computer/internal/imu"
	"github.com/relabs-tech/inertial_computer/internal/sensors"
	"github.com/relabs-tech/inertial_computer/internal/solver"
	"github.com/relabs-tech/inertial_computer/internal/vio"
)

// RunVIONode wires the IMU hardware driver and the (currently placeholder)
// camera feed into the VIO frame orchestrator, and publishes its pose and
// point-cloud output over MQTT, mirroring the way RunInertialProducer
// wires sensors to MQTT for the legacy orientation path.
func RunVIONode() error {
	log.Println("starting inertial-computer VIO node")

	cfg := config.Get()

	imuManager := sensors.GetIMUManager()
	if err := imuManager.Init(); err != nil {
		log.Fatalf("failed to initialize IMU manager: %v", err)
		return err
	}

	ring := imu_raw.NewRingBuffer(cfg.VIORingBufferCapacity, imu_raw.NoiseParams{
		GyroNoise: cfg.VIOGyroNoiseStd,
		AccNoise:  cfg.VIOAccelNoiseStd,
		IMUFPS:    int(cfg.VIONominalIMUHz),
	})
	seedRingBias(ring, cfg)

	cam := &camera.Pinhole{
		Fx: cfg.VIOCamFx, Fy: cfg.VIOCamFy,
		Cx: cfg.VIOCamCx, Cy: cfg.VIOCamCy,
		W: cfg.VIOCamWidth, H: cfg.VIOCamHeight,
		Stereo: cfg.VIOStereo,
	}
	solv := solver.NewSquareRootEKF(cam)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDVIO)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("MQTT connect error: %v", token.Error())
		return token.Error()
	}
	defer client.Disconnect(250)

	onPose := func(p vio.PoseSample) {
		payload, err := json.Marshal(p)
		if err != nil {
			log.Printf("vio: pose marshal error: %v", err)
			return
		}
		if token := client.Publish(cfg.TopicVIOPose, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("vio: MQTT publish error (pose): %v", token.Error())
		}
	}
	onPoints := func(pts []vio.PointSample) {
		payload, err := json.Marshal(pts)
		if err != nil {
			log.Printf("vio: points marshal error: %v", err)
			return
		}
		if token := client.Publish(cfg.TopicVIOPoints, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("vio: MQTT publish error (points): %v", token.Error())
		}
	}

	var nominalFrameIntervalNs int64
	if cfg.VIONominalCameraHz > 0 {
		nominalFrameIntervalNs = int64(float64(time.Second) / cfg.VIONominalCameraHz)
	}

	vioCfg := vio.Config{
		Association: association.Config{
			MaxWindowSize:           cfg.VIOMaxWindowSize,
			MaxPointSize:            cfg.VIOMaxPointSize,
			MaxObsSize:              cfg.VIOMaxObsSize,
			MaxAdditionalMsckfPoint: cfg.VIOMaxAdditionalMsckfPoint,
			Stereo:                  cfg.VIOStereo,
		},
		ImageStartIndex:        cfg.VIOImageStartIndex,
		SerialRun:              cfg.VIOSerialRun,
		MaxRunFPS:              cfg.VIOMaxRunFPS,
		NominalFrameIntervalNs: nominalFrameIntervalNs,
	}

	orchestrator := vio.NewOrchestrator(ring, cam, solv, noopTracker{}, vioCfg, onPose, onPoints)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- orchestrator.Run(ctx) }()

	imuTicker := time.NewTicker(time.Duration(cfg.IMUSampleInterval) * time.Millisecond)
	defer imuTicker.Stop()

	var cameraTicker *time.Ticker
	if cfg.VIONominalCameraHz > 0 {
		cameraTicker = time.NewTicker(time.Duration(float64(time.Second) / cfg.VIONominalCameraHz))
		defer cameraTicker.Stop()
	}

	log.Println("vio node running: feeding IMU samples into the ring buffer")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-runErrCh:
			return err
		case at := <-imuTicker.C:
			if err := imuManager.FeedRingBuffer(ring, cfg, at); err != nil {
				log.Printf("vio: IMU feed error: %v", err)
			}
		case at := <-tickerChan(cameraTicker):
			// Real camera capture is an external collaborator (spec §1); this
			// pushes an empty frame purely to drive the estimation cycle
			// until a real image source and feature tracker are wired in.
			orchestrator.PushImage(vio.Image{TimestampNs: at.UnixNano()})
		}
	}
}

// tickerChan returns t.C, or a nil channel (which blocks forever in a
// select) when t is nil — lets the camera tick be optional.
func tickerChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// seedRingBias loads the most recent left-IMU calibration.Result written by
// cmd/calibration or the calibration wizard and applies its gyro/accel bias
// to ring before the VIO node starts consuming samples, rather than
// estimating bias from scratch via UpdateBiasByStatic convergence alone. A
// missing or unreadable calibration file is not fatal: the node still runs,
// just starting from zero bias.
func seedRingBias(ring *imu_raw.RingBuffer, cfg *config.Config) {
	res, err := calibration.LoadLatest(cfg.VIOCalibrationDir, "left")
	if err != nil {
		log.Printf("vio: no prior calibration found, starting from zero bias: %v", err)
		return
	}
	gyroBias, accelBias := res.PhysicalBias(cfg)
	ring.SetBias(gyroBias, accelBias)
	log.Printf("vio: seeded ring buffer bias from calibration at %s (confidence=%.2f)", res.CalibratedAt.Format(time.RFC3339), res.Confidence)
}
