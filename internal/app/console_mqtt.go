// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/inertial_computer/internal/config"
	"github.com/relabs-tech/inertial_computer/internal/orientation"
	"github.com/relabs-tech/inertial_computer/internal/vio"
)

func RunConsoleMQTT() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to the VIO pose topic and print the fused estimate, both
	// as roll/pitch/yaw and as a world-frame position.
	token := client.Subscribe(cfg.TopicVIOPose, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p vio.PoseSample
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("MQTT payload unmarshal error: %v", err)
			return
		}

		euler := orientation.FromRotation(p.R)
		fmt.Printf(
			"ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f  POS=[%6.2f %6.2f %6.2f]\n",
			euler.Roll, euler.Pitch, euler.Yaw,
			p.P[0], p.P[1], p.P[2],
		)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console subscribed to MQTT topic %s", cfg.TopicVIOPose)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console shutting down")
	client.Disconnect(250)
	return nil
}
