// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command mqttctl is a small operator CLI for debugging the bridge's
// deterministic per-client queue naming.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/c3pb/rabbitmq-mqtt/pkg/queue"
)

func main() {
	if len(os.Args) < 3 || os.Args[1] != "queues" {
		usage()
		os.Exit(1)
	}

	clientID := os.Args[2]
	qos0, qos1 := queue.Names(clientID)

	fmt.Printf("%s %s\n", color.CyanString("client_id"), clientID)
	fmt.Printf("  %s %s\n", color.GreenString("qos0"), qos0)
	fmt.Printf("  %s %s\n", color.GreenString("qos1"), qos1)
}

func usage() {
	fmt.Fprintln(os.Stderr, color.YellowString("usage: mqttctl queues <client-id>"))
}
