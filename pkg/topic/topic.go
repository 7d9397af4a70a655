// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topic implements the bidirectional MQTT <-> AMQP routing-key
// transform. It is a small, self-contained environment service per the
// spec's component list, not part of the processor's own logic.
package topic

import "strings"

const (
	mqttLevelSep   = "/"
	amqpLevelSep   = "."
	mqttSingleWild = "+"
	amqpSingleWild = "*"
	escapedDot     = "%2E"
	escapedStar    = "%2A"
	escapedPercent = "%25"
)

// MQTTToAMQP converts an MQTT topic name or filter into an AMQP topic
// exchange routing key: "/" becomes ".", "+" becomes "*", "#" is left
// untouched (it means the same thing in both), and any literal ".", "*"
// or "%" is percent-escaped so the mapping is invertible.
func MQTTToAMQP(mqttTopic string) string {
	escaped := strings.NewReplacer(
		"%", escapedPercent,
		".", escapedDot,
		"*", escapedStar,
	).Replace(mqttTopic)

	escaped = strings.ReplaceAll(escaped, mqttSingleWild, amqpSingleWild)
	return strings.ReplaceAll(escaped, mqttLevelSep, amqpLevelSep)
}

// AMQPToMQTT reverses MQTTToAMQP.
func AMQPToMQTT(routingKey string) string {
	unescaped := strings.ReplaceAll(routingKey, amqpLevelSep, mqttLevelSep)
	unescaped = strings.ReplaceAll(unescaped, amqpSingleWild, mqttSingleWild)

	return strings.NewReplacer(
		escapedDot, ".",
		escapedStar, "*",
		escapedPercent, "%",
	).Replace(unescaped)
}
