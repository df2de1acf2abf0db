// rpl-watchdog - Real-time RPL (RFC 6550) attack and anomaly watchdog.
//
// It analyses the RPL control messages captured by border-router sniffers,
// reconciles the identified events against the registered protectors and
// reports the remaining findings to logs, Redis, PostgreSQL, MQTT and Kafka.
//
// Usage:
//
//	rpl-watchdog run --config=/etc/rpl-watchdog/config.yaml
//	rpl-watchdog replay capture.pcap
//
// Environment variables override any configuration key, e.g.:
//
//	RPL_WATCHDOG_REDIS_URL      - Redis URL
//	RPL_WATCHDOG_DATABASE_URL   - PostgreSQL URL
//	RPL_WATCHDOG_NODES_FILE     - Path to node label CSV file
//	RPL_WATCHDOG_STATE_FILE     - Path to the RPL state snapshot
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
